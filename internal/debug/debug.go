// Package debug provides opt-in file logging for updateinfo.
// Logging is only enabled when -debug is passed (or debug: true is configured).
// Logs are written to ~/.updateinfo/debug.log, truncated on each launch.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".updateinfo"
)

var (
	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
	logFile *os.File

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

// Init initializes the debug logging system.
// If enable is false, all logging operations become no-ops.
// If enable is true, the log file is created/truncated at ~/.updateinfo/debug.log.
func Init(enable bool) error {
	if !enable {
		mu.Lock()
		defer mu.Unlock()
		closeLocked()
		enabled = false
		logger = log.New(io.Discard, "", 0)
		return nil
	}

	logPath, err := getLogPath()
	if err != nil {
		return fmt.Errorf("determine log path: %w", err)
	}

	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	//nolint:gosec // G304: Log path is computed from user home, not user input
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	logFile = f
	attachLocked(f)
	return nil
}

// InitWriter enables logging to w instead of the log file. The caller owns w.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	if w == nil {
		enabled = false
		logger = log.New(io.Discard, "", 0)
		return
	}
	attachLocked(w)
}

func attachLocked(w io.Writer) {
	enabled = true
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	logger.Printf("=== updateinfo debug log started at %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
}

// Close closes the debug log file if open.
// Safe to call even if logging is disabled.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Log writes a debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Print.
func Log(v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Print(v...)
}

// Logf writes a formatted debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Printf(format, v...)
}

// Scope returns a Logf variant that tags every line with "[name] ".
func Scope(name string) func(format string, v ...any) {
	prefix := "[" + name + "] "
	return func(format string, v ...any) {
		Logf(prefix+format, v...)
	}
}

// Enabled returns whether debug logging is currently enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// defaultGetLogPath returns the path to the debug log file.
func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// GetLogPath returns the path to the debug log file.
func GetLogPath() (string, error) {
	return getLogPath()
}
