package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appErrors "updateinfo/internal/errors"

	"github.com/spf13/viper"
)

const (
	KeyChannel = "channel"

	KeyManifestURL      = "manifest.url"
	KeyManifestFile     = "manifest.file"
	KeyManifestDatabase = "manifest.database"
	KeyManifestFormat   = "manifest.format"

	KeyFetchTimeout = "fetch.timeout"

	KeyOutputFormat = "output.format"
	KeyOutputWidth  = "output.width"
	KeyDebug        = "debug"
)

const (
	// DefaultChannel is the update track used when nothing is configured.
	DefaultChannel = "stable"
	// DefaultManifestURL is where the channel manifest is published.
	DefaultManifestURL = "https://updates.updateinfo.dev/v1/channels.json"
	// DefaultFetchTimeout bounds the single manifest request.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultOutputWidth is the wrap width used for changelog bodies.
	DefaultOutputWidth = 80

	configDirName = ".updateinfo"
	envPrefix     = "UPDATEINFO"
)

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error

	// userConfigPathOverride is used by tests to override the user config path.
	userConfigPathOverride string
	// workingDirOverride pins project config discovery for SaveActiveChannel.
	workingDirOverride string
)

// Initialize loads configuration using the precedence:
// defaults < user config < project config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// FetchTimeout returns the configured manifest timeout, falling back to the
// default for zero or negative values.
func FetchTimeout() time.Duration {
	d := GetDuration(KeyFetchTimeout)
	if d <= 0 {
		return DefaultFetchTimeout
	}
	return d
}

// OutputWidth returns the configured wrap width, never below 20 columns.
func OutputWidth() int {
	w := GetInt(KeyOutputWidth)
	if w <= 0 {
		return DefaultOutputWidth
	}
	if w < 20 {
		return 20
	}
	return w
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

func configure(settings *initSettings) error {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir)
		if err != nil {
			return err
		}
		projectConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, "load user config", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, "load project config", err)
	}
	normalizeChannel(v)

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and project config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, configDirName, "config.yaml"), nil
}

func findProjectConfig(startDir string) (string, error) {
	if strings.TrimSpace(startDir) == "" {
		return "", nil
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, configDirName, "config.yaml")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyChannel, DefaultChannel)
	v.SetDefault(KeyManifestURL, DefaultManifestURL)
	v.SetDefault(KeyManifestFile, "")
	v.SetDefault(KeyManifestDatabase, "")
	v.SetDefault(KeyManifestFormat, "auto")
	v.SetDefault(KeyFetchTimeout, DefaultFetchTimeout)
	v.SetDefault(KeyOutputFormat, "rich")
	v.SetDefault(KeyOutputWidth, DefaultOutputWidth)
	v.SetDefault(KeyDebug, false)
}

// normalizeChannel trims the configured channel and restores the default
// when it is blank.
func normalizeChannel(v *viper.Viper) {
	name := strings.TrimSpace(v.GetString(KeyChannel))
	if name == "" {
		name = DefaultChannel
	}
	v.Set(KeyChannel, name)
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
	userConfigPathOverride = ""
	workingDirOverride = ""
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	userConfigPathOverride = filepath.Join(tmp, "user", "config.yaml")
	workingDirOverride = tmp
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(userConfigPathOverride))
	return reset
}

// ActiveChannelPreference exposes the persisted channel setting. It reads the
// current value on every call so runtime changes are honoured.
type ActiveChannelPreference struct{}

// ActiveChannelName returns the configured update channel.
func (ActiveChannelPreference) ActiveChannelName() string {
	return strings.TrimSpace(GetString(KeyChannel))
}

// SaveActiveChannel persists the channel name to the appropriate config file
// and updates the running configuration.
// If a project config (.updateinfo/config.yaml) exists, it updates that file.
// Otherwise, it updates the user config (~/.updateinfo/config.yaml).
// The user config directory is auto-created if needed, but project config
// directories are never auto-created.
func SaveActiveChannel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is empty")
	}

	targetPath, err := findWritableConfigPath()
	if err != nil {
		return fmt.Errorf("find config path: %w", err)
	}

	// Fresh viper instance so only this file's settings are rewritten.
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(targetPath)
	_ = v.ReadInConfig() // ignore error if file doesn't exist

	v.Set(KeyChannel, name)

	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(targetPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return Set(KeyChannel, name)
}

// findWritableConfigPath determines which config file to write to.
// Returns project config path if it exists, otherwise user config path.
func findWritableConfigPath() (string, error) {
	wd := workingDirOverride
	if wd == "" {
		if cwd, err := os.Getwd(); err == nil {
			wd = cwd
		}
	}
	if wd != "" {
		projectPath, err := findProjectConfig(wd)
		if err == nil && projectPath != "" {
			return projectPath, nil
		}
	}

	if userConfigPathOverride != "" {
		return userConfigPathOverride, nil
	}
	return defaultUserConfigPath()
}
