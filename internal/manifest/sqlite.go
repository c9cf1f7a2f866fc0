package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly
)

// SQLiteSource reads the newest manifest snapshot from an offline mirror
// database. The mirror is written by a separate sync job; this source only
// ever opens it read-only.
//
// Expected schema:
//
//	CREATE TABLE manifests (
//	    id         INTEGER PRIMARY KEY,
//	    fetched_at TEXT NOT NULL,
//	    payload    BLOB NOT NULL
//	);
type SQLiteSource struct {
	dbPath string
	dsn    string
}

// NewSQLiteSource constructs a source for the mirror at dbPath.
func NewSQLiteSource(dbPath string) *SQLiteSource {
	trimmed := strings.TrimSpace(dbPath)
	return &SQLiteSource{
		dbPath: trimmed,
		dsn:    buildSQLiteDSN(trimmed),
	}
}

// buildSQLiteDSN creates a read-only WAL DSN for the given path.
func buildSQLiteDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "3000")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *SQLiteSource) openDB(ctx context.Context) (*sql.DB, error) {
	if s.dbPath == "" {
		return nil, fmt.Errorf("open mirror db: empty path")
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mirror db: %w", err)
	}
	return db, nil
}

// FetchManifest returns the payload of the most recently fetched snapshot.
func (s *SQLiteSource) FetchManifest(ctx context.Context) ([]byte, error) {
	db, err := s.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload
		FROM manifests
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshots in %s", ErrNotFound, s.dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("query manifest snapshot: %w", err)
	}
	if len(payload) > maxManifestBytes {
		return nil, ErrTooLarge
	}
	return payload, nil
}

// String identifies the source in logs.
func (s *SQLiteSource) String() string {
	return "sqlite://" + s.dbPath
}
