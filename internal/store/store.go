package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gridwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotNewer is returned by MarkNotified when the notification log
// already holds an equal or larger value for the same key.
var ErrNotNewer = errors.New("notification log already holds this value or newer")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store persists the snapshot, the fetch history and the notification
// log in a single SQLite file. It is the single writer; the polling
// pipeline never runs more than one cycle at a time.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Date and timestamp encodings. Both forms are understood by SQLite's
// julianday(), which the delta query leans on.
const (
	dateFormat = "2006-01-02"
	tsFormat   = "2006-01-02T15:04:05Z"
)

func encodeDate(t time.Time) string { return t.UTC().Format(dateFormat) }
func encodeTS(t time.Time) string   { return t.UTC().Format(tsFormat) }

func decodeDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateFormat, s, time.UTC)
}
