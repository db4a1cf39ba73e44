package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedbot/pkg/logx"
)

// Config configures the sqlite task store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the durable table of task records. It owns no scheduling logic;
// every operation is a single atomic statement scoped by (id, chat_id).
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// migrations is the ordered, additive schema history. Entries are applied
// exactly once, tracked by PRAGMA user_version. Never edit an applied entry;
// append a new one.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id  INTEGER NOT NULL,
		prompt   TEXT NOT NULL,
		hour     INTEGER NOT NULL DEFAULT 0,
		minute   INTEGER NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		run_at   TEXT
	)`,
	`ALTER TABLE tasks ADD COLUMN paused INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE tasks ADD COLUMN interval_minutes INTEGER`,
	`ALTER TABLE tasks ADD COLUMN name TEXT`,
	`ALTER TABLE tasks ADD COLUMN days_of_week TEXT`,
	`ALTER TABLE tasks ADD COLUMN is_reminder INTEGER NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_chat ON tasks(chat_id)`,
}

// Open initializes the store, creating the database file and applying any
// pending migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
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

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this binary (max %d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", i+1))
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
