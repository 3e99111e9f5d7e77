// Package store persists Steward's state in a single embedded SQLite
// database: conversations, user memories, scheduled tasks and their
// executions, pending notifications, failures, credentials, settings,
// and the tool execution audit trail.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Sentinel errors returned by store lookups.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store wraps the SQLite database handle. All methods are safe for
// concurrent use; writes are serialized through a single connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (creating if necessary) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and
	// serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT,
			platform   TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(user_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			tool_calls      TEXT,
			tool_call_id    TEXT,
			name            TEXT,
			created_at      DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id    TEXT NOT NULL,
			service    TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY(user_id, service, key)
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id    TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY(user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			platform    TEXT NOT NULL,
			tool_name   TEXT NOT NULL,
			arguments   TEXT,
			result      TEXT,
			success     INTEGER NOT NULL,
			error       TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_approvals (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			tool_name   TEXT NOT NULL,
			description TEXT,
			amount      REAL,
			outcome     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			resolved_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			platform      TEXT NOT NULL,
			name          TEXT NOT NULL,
			prompt        TEXT NOT NULL,
			schedule_type TEXT NOT NULL,
			schedule_data TEXT NOT NULL,
			created_at    DATETIME NOT NULL,
			next_run      DATETIME NOT NULL,
			last_run      DATETIME,
			run_count     INTEGER NOT NULL DEFAULT 0,
			enabled       INTEGER NOT NULL DEFAULT 1,
			UNIQUE(user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_executions (
			id        TEXT PRIMARY KEY,
			task_id   TEXT NOT NULL,
			task_name TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			platform  TEXT NOT NULL,
			result    TEXT,
			success   INTEGER NOT NULL,
			ran_at    DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_notifications (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			platform     TEXT NOT NULL,
			message      TEXT NOT NULL,
			created_at   DATETIME NOT NULL,
			delivered    INTEGER NOT NULL DEFAULT 0,
			delivered_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS user_memories (
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source     TEXT,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY(user_id, type, key)
		)`,
		`CREATE TABLE IF NOT EXISTS failures (
			id               TEXT PRIMARY KEY,
			timestamp        DATETIME NOT NULL,
			tool_name        TEXT NOT NULL,
			error_kind       TEXT NOT NULL,
			error_text       TEXT NOT NULL,
			arguments        TEXT,
			user_id          TEXT,
			platform         TEXT,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			resolved         INTEGER NOT NULL DEFAULT 0,
			resolution_notes TEXT
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_tool_executions_user ON tool_executions(user_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(enabled, next_run)",
		"CREATE INDEX IF NOT EXISTS idx_executions_task ON scheduled_executions(task_id, ran_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_pending ON scheduled_notifications(delivered, platform)",
		"CREATE INDEX IF NOT EXISTS idx_failures_open ON failures(resolved, tool_name, error_kind)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// truncate limits s to max characters.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
