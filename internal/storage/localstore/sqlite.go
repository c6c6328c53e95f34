// Package localstore backs the per-entity Entity Instance with an embedded,
// single-writer SQL store: one physical database shared by every instance,
// scoped by ID in every query.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
)

// Store implements task.Store and workflow.Store on top of a single SQLite
// database opened with max one connection, mirroring the single-writer
// discipline the instance layer already enforces in-process.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if absent) the SQLite database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.OrNop(logger)}
	if err := s.configurePragmas(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates all task and workflow tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			progress INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT,
			failed_at TEXT,
			canceled_at TEXT,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT,
			progress INTEGER,
			timestamp TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id, id)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			overall_progress INTEGER NOT NULL DEFAULT 0,
			expected_phase_count INTEGER NOT NULL DEFAULT 0,
			completed_phase_count INTEGER NOT NULL DEFAULT 0,
			active_phase_key TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT,
			failed_at TEXT,
			canceled_at TEXT,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_phases (
			workflow_id TEXT NOT NULL,
			phase_key TEXT NOT NULL,
			label TEXT,
			weight REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			order_idx INTEGER NOT NULL,
			started_at TEXT,
			updated_at TEXT,
			completed_at TEXT,
			PRIMARY KEY (workflow_id, phase_key)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			phase_key TEXT,
			event_type TEXT NOT NULL,
			message TEXT,
			progress INTEGER,
			timestamp TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_history_workflow_id ON workflow_history(workflow_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableMetadata(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

var _ task.Store = (*Store)(nil)
var _ workflow.Store = (*Store)(nil)
