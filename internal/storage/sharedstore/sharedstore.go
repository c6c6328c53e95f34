// Package sharedstore backs the Identity & Registry and Idempotency Store
// ports with Postgres: the two pieces of state shared across every broker
// instance rather than kept per-instance local.
package sharedstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"spectralnotify/internal/platform/logging"
)

// Store implements idempotency.Store and registry.Store on a shared
// Postgres pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// Open parses dsn and opens a connection pool against it.
func Open(ctx context.Context, dsn string, logger logging.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, logger: logging.OrNop(logger)}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema creates the idempotency and registry tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			idempotency_key TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			response BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires ON idempotency_keys (expires_at)`,
		`CREATE TABLE IF NOT EXISTS entity_registry (
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (kind, entity_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure shared schema: %w", err)
		}
	}
	return nil
}
