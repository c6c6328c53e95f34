package sharedstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"spectralnotify/internal/domain/idempotency"
)

// Lookup returns the cached row for key, or (nil, nil) if absent or expired.
func (s *Store) Lookup(ctx context.Context, key string) (*idempotency.Row, error) {
	var row idempotency.Row
	err := s.pool.QueryRow(ctx, `
		SELECT idempotency_key, endpoint, response, created_at, expires_at
		FROM idempotency_keys WHERE idempotency_key = $1`, key,
	).Scan(&row.Key, &row.Endpoint, &row.Response, &row.CreatedAt, &row.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return nil, nil
	}
	return &row, nil
}

// Insert records a new row for key. ON CONFLICT DO NOTHING: callers already
// checked Lookup and are expected to treat a pre-existing differing row as
// IDEMPOTENCY_CONFLICT before calling Insert.
func (s *Store) Insert(ctx context.Context, key, endpoint string, response []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, endpoint, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, endpoint, response, now, now.Add(ttl))
	return err
}

// ReapExpired deletes up to idempotency.MaxReapPerWrite expired rows.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key IN (
			SELECT idempotency_key FROM idempotency_keys
			WHERE expires_at < $1
			LIMIT $2
		)
		RETURNING idempotency_key`, time.Now().UTC(), idempotency.MaxReapPerWrite)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

var _ idempotency.Store = (*Store)(nil)
