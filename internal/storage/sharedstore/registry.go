package sharedstore

import (
	"context"
	"time"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/registry"
)

// Register records a new (kind, id). It is a DUPLICATE_ENTITY error to
// register an id already present for that kind.
func (s *Store) Register(ctx context.Context, kind registry.Kind, id, createdBy string, createdAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_registry (kind, entity_id, created_by, created_at)
		VALUES ($1, $2, $3, $4)`,
		kind, id, createdBy, createdAt.UTC())
	if err != nil {
		return apperr.DuplicateEntityError(string(kind) + " " + id + " already registered")
	}
	return nil
}

// List returns every registered id for kind, oldest first.
func (s *Store) List(ctx context.Context, kind registry.Kind) ([]registry.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, entity_id, created_by, created_at
		FROM entity_registry WHERE kind = $1 ORDER BY created_at`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Row
	for rows.Next() {
		var r registry.Row
		if err := rows.Scan(&r.Kind, &r.ID, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove deletes the (kind, id) registration.
func (s *Store) Remove(ctx context.Context, kind registry.Kind, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entity_registry WHERE kind = $1 AND entity_id = $2`, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundError(string(kind) + " " + id)
	}
	return nil
}

var _ registry.Store = (*Store)(nil)
