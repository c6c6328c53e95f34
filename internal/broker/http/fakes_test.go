package http

import (
	"context"
	"sync"
	"time"

	"spectralnotify/internal/domain/idempotency"
	"spectralnotify/internal/domain/registry"
)

// memIdempotencyStore is an in-memory stand-in for the Postgres-backed
// idempotency.Store, sufficient to exercise the middleware's lookup/insert
// contract without a live database.
type memIdempotencyStore struct {
	mu   sync.Mutex
	rows map[string]idempotency.Row
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{rows: make(map[string]idempotency.Row)}
}

func (s *memIdempotencyStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *memIdempotencyStore) Lookup(ctx context.Context, key string) (*idempotency.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok || time.Now().After(row.ExpiresAt) {
		return nil, nil
	}
	return &row, nil
}

func (s *memIdempotencyStore) Insert(ctx context.Context, key, endpoint string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[key]; ok {
		return nil
	}
	s.rows[key] = idempotency.Row{
		Key: key, Endpoint: endpoint, Response: response,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *memIdempotencyStore) ReapExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, row := range s.rows {
		if time.Now().After(row.ExpiresAt) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// memRegistryStore is an in-memory stand-in for the Postgres-backed
// registry.Store.
type memRegistryStore struct {
	mu   sync.Mutex
	rows map[registry.Kind]map[string]registry.Row
}

func newMemRegistryStore() *memRegistryStore {
	return &memRegistryStore{rows: map[registry.Kind]map[string]registry.Row{
		registry.KindTask:     {},
		registry.KindWorkflow: {},
	}}
}

func (s *memRegistryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *memRegistryStore) Register(ctx context.Context, kind registry.Kind, id, createdBy string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[kind][id] = registry.Row{Kind: kind, ID: id, CreatedBy: createdBy, CreatedAt: createdAt}
	return nil
}

func (s *memRegistryStore) List(ctx context.Context, kind registry.Kind) ([]registry.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]registry.Row, 0, len(s.rows[kind]))
	for _, row := range s.rows[kind] {
		out = append(out, row)
	}
	return out, nil
}

func (s *memRegistryStore) Remove(ctx context.Context, kind registry.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[kind], id)
	return nil
}
