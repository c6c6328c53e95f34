// Package registry defines the Identity & Registry port: a shared
// cross-entity table of known IDs per kind.
package registry

import (
	"context"
	"time"
)

// Kind is an entity kind: "task" or "workflow".
type Kind string

const (
	KindTask     Kind = "task"
	KindWorkflow Kind = "workflow"
)

// Row is one registered entity.
type Row struct {
	Kind      Kind
	ID        string
	CreatedAt time.Time
	CreatedBy string
}

// Store is the persistence port for the registry table.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// Register records a new (kind, id); it is a DUPLICATE_ENTITY error to
	// register an id already present for that kind.
	Register(ctx context.Context, kind Kind, id, createdBy string, createdAt time.Time) error

	List(ctx context.Context, kind Kind) ([]Row, error)

	Remove(ctx context.Context, kind Kind, id string) error
}
