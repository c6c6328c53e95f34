// Package task defines the task entity: its metadata row, its append-only
// history, and the persistence port an instance store must satisfy.
package task

import (
	"context"
	"encoding/json"
	"time"

	"spectralnotify/internal/domain/status"
)

// EventType classifies a task history row.
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventSuccess  EventType = "success"
	EventCancel   EventType = "cancel"
)

// Task is the metadata row for a single task entity.
type Task struct {
	TaskID      string          `json:"taskId"`
	Status      status.Status   `json:"status"`
	Progress    *int            `json:"progress,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	FailedAt    *time.Time      `json:"failedAt,omitempty"`
	CanceledAt  *time.Time      `json:"canceledAt,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// HistoryEvent is one append-only row in a task's history.
type HistoryEvent struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"taskId"`
	EventType EventType       `json:"eventType"`
	Message   string          `json:"message,omitempty"`
	Progress  *int            `json:"progress,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// CreateParams describes a new task at creation time.
type CreateParams struct {
	TaskID   string
	Metadata json.RawMessage
}

// Store is the persistence port a storage backend implements for tasks.
// Every mutating method is expected to run inside the caller's single-writer
// scope for the given task ID; the store itself does not serialize across
// concurrent calls for the same ID.
type Store interface {
	EnsureSchema(ctx context.Context) error

	Create(ctx context.Context, p CreateParams) (*Task, error)
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	History(ctx context.Context, taskID string, limit int) ([]HistoryEvent, error)

	// UpdateProgress transitions pending->in-progress on first call, clamps
	// progress to [0,100], appends a "progress" history row, and returns the
	// updated task plus the appended row.
	UpdateProgress(ctx context.Context, taskID string, progress int, message string) (*Task, HistoryEvent, error)

	// AppendEvent appends an arbitrary history row without necessarily
	// changing status (unless eventType implies a terminal transition, which
	// callers route through Complete/Fail/Cancel instead).
	AppendEvent(ctx context.Context, taskID string, eventType EventType, message string, progress *int, metadata json.RawMessage) (*Task, HistoryEvent, error)

	Complete(ctx context.Context, taskID string) (*Task, HistoryEvent, error)
	Fail(ctx context.Context, taskID string, errMessage string) (*Task, HistoryEvent, error)
	Cancel(ctx context.Context, taskID string) (*Task, HistoryEvent, error)

	Delete(ctx context.Context, taskID string) error
}
