// Package workflow defines the workflow entity, its weighted phase
// sub-machine, and the persistence port an instance store must satisfy.
package workflow

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"spectralnotify/internal/domain/status"
)

// EventType classifies a workflow history row.
type EventType string

const (
	EventLog             EventType = "log"
	EventPhaseProgress   EventType = "phase-progress"
	EventWorkflowProgress EventType = "workflow-progress"
	EventError           EventType = "error"
	EventSuccess         EventType = "success"
	EventCancel          EventType = "cancel"
)

// Phase is one weighted sub-step of a workflow.
type Phase struct {
	PhaseKey    string        `json:"phaseKey"`
	Label       string        `json:"label,omitempty"`
	Weight      float64       `json:"weight"`
	Status      status.Status `json:"status"`
	Progress    int           `json:"progress"`
	Order       int           `json:"order"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	UpdatedAt   *time.Time    `json:"updatedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Workflow is the metadata row for a single workflow entity.
type Workflow struct {
	WorkflowID          string          `json:"workflowId"`
	Status              status.Status   `json:"status"`
	OverallProgress     int             `json:"overallProgress"`
	ExpectedPhaseCount  int             `json:"expectedPhaseCount"`
	CompletedPhaseCount int             `json:"completedPhaseCount"`
	ActivePhaseKey      *string         `json:"activePhaseKey,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	FailedAt            *time.Time      `json:"failedAt,omitempty"`
	CanceledAt          *time.Time      `json:"canceledAt,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
}

// HistoryEvent is one append-only row in a workflow's history.
type HistoryEvent struct {
	ID        int64           `json:"id"`
	WorkflowID string         `json:"workflowId"`
	PhaseKey  *string         `json:"phaseKey,omitempty"`
	EventType EventType       `json:"eventType"`
	Message   string          `json:"message,omitempty"`
	Progress  *int            `json:"progress,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// PhaseSpec describes a phase at workflow creation time.
type PhaseSpec struct {
	PhaseKey string
	Label    string
	Weight   float64
}

// CreateParams describes a new workflow at creation time.
type CreateParams struct {
	WorkflowID string
	Phases     []PhaseSpec
	Metadata   json.RawMessage
}

// Store is the persistence port a storage backend implements for workflows.
type Store interface {
	EnsureSchema(ctx context.Context) error

	Create(ctx context.Context, p CreateParams) (*Workflow, []Phase, error)
	Get(ctx context.Context, workflowID string) (*Workflow, error)
	List(ctx context.Context) ([]*Workflow, error)
	Phases(ctx context.Context, workflowID string) ([]Phase, error)
	History(ctx context.Context, workflowID string, limit int) ([]HistoryEvent, error)

	UpdatePhaseProgress(ctx context.Context, workflowID, phaseKey string, progress int) (*Workflow, []Phase, HistoryEvent, error)
	CompletePhase(ctx context.Context, workflowID, phaseKey string) (*Workflow, []Phase, HistoryEvent, error)

	// Complete transitions the workflow to success. If strictCompletion is
	// false (the default), any non-terminal phase is auto-completed to
	// success first; if true, Complete fails with a validation error unless
	// every phase is already terminal.
	Complete(ctx context.Context, workflowID string, strictCompletion bool) (*Workflow, []Phase, HistoryEvent, error)
	Fail(ctx context.Context, workflowID string, errMessage string) (*Workflow, []Phase, HistoryEvent, error)
	Cancel(ctx context.Context, workflowID string) (*Workflow, []Phase, HistoryEvent, error)

	Delete(ctx context.Context, workflowID string) error
}

// OverallProgress computes the weight-rounded average of phase progress, or
// the 0/100 edge cases when total weight is zero.
func OverallProgress(phases []Phase) int {
	if len(phases) == 0 {
		return 0
	}
	var totalWeight, weighted float64
	allSuccess := true
	for _, p := range phases {
		totalWeight += p.Weight
		weighted += float64(p.Progress) * p.Weight
		if p.Status != status.Success {
			allSuccess = false
		}
	}
	if totalWeight == 0 {
		if allSuccess {
			return 100
		}
		return 0
	}
	return int(math.Round(weighted / totalWeight))
}

// DerivedFields computes completedPhaseCount and activePhaseKey.
func DerivedFields(phases []Phase) (completed int, activeKey *string) {
	var active *Phase
	for i := range phases {
		p := &phases[i]
		if p.Status == status.Success {
			completed++
		}
		if !p.Status.IsTerminal() {
			if active == nil || p.Order < active.Order {
				active = p
			}
		}
	}
	if active != nil {
		k := active.PhaseKey
		activeKey = &k
	}
	return completed, activeKey
}
