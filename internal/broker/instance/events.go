package instance

import (
	"time"

	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
)

// Event shapes below are the WebSocket wire contract; field names matter.

type taskEventPayload struct {
	EventType task.EventType `json:"eventType"`
	Message   string         `json:"message"`
	Progress  *int           `json:"progress,omitempty"`
	Metadata  any            `json:"metadata,omitempty"`
}

// TaskEventFrame is the `{type:"event", ...}` frame emitted for log/error/
// progress/success/cancel history rows that don't have their own frame type.
type TaskEventFrame struct {
	Type      string            `json:"type"`
	Task      *task.Task        `json:"task"`
	Event     taskEventPayload  `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
}

// TaskProgressFrame is the `{type:"progress", ...}` frame.
type TaskProgressFrame struct {
	Type      string     `json:"type"`
	Task      *task.Task `json:"task"`
	Progress  int        `json:"progress"`
	Timestamp time.Time  `json:"timestamp"`
}

// TaskTerminalFrame is the `{type:"complete"|"fail"|"cancel", ...}` frame.
type TaskTerminalFrame struct {
	Type      string     `json:"type"`
	Task      *task.Task `json:"task"`
	Timestamp time.Time  `json:"timestamp"`
}

// WorkflowPhaseProgressFrame is the `{type:"phase-progress", ...}` frame.
type WorkflowPhaseProgressFrame struct {
	Type            string             `json:"type"`
	WorkflowID      string             `json:"workflowId"`
	Phase           string             `json:"phase"`
	Progress        int                `json:"progress"`
	OverallProgress int                `json:"overallProgress"`
	Workflow        *workflow.Workflow `json:"workflow"`
	Phases          []workflow.Phase   `json:"phases"`
	Timestamp       time.Time          `json:"timestamp"`
}

// WorkflowProgressFrame is the `{type:"workflow-progress", ...}` frame. No
// WorkflowInstance operation broadcasts it; phase writes send
// WorkflowPhaseProgressFrame and terminal writes send WorkflowTerminalFrame.
type WorkflowProgressFrame struct {
	Type            string             `json:"type"`
	WorkflowID      string             `json:"workflowId"`
	OverallProgress int                `json:"overallProgress"`
	Workflow        *workflow.Workflow `json:"workflow"`
	Phases          []workflow.Phase   `json:"phases"`
	Timestamp       time.Time          `json:"timestamp"`
}

// WorkflowTerminalFrame is the `{type:"complete"|"fail"|"cancel", ...}` frame.
type WorkflowTerminalFrame struct {
	Type       string             `json:"type"`
	WorkflowID string             `json:"workflowId"`
	Workflow   *workflow.Workflow `json:"workflow"`
	Phases     []workflow.Phase   `json:"phases"`
	Timestamp  time.Time          `json:"timestamp"`
	Error      string             `json:"error,omitempty"`
}

// ErrorFrame is the out-of-band protocol error frame sent just before a
// WebSocket subscribe is rejected (invalid kind or empty id). An unknown
// entity ID is not rejected.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
