package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/registry"
	"spectralnotify/internal/domain/task"
)

type createTaskRequest struct {
	ID       string          `json:"id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (d Deps) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}

	t, err := d.TaskStore.Create(c.Request.Context(), task.CreateParams{TaskID: req.ID, Metadata: req.Metadata})
	if err != nil {
		writeMappedError(c, err)
		return
	}
	if err := d.Registry.Register(c.Request.Context(), registry.KindTask, req.ID, callerIdentity(c), t.CreatedAt); err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

type idRequest struct {
	ID string `json:"id"`
}

func (d Deps) handleGetTask(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	t, err := d.TaskStore.Get(c.Request.Context(), req.ID)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (d Deps) handleListTasks(c *gin.Context) {
	rows, err := d.Registry.List(c.Request.Context(), registry.KindTask)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		t, err := d.TaskStore.Get(c.Request.Context(), row.ID)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	c.JSON(http.StatusOK, out)
}

type historyRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

func (d Deps) handleTaskHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	events, err := d.TaskStore.History(c.Request.Context(), req.ID, req.Limit)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

type updateProgressRequest struct {
	TaskID   string `json:"taskId"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

func (d Deps) handleUpdateTaskProgress(c *gin.Context) {
	var req updateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		writeMappedError(c, apperr.ValidationError("taskId is required"))
		return
	}
	t, err := d.Directory.Task(req.TaskID).UpdateProgress(c.Request.Context(), req.Progress, req.Message)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type appendEventRequest struct {
	TaskID   string          `json:"taskId"`
	Type     task.EventType  `json:"type"`
	Message  string          `json:"message"`
	Progress *int            `json:"progress,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

var validTaskEventTypes = map[task.EventType]bool{
	task.EventLog: true, task.EventProgress: true, task.EventError: true,
	task.EventSuccess: true, task.EventCancel: true,
}

func (d Deps) handleAppendTaskEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		writeMappedError(c, apperr.ValidationError("taskId is required"))
		return
	}
	if !validTaskEventTypes[req.Type] {
		writeMappedError(c, apperr.ValidationError("unknown eventType "+string(req.Type)))
		return
	}
	t, err := d.Directory.Task(req.TaskID).AppendEvent(c.Request.Context(), req.Type, req.Message, req.Progress, req.Metadata)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type taskIDRequest struct {
	TaskID string `json:"taskId"`
}

func (d Deps) handleCompleteTask(c *gin.Context) {
	var req taskIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		writeMappedError(c, apperr.ValidationError("taskId is required"))
		return
	}
	t, err := d.Directory.Task(req.TaskID).Complete(c.Request.Context())
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type taskErrorRequest struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

func (d Deps) handleFailTask(c *gin.Context) {
	var req taskErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		writeMappedError(c, apperr.ValidationError("taskId is required"))
		return
	}
	t, err := d.Directory.Task(req.TaskID).Fail(c.Request.Context(), req.Error)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (d Deps) handleCancelTask(c *gin.Context) {
	var req taskIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		writeMappedError(c, apperr.ValidationError("taskId is required"))
		return
	}
	t, err := d.Directory.Task(req.TaskID).Cancel(c.Request.Context())
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func callerIdentity(c *gin.Context) string {
	if v := c.GetHeader("X-API-Key"); v != "" {
		return "api-key"
	}
	return ""
}
