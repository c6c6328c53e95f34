package instance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spectralnotify/internal/broker/fanout"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/platform/logging"
)

// TaskInstance is the single-writer coordinator for one task. writeMu
// serializes mutating operations end-to-end, from store mutation through
// broadcast, so that history order, emission order, and per-socket
// delivery order coincide.
type TaskInstance struct {
	taskID string
	store  task.Store
	hub    *fanout.Hub
	writeMu sync.Mutex
	logger logging.Logger
}

func newTaskInstance(taskID string, store task.Store, fanoutCfg fanout.Config, logger logging.Logger, onEvict func()) *TaskInstance {
	return &TaskInstance{
		taskID: taskID,
		store:  store,
		hub:    fanout.NewHub("task:"+taskID, fanoutCfg, logger, onEvict),
		logger: logging.OrNop(logger),
	}
}

// Attach registers an already-upgraded subscriber socket; blocks for the
// connection's lifetime.
func (t *TaskInstance) Attach(conn *websocket.Conn) { t.hub.Subscribe(conn) }

func (t *TaskInstance) Get(ctx context.Context) (*task.Task, error) { return t.store.Get(ctx, t.taskID) }

func (t *TaskInstance) History(ctx context.Context, limit int) ([]task.HistoryEvent, error) {
	return t.store.History(ctx, t.taskID, limit)
}

func (t *TaskInstance) UpdateProgress(ctx context.Context, progress int, message string) (*task.Task, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	tk, ev, err := t.store.UpdateProgress(ctx, t.taskID, progress, message)
	if err != nil {
		return nil, err
	}
	t.hub.Broadcast(TaskProgressFrame{
		Type: "progress", Task: tk, Progress: *ev.Progress, Timestamp: ev.Timestamp,
	})
	return tk, nil
}

func (t *TaskInstance) AppendEvent(ctx context.Context, eventType task.EventType, message string, progress *int, metadata json.RawMessage) (*task.Task, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	tk, ev, err := t.store.AppendEvent(ctx, t.taskID, eventType, message, progress, metadata)
	if err != nil {
		return nil, err
	}
	t.hub.Broadcast(TaskEventFrame{
		Type: "event", Task: tk,
		Event:     taskEventPayload{EventType: eventType, Message: message, Progress: ev.Progress, Metadata: rawOrNil(metadata)},
		Timestamp: ev.Timestamp,
	})
	return tk, nil
}

func (t *TaskInstance) Complete(ctx context.Context) (*task.Task, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	tk, _, err := t.store.Complete(ctx, t.taskID)
	if err != nil {
		return nil, err
	}
	t.hub.Broadcast(TaskTerminalFrame{Type: "complete", Task: tk, Timestamp: time.Now().UTC()})
	return tk, nil
}

func (t *TaskInstance) Fail(ctx context.Context, errMessage string) (*task.Task, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	tk, _, err := t.store.Fail(ctx, t.taskID, errMessage)
	if err != nil {
		return nil, err
	}
	t.hub.Broadcast(TaskTerminalFrame{Type: "fail", Task: tk, Timestamp: time.Now().UTC()})
	return tk, nil
}

func (t *TaskInstance) Cancel(ctx context.Context) (*task.Task, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	tk, _, err := t.store.Cancel(ctx, t.taskID)
	if err != nil {
		return nil, err
	}
	t.hub.Broadcast(TaskTerminalFrame{Type: "cancel", Task: tk, Timestamp: time.Now().UTC()})
	return tk, nil
}

// Delete tears down history and closes every live subscriber (1000, normal).
func (t *TaskInstance) Delete(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.store.Delete(ctx, t.taskID); err != nil {
		return err
	}
	t.hub.Close(websocket.CloseNormalClosure, "entity deleted")
	return nil
}

func rawOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(m, &v); err != nil {
		return nil
	}
	return v
}
