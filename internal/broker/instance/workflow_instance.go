package instance

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spectralnotify/internal/broker/fanout"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
)

// WorkflowInstance is the single-writer coordinator for one workflow,
// mirroring TaskInstance but threading the phase sub-machine and weighted
// overall-progress recomputation through every mutation.
type WorkflowInstance struct {
	workflowID string
	store      workflow.Store
	hub        *fanout.Hub
	writeMu    sync.Mutex
	logger     logging.Logger

	// strictCompletion selects the alternative completion behavior: reject
	// complete() unless every phase is already terminal, instead of
	// auto-completing them.
	strictCompletion bool
}

func newWorkflowInstance(workflowID string, store workflow.Store, strictCompletion bool, fanoutCfg fanout.Config, logger logging.Logger, onEvict func()) *WorkflowInstance {
	return &WorkflowInstance{
		workflowID:       workflowID,
		store:            store,
		hub:              fanout.NewHub("workflow:"+workflowID, fanoutCfg, logger, onEvict),
		logger:           logging.OrNop(logger),
		strictCompletion: strictCompletion,
	}
}

func (w *WorkflowInstance) Attach(conn *websocket.Conn) { w.hub.Subscribe(conn) }

func (w *WorkflowInstance) Get(ctx context.Context) (*workflow.Workflow, error) {
	return w.store.Get(ctx, w.workflowID)
}

func (w *WorkflowInstance) Phases(ctx context.Context) ([]workflow.Phase, error) {
	return w.store.Phases(ctx, w.workflowID)
}

func (w *WorkflowInstance) History(ctx context.Context, limit int) ([]workflow.HistoryEvent, error) {
	return w.store.History(ctx, w.workflowID, limit)
}

func (w *WorkflowInstance) UpdatePhaseProgress(ctx context.Context, phaseKey string, progress int) (*workflow.Workflow, []workflow.Phase, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	wf, phases, ev, err := w.store.UpdatePhaseProgress(ctx, w.workflowID, phaseKey, progress)
	if err != nil {
		return nil, nil, err
	}
	w.hub.Broadcast(WorkflowPhaseProgressFrame{
		Type: "phase-progress", WorkflowID: w.workflowID, Phase: phaseKey,
		Progress: *ev.Progress, OverallProgress: wf.OverallProgress,
		Workflow: wf, Phases: phases, Timestamp: ev.Timestamp,
	})
	return wf, phases, nil
}

func (w *WorkflowInstance) CompletePhase(ctx context.Context, phaseKey string) (*workflow.Workflow, []workflow.Phase, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	wf, phases, ev, err := w.store.CompletePhase(ctx, w.workflowID, phaseKey)
	if err != nil {
		return nil, nil, err
	}
	w.hub.Broadcast(WorkflowPhaseProgressFrame{
		Type: "phase-progress", WorkflowID: w.workflowID, Phase: phaseKey,
		Progress: 100, OverallProgress: wf.OverallProgress,
		Workflow: wf, Phases: phases, Timestamp: ev.Timestamp,
	})
	return wf, phases, nil
}

func (w *WorkflowInstance) Complete(ctx context.Context) (*workflow.Workflow, []workflow.Phase, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	wf, phases, _, err := w.store.Complete(ctx, w.workflowID, w.strictCompletion)
	if err != nil {
		return nil, nil, err
	}
	w.hub.Broadcast(WorkflowTerminalFrame{
		Type: "complete", WorkflowID: w.workflowID, Workflow: wf, Phases: phases, Timestamp: time.Now().UTC(),
	})
	return wf, phases, nil
}

func (w *WorkflowInstance) Fail(ctx context.Context, errMessage string) (*workflow.Workflow, []workflow.Phase, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	wf, phases, _, err := w.store.Fail(ctx, w.workflowID, errMessage)
	if err != nil {
		return nil, nil, err
	}
	w.hub.Broadcast(WorkflowTerminalFrame{
		Type: "fail", WorkflowID: w.workflowID, Workflow: wf, Phases: phases, Timestamp: time.Now().UTC(), Error: errMessage,
	})
	return wf, phases, nil
}

func (w *WorkflowInstance) Cancel(ctx context.Context) (*workflow.Workflow, []workflow.Phase, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	wf, phases, _, err := w.store.Cancel(ctx, w.workflowID)
	if err != nil {
		return nil, nil, err
	}
	w.hub.Broadcast(WorkflowTerminalFrame{
		Type: "cancel", WorkflowID: w.workflowID, Workflow: wf, Phases: phases, Timestamp: time.Now().UTC(),
	})
	return wf, phases, nil
}

func (w *WorkflowInstance) Delete(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.store.Delete(ctx, w.workflowID); err != nil {
		return err
	}
	w.hub.Close(websocket.CloseNormalClosure, "entity deleted")
	return nil
}
