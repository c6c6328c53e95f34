package instance

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"spectralnotify/internal/broker/fanout"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
)

// defaultDirectoryCapacity bounds how many idle instances the directory
// keeps warm before evicting the least-recently-used one, so a front-end
// that has handled many entities over its lifetime doesn't grow an
// unbounded map.
const defaultDirectoryCapacity = 4096

// Directory is the front-end's in-memory `{(kind,id) -> instance}` cache:
// lazily constructed per ID, created at most once even under concurrent
// first-reference via singleflight, and bounded by an LRU so a long-lived
// front-end doesn't scan or retain an ever-growing map.
type Directory struct {
	taskStore     task.Store
	workflowStore workflow.Store
	logger        logging.Logger

	strictCompletion bool
	fanoutCfg        fanout.Config

	// onEvict, if non-nil, is handed to every Hub this directory
	// constructs, so the broker front-end can count WebSocket evictions
	// across every entity with a single metrics counter.
	onEvict func()

	mu        sync.RWMutex
	tasks     *lru.Cache[string, *TaskInstance]
	workflows *lru.Cache[string, *WorkflowInstance]

	group singleflight.Group
}

// NewDirectory creates a Directory backed by the given per-instance stores.
// strictCompletion selects the alternative completion behavior for every
// workflow instance it constructs. fanoutCfg tunes every Hub the directory
// builds; a zero Config falls back to fanout.DefaultConfig. onEvict may be
// nil.
func NewDirectory(taskStore task.Store, workflowStore workflow.Store, strictCompletion bool, fanoutCfg fanout.Config, logger logging.Logger, onEvict func()) *Directory {
	logger = logging.OrNop(logger)

	d := &Directory{
		taskStore:        taskStore,
		workflowStore:    workflowStore,
		strictCompletion: strictCompletion,
		fanoutCfg:        fanoutCfg,
		logger:           logger,
		onEvict:          onEvict,
	}
	// Eviction only bounds idle memory: a Task()/Workflow() call for the
	// evicted ID right after simply builds a fresh instance (a fresh Hub),
	// it never tears down an already-attached subscriber's connection.
	// Evicting an ID with live subscribers would orphan them onto a Hub the
	// directory no longer hands out, so we log it; it should be rare at
	// defaultDirectoryCapacity.
	tasks, _ := lru.NewWithEvict[string, *TaskInstance](defaultDirectoryCapacity, func(taskID string, ti *TaskInstance) {
		if n := ti.hub.SubscriberCount(); n > 0 {
			logger.Warn("directory: evicted task %s from LRU with %d live subscribers", taskID, n)
		}
	})
	workflows, _ := lru.NewWithEvict[string, *WorkflowInstance](defaultDirectoryCapacity, func(workflowID string, wi *WorkflowInstance) {
		if n := wi.hub.SubscriberCount(); n > 0 {
			logger.Warn("directory: evicted workflow %s from LRU with %d live subscribers", workflowID, n)
		}
	})
	d.tasks = tasks
	d.workflows = workflows
	return d
}

// Task returns the instance for taskID, lazily constructing it. It does not
// validate that the task exists in the store; callers check that via Get.
func (d *Directory) Task(taskID string) *TaskInstance {
	d.mu.RLock()
	if ti, ok := d.tasks.Get(taskID); ok {
		d.mu.RUnlock()
		return ti
	}
	d.mu.RUnlock()

	v, _, _ := d.group.Do("task:"+taskID, func() (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if ti, ok := d.tasks.Get(taskID); ok {
			return ti, nil
		}
		ti := newTaskInstance(taskID, d.taskStore, d.fanoutCfg, d.logger, d.onEvict)
		d.tasks.Add(taskID, ti)
		return ti, nil
	})
	return v.(*TaskInstance)
}

// Workflow returns the instance for workflowID, lazily constructing it.
func (d *Directory) Workflow(workflowID string) *WorkflowInstance {
	d.mu.RLock()
	if wi, ok := d.workflows.Get(workflowID); ok {
		d.mu.RUnlock()
		return wi
	}
	d.mu.RUnlock()

	v, _, _ := d.group.Do("workflow:"+workflowID, func() (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if wi, ok := d.workflows.Get(workflowID); ok {
			return wi, nil
		}
		wi := newWorkflowInstance(workflowID, d.workflowStore, d.strictCompletion, d.fanoutCfg, d.logger, d.onEvict)
		d.workflows.Add(workflowID, wi)
		return wi, nil
	})
	return v.(*WorkflowInstance)
}

// ForgetTask drops the cached instance handle after a successful delete, so
// a later create for the same ID starts from a clean Hub.
func (d *Directory) ForgetTask(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks.Remove(taskID)
}

// ForgetWorkflow drops the cached instance handle after a successful delete.
func (d *Directory) ForgetWorkflow(workflowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workflows.Remove(workflowID)
}

// CloseAll disconnects every live subscriber across every cached instance,
// used on graceful server shutdown.
func (d *Directory) CloseAll(closeCode int, reason string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, taskID := range d.tasks.Keys() {
		if ti, ok := d.tasks.Peek(taskID); ok {
			ti.hub.Close(closeCode, reason)
		}
	}
	for _, workflowID := range d.workflows.Keys() {
		if wi, ok := d.workflows.Peek(workflowID); ok {
			wi.hub.Close(closeCode, reason)
		}
	}
}
