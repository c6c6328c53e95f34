package bootstrap

import (
	"context"

	"spectralnotify/internal/domain/registry"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
)

// markOrphanedInstancesNotice logs every registry row whose backing instance
// is missing from the per-instance store: the registry is shared Postgres
// and outlives the embedded sqlite file, so a data directory wiped or
// swapped out from under a running registry leaves exactly this kind of
// orphan. It is a boot-time notice, not a repair: it never deletes the
// registry row or otherwise mutates state.
func markOrphanedInstancesNotice(ctx context.Context, reg registry.Store, taskStore task.Store, workflowStore workflow.Store, logger logging.Logger) error {
	tasks, err := reg.List(ctx, registry.KindTask)
	if err != nil {
		return err
	}
	for _, row := range tasks {
		if _, err := taskStore.Get(ctx, row.ID); err != nil {
			logger.Warn("bootstrap: registry has task %s with no matching instance store record", row.ID)
		}
	}

	workflows, err := reg.List(ctx, registry.KindWorkflow)
	if err != nil {
		return err
	}
	for _, row := range workflows {
		if _, err := workflowStore.Get(ctx, row.ID); err != nil {
			logger.Warn("bootstrap: registry has workflow %s with no matching instance store record", row.ID)
		}
	}
	return nil
}
