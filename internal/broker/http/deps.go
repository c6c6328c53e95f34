// Package http is the Broker Front-End: a stateless gin router that
// authenticates writes, applies idempotency, routes by (kind,id) to the
// instance Directory, and upgrades WebSocket subscriptions.
package http

import (
	"time"

	"spectralnotify/internal/broker/instance"
	"spectralnotify/internal/domain/idempotency"
	"spectralnotify/internal/domain/registry"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
	"spectralnotify/internal/platform/observability"
)

// Deps bundles everything the router needs to construct handlers.
type Deps struct {
	Directory     *instance.Directory
	TaskStore     task.Store
	WorkflowStore workflow.Store
	Idempotency   idempotency.Store
	Registry      registry.Store
	Logger        logging.Logger

	// APIKey is the value writes must present in X-API-Key. Empty disables
	// the check (development only).
	APIKey string

	// IdempotencyTTL is how long a cached idempotent response stays
	// replayable. Zero falls back to the package default.
	IdempotencyTTL time.Duration

	// Metrics is optional; a nil Metrics disables request/idempotency
	// instrumentation without disabling the broker itself.
	Metrics *observability.Provider

	// Drain is optional; a nil Drain never rejects writes for shutdown.
	Drain *DrainGate
}
