package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"spectralnotify/internal/broker/fanout"
	brokerhttp "spectralnotify/internal/broker/http"
	"spectralnotify/internal/broker/instance"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/domain/workflow"
	"spectralnotify/internal/platform/logging"
	"spectralnotify/internal/platform/observability"
	"spectralnotify/internal/storage/localstore"
	"spectralnotify/internal/storage/sharedstore"
)

const shutdownGrace = 5 * time.Second

// Container holds every wired dependency RunServer needs, plus their
// teardown in Close.
type Container struct {
	Logger        logging.Logger
	Observability *observability.Provider

	TaskStore     task.Store
	WorkflowStore workflow.Store
	Shared        *sharedstore.Store
	Directory     *instance.Directory
	Router        http.Handler
	Drain         *brokerhttp.DrainGate

	// Degraded tracks optional bootstrap stages (observability,
	// orphan-check) that failed without aborting startup.
	Degraded *DegradedComponents

	closers []func() error
}

// BuildContainer wires storage, the instance directory, observability, and
// the HTTP router from cfg, in dependency order, tracking every resource
// that needs an orderly teardown. Wiring runs as a sequence of
// BootstrapStages so an optional stage's failure degrades rather than
// aborts startup.
func BuildContainer(ctx context.Context, cfg Config) (*Container, error) {
	logger := logging.NewComponentLogger(logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}), "broker")

	c := &Container{Logger: logger, Degraded: NewDegradedComponents()}

	stages := []BootstrapStage{
		{
			Name:     "observability",
			Required: false,
			Init: func() error {
				obsProvider, err := observability.Setup(ctx, observability.Config{
					OTLPEndpoint: cfg.Observability.OTLPEndpoint,
					MetricsAddr:  cfg.Observability.MetricsAddr,
				}, logger)
				if err != nil {
					return err
				}
				c.Observability = obsProvider
				c.closers = append(c.closers, func() error {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
					defer cancel()
					return obsProvider.Shutdown(shutdownCtx)
				})
				return nil
			},
		},
		{
			Name:     "storage",
			Required: true,
			Init: func() error {
				switch cfg.Storage.Driver {
				case "sqlite":
					local, err := localstore.Open(cfg.Storage.DSN, logging.NewComponentLogger(logger, "localstore"))
					if err != nil {
						return fmt.Errorf("open localstore: %w", err)
					}
					if err := local.EnsureSchema(ctx); err != nil {
						return fmt.Errorf("localstore schema: %w", err)
					}
					c.TaskStore, c.WorkflowStore = local, local
					c.closers = append(c.closers, func() error { return local.Close() })
					return nil
				default:
					// A Postgres-backed InstanceStore is named in SPEC_FULL's
					// domain stack as an alternative to the embedded sqlite
					// one, but no such type exists yet (sharedstore.Store
					// only implements the idempotency.Store and
					// registry.Store ports). Fail loudly instead of silently
					// falling back to sqlite.
					return fmt.Errorf("storage.driver %q is not implemented; use \"sqlite\"", cfg.Storage.Driver)
				}
			},
		},
		{
			Name:     "shared-storage",
			Required: true,
			Init: func() error {
				shared, err := sharedstore.Open(ctx, cfg.Storage.RegistryDSN, logging.NewComponentLogger(logger, "sharedstore"))
				if err != nil {
					return fmt.Errorf("open sharedstore: %w", err)
				}
				if err := shared.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("sharedstore schema: %w", err)
				}
				c.Shared = shared
				c.closers = append(c.closers, func() error { shared.Close(); return nil })
				return nil
			},
		},
		{
			Name:     "orphan-check",
			Required: false,
			Init: func() error {
				return markOrphanedInstancesNotice(ctx, c.Shared, c.TaskStore, c.WorkflowStore, logger)
			},
		},
		{
			Name:     "router",
			Required: true,
			Init: func() error {
				fanoutCfg := fanout.Config{
					PingInterval: cfg.Fanout.PingInterval,
					IdleTimeout:  cfg.Fanout.IdleTimeout,
					MaxBuffered:  cfg.Fanout.MaxBuffered,
				}
				directory := instance.NewDirectory(c.TaskStore, c.WorkflowStore, cfg.Workflow.StrictCompletion, fanoutCfg,
					logging.NewComponentLogger(logger, "directory"),
					func() {
						if c.Observability != nil {
							c.Observability.FanoutEvictions.Add(ctx, 1)
						}
					})
				c.Directory = directory
				c.Drain = brokerhttp.NewDrainGate()

				c.Router = brokerhttp.NewRouter(brokerhttp.Deps{
					Directory:      directory,
					TaskStore:      c.TaskStore,
					WorkflowStore:  c.WorkflowStore,
					Idempotency:    c.Shared,
					Registry:       c.Shared,
					Logger:         logging.NewComponentLogger(logger, "http"),
					APIKey:         cfg.Auth.APIKey,
					IdempotencyTTL: cfg.Idempotency.TTL,
					Metrics:        c.Observability,
					Drain:          c.Drain,
				})
				return nil
			},
		},
	}

	if err := RunStages(stages, c.Degraded, logger); err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears down every resource the container opened, in reverse order.
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
