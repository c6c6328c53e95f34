package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"spectralnotify/internal/platform/observability"
)

const websocketShutdownReason = "server shutting down"

// RunServer builds the container from cfg and runs the broker until the
// process receives SIGINT/SIGTERM or ctx is canceled, then drains every
// live WebSocket subscriber and tears the container down. The HTTP server
// and standalone metrics server run as sibling errgroup members so either
// one's failure brings the other down with it.
func RunServer(ctx context.Context, cfg Config) error {
	container, err := BuildContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer container.Close()

	if !container.Degraded.IsEmpty() {
		container.Logger.Warn("broker: starting in degraded mode: %v", container.Degraded.Map())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      container.Router,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		container.Logger.Info("broker: listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if container.Observability == nil {
			container.Logger.Warn("broker: observability degraded, metrics server not started")
			<-groupCtx.Done()
			return nil
		}
		return observability.RunMetricsServer(groupCtx, cfg.Observability.MetricsAddr, container.Observability, container.Logger)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		container.Logger.Info("broker: shutting down")
		if container.Drain != nil {
			container.Drain.Drain()
		}
		container.Directory.CloseAll(websocket.CloseGoingAway, websocketShutdownReason)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return nil
}

