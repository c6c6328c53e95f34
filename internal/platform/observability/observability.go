// Package observability wires OpenTelemetry tracing and metrics for the
// broker: a Prometheus exporter always backs the meter provider, and an
// OTLP trace exporter is added when an endpoint is configured.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"spectralnotify/internal/platform/logging"
)

// Config controls what observability wires up.
type Config struct {
	OTLPEndpoint string // empty disables trace export
	MetricsAddr  string // empty disables the /metrics HTTP server
}

// Provider bundles the broker's tracer, meter, and broker-specific
// instruments, plus an HTTP handler serving /metrics.
type Provider struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	RequestDuration   metric.Float64Histogram
	FanoutEvictions   metric.Int64Counter
	IdempotencyHits   metric.Int64Counter
	IdempotencyMisses metric.Int64Counter
	IdempotencyReaped metric.Int64Counter

	mp       *sdkmetric.MeterProvider
	tp       *sdktrace.TracerProvider
	handler  http.Handler
	logger   logging.Logger
}

// Setup builds a Provider from cfg. Call Shutdown on it during graceful
// shutdown to flush any pending exports.
func Setup(ctx context.Context, cfg Config, logger logging.Logger) (*Provider, error) {
	logger = logging.OrNop(logger)

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	otel.SetMeterProvider(mp)

	var tp *sdktrace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
		otel.SetTracerProvider(tp)
	}

	meter := mp.Meter("spectralnotify/broker")
	tracer := otel.Tracer("spectralnotify/broker")

	requestDuration, err := meter.Float64Histogram("spectralnotify.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	fanoutEvictions, err := meter.Int64Counter("spectralnotify.fanout.evictions",
		metric.WithDescription("WebSocket subscribers evicted for backpressure or timeout"))
	if err != nil {
		return nil, err
	}
	idempotencyHits, err := meter.Int64Counter("spectralnotify.idempotency.hits",
		metric.WithDescription("Writes served from the idempotency cache"))
	if err != nil {
		return nil, err
	}
	idempotencyMisses, err := meter.Int64Counter("spectralnotify.idempotency.misses",
		metric.WithDescription("Writes that executed because no cached response existed"))
	if err != nil {
		return nil, err
	}
	idempotencyReaped, err := meter.Int64Counter("spectralnotify.idempotency.reaped",
		metric.WithDescription("Expired idempotency rows opportunistically removed"))
	if err != nil {
		return nil, err
	}

	return &Provider{
		Tracer:            tracer,
		Meter:             meter,
		RequestDuration:   requestDuration,
		FanoutEvictions:   fanoutEvictions,
		IdempotencyHits:   idempotencyHits,
		IdempotencyMisses: idempotencyMisses,
		IdempotencyReaped: idempotencyReaped,
		mp:                mp,
		tp:                tp,
		handler:           promhttp.Handler(),
		logger:            logger,
	}, nil
}

// MetricsHandler serves the Prometheus exposition format.
func (p *Provider) MetricsHandler() http.Handler { return p.handler }

// Shutdown flushes and stops every exporter. Safe to call even if tracing
// was never enabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			p.logger.Warn("observability: tracer shutdown: %v", err)
		}
	}
	return p.mp.Shutdown(ctx)
}

// RunMetricsServer starts a standalone HTTP server on addr serving /metrics
// and blocks until ctx is canceled, then shuts the server down.
func RunMetricsServer(ctx context.Context, addr string, provider *Provider, logger logging.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
