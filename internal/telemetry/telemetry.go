// Package telemetry provides OpenTelemetry instrumentation for meshd.
//
// It manages TracerProvider and MeterProvider lifecycles with OTLP export.
// Telemetry failures never crash the daemon; the instance degrades to
// no-op providers and records why.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/meshwork-labs/meshd/internal/config"
)

// Telemetry owns the OpenTelemetry providers for the daemon.
type Telemetry struct {
	config *config.TelemetryConfig

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded      atomic.Bool
	degradedCause atomic.Value // string
}

// New creates a Telemetry instance and initializes providers.
//
// When telemetry is disabled in config, a no-op instance is returned.
// Exporter initialization errors degrade the instance instead of failing
// daemon startup.
func New(ctx context.Context, cfg *config.TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is nil")
	}

	t := &Telemetry{config: cfg}

	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		t.setDegraded(fmt.Sprintf("resource creation failed: %v", err))
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded(fmt.Sprintf("tracer provider failed: %v", err))
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded(fmt.Sprintf("meter provider failed: %v", err))
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer from the configured provider, or the global
// (no-op when unset) provider when telemetry is disabled or degraded.
func (t *Telemetry) Tracer(name string) oteltrace.Tracer {
	if t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Meter returns a meter from the configured provider, or the global one.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t.meterProvider != nil {
		return t.meterProvider.Meter(name)
	}
	return otel.Meter(name)
}

// LoggerProvider returns the provider to bridge Zap output into, or nil
// when telemetry is disabled.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if !t.config.Enabled {
		return nil
	}
	return global.GetLoggerProvider()
}

// Degraded reports whether provider initialization partially failed,
// and the recorded cause.
func (t *Telemetry) Degraded() (bool, string) {
	if !t.degraded.Load() {
		return false, ""
	}
	cause, _ := t.degradedCause.Load().(string)
	return true, cause
}

func (t *Telemetry) setDegraded(cause string) {
	t.degraded.Store(true)
	t.degradedCause.Store(cause)
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
