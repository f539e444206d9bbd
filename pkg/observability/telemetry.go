package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexusid/eventstore/pkg/logging"
)

// Config configures the observability stack. Both exporter/reader
// fields are optional: a nil TraceExporter degrades to a no-op tracer
// provider and a nil MetricReader leaves MeterProvider and Metrics nil
// (a nil *Metrics records nothing), rather than an error, so a
// standalone engine instance never has to wire a backend just to start.
type Config struct {
	ServiceName    string
	ServiceVersion string

	TraceExporter  sdktrace.SpanExporter
	TraceSampleRate float64

	MetricReader sdkmetric.Reader

	Logger logging.Logger
}

// Telemetry bundles the configured providers, the engine's named
// metric instruments, and a single Shutdown that tears both down.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Metrics        *Metrics

	shutdown func(context.Context) error
}

// Init builds resource attributes and, for every non-nil exporter/
// reader, a matching provider; it always returns a usable *Telemetry.
// Without a TraceExporter the tracer provider is a no-op one; without a
// MetricReader MeterProvider and Metrics stay nil.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build observability resource: %w", err)
	}

	tel := &Telemetry{}
	var shutdowns []func(context.Context) error

	if cfg.TraceExporter != nil {
		sampler := sdktrace.TraceIDRatioBased(cfg.TraceSampleRate)
		if cfg.TraceSampleRate >= 1.0 {
			sampler = sdktrace.AlwaysSample()
		} else if cfg.TraceSampleRate <= 0 {
			sampler = sdktrace.NeverSample()
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sampler),
		)
		tel.TracerProvider = tp
		shutdowns = append(shutdowns, tp.Shutdown)
		otel.SetTracerProvider(tp)
	} else {
		tel.TracerProvider = trace.NewNoopTracerProvider()
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(cfg.MetricReader),
		)
		metrics, err := NewMetrics(mp.Meter("eventstore"))
		if err != nil {
			return nil, fmt.Errorf("register eventstore instruments: %w", err)
		}
		tel.MeterProvider = mp
		tel.Metrics = metrics
		shutdowns = append(shutdowns, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	tel.shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("observability shutdown errors: %v", errs)
		}
		return nil
	}

	return tel, nil
}

// Tracer returns a named tracer, real or no-op depending on Init's config.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Shutdown flushes and closes every configured provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}
