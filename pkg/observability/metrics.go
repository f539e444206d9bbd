// Package observability wires the event store engine and projection
// runtime to OpenTelemetry. Grounded on the teacher's
// pkg/observability/metrics.go, trimmed to this module's own surface
// (push, retries, constraint conflicts, projection lag, subscription
// fan-out) instead of the teacher's broader command-bus/repository/NATS
// instrument set.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every metric instrument the engine and projection
// runtime record against. A nil *Metrics is a safe no-op: every Record*
// method guards against it, so callers never need a feature flag to
// disable instrumentation.
type Metrics struct {
	PushDuration       metric.Float64Histogram
	PushTotal          metric.Int64Counter
	PushRetries        metric.Int64Counter
	PushConflicts      metric.Int64Counter
	ConstraintConflicts metric.Int64Counter

	ProjectionLag    metric.Float64Gauge
	ProjectionErrors metric.Int64Counter
	ProjectionBatch  metric.Int64Counter

	SubscriptionFanout metric.Int64Counter
}

// NewMetrics registers every instrument against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.PushDuration, err = meter.Float64Histogram(
		"eventstore.push.duration",
		metric.WithDescription("Push/PushMany commit duration in seconds, including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating push.duration: %w", err)
	}

	if m.PushTotal, err = meter.Int64Counter(
		"eventstore.push.total",
		metric.WithDescription("Total Push/PushMany calls"),
	); err != nil {
		return nil, fmt.Errorf("creating push.total: %w", err)
	}

	if m.PushRetries, err = meter.Int64Counter(
		"eventstore.push.retries",
		metric.WithDescription("Total retry attempts across Push/PushMany calls"),
	); err != nil {
		return nil, fmt.Errorf("creating push.retries: %w", err)
	}

	if m.PushConflicts, err = meter.Int64Counter(
		"eventstore.push.conflicts",
		metric.WithDescription("Total Concurrency conflicts surfaced by PushWithConcurrencyCheck"),
	); err != nil {
		return nil, fmt.Errorf("creating push.conflicts: %w", err)
	}

	if m.ConstraintConflicts, err = meter.Int64Counter(
		"eventstore.constraint.conflicts",
		metric.WithDescription("Total UniqueConstraintViolation errors surfaced by Push"),
	); err != nil {
		return nil, fmt.Errorf("creating constraint.conflicts: %w", err)
	}

	if m.ProjectionLag, err = meter.Float64Gauge(
		"eventstore.projection.lag",
		metric.WithDescription("Seconds between a projection's last processed event and now"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	if m.ProjectionErrors, err = meter.Int64Counter(
		"eventstore.projection.errors",
		metric.WithDescription("Total projection tick failures"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	if m.ProjectionBatch, err = meter.Int64Counter(
		"eventstore.projection.events_applied",
		metric.WithDescription("Total events successfully applied by a projection handler"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.events_applied: %w", err)
	}

	if m.SubscriptionFanout, err = meter.Int64Counter(
		"eventstore.subscription.fanout",
		metric.WithDescription("Total events delivered to subscribers across all Publish calls"),
	); err != nil {
		return nil, fmt.Errorf("creating subscription.fanout: %w", err)
	}

	return m, nil
}

// RecordPush records one Push/PushMany attempt cycle: duration,
// attempt count and, on a Concurrency or UniqueConstraintViolation
// outcome, the matching conflict counter.
func (m *Metrics) RecordPush(ctx context.Context, aggregateType string, duration time.Duration, retries int, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("aggregate_type", aggregateType))

	m.PushTotal.Add(ctx, 1, attrs)
	m.PushDuration.Record(ctx, duration.Seconds(), attrs)
	if retries > 0 {
		m.PushRetries.Add(ctx, int64(retries), attrs)
	}

	switch outcome {
	case "concurrency_conflict":
		m.PushConflicts.Add(ctx, 1, attrs)
	case "constraint_violation":
		m.ConstraintConflicts.Add(ctx, 1, attrs)
	}
}

// RecordProjectionTick records the outcome of one catch-up batch.
func (m *Metrics) RecordProjectionTick(ctx context.Context, projection string, applied int, lag time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("projection", projection))

	if applied > 0 {
		m.ProjectionBatch.Add(ctx, int64(applied), attrs)
	}
	m.ProjectionLag.Record(ctx, lag.Seconds(), attrs)
	if err != nil {
		m.ProjectionErrors.Add(ctx, 1, attrs)
	}
}

// RecordFanout records one subscriber delivery from the subscription bus,
// adding its matchedEvents count to the fan-out counter.
func (m *Metrics) RecordFanout(ctx context.Context, matchedEvents int) {
	if m == nil {
		return
	}
	m.SubscriptionFanout.Add(ctx, int64(matchedEvents))
}
