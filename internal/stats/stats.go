// Package stats records sync outcomes, engine attempts and consumer syncs as
// OpenTelemetry instruments, exported for Prometheus scraping.
//
// Every recording method is safe on a nil *Metrics, which is what callers get
// when metrics are disabled.
package stats

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes every instrument in this package
const MeterName = "github.com/livinlefevreloca/remindersync"

// Metrics holds the instruments
type Metrics struct {
	outcomes        metric.Int64Counter
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	consumerSyncs   metric.Int64Counter
	handoffDropped  metric.Int64Counter
}

// NewMetrics creates instruments on provider. A nil provider yields nil
// (no-op) metrics.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	outcomes, err := meter.Int64Counter(
		"remindersync_executor_outcomes_total",
		metric.WithDescription("Sync attempt outcomes by status"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter(
		"remindersync_engine_attempts_total",
		metric.WithDescription("Work attempts by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	attemptDuration, err := meter.Float64Histogram(
		"remindersync_engine_attempt_duration_seconds",
		metric.WithDescription("Duration of work attempts in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	consumerSyncs, err := meter.Int64Counter(
		"remindersync_consumer_syncs_total",
		metric.WithDescription("Syncs run by the consumer by result"),
		metric.WithUnit("{sync}"),
	)
	if err != nil {
		return nil, err
	}

	handoffDropped, err := meter.Int64Counter(
		"remindersync_handoff_events_dropped_total",
		metric.WithDescription("Handoff events dropped because the consumer was behind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		outcomes:        outcomes,
		attempts:        attempts,
		attemptDuration: attemptDuration,
		consumerSyncs:   consumerSyncs,
		handoffDropped:  handoffDropped,
	}, nil
}

// RecordOutcome counts an executor outcome ("completed", "skipped_night", "retry")
func (m *Metrics) RecordOutcome(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ObserveAttempt counts an engine attempt and records its duration
func (m *Metrics) ObserveAttempt(ctx context.Context, workName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("work_name", workName),
		attribute.String("result", result),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.attemptDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordConsumerSync counts a sync run by the consumer
func (m *Metrics) RecordConsumerSync(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.consumerSyncs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordHandoffDropped counts a dropped handoff event
func (m *Metrics) RecordHandoffDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.handoffDropped.Add(ctx, 1)
}
