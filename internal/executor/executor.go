// Package executor is the unit of work the engine invokes on every period.
//
// An attempt never performs the sync. It decides whether the attempt falls
// inside the blackout window and, if not, raises the persisted pending-sync
// signal for the application to act on.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/handoff"
	"github.com/livinlefevreloca/remindersync/internal/signal"
)

// WorkerName is the name the executor is registered under with the engine
const WorkerName = "reminder-sync"

// Outcome labels
const (
	StatusCompleted    = "completed"
	StatusSkippedNight = "skipped_night"
)

// Output data keys
const (
	OutputStatus    = "status"
	OutputSyncCount = "sync_count"
	OutputTimestamp = "timestamp"
)

// Policy decides whether an attempt at now must be skipped
type Policy interface {
	IsSuppressed(now time.Time) bool

	// Hour is now's hour in the zone the decision is made in
	Hour(now time.Time) int
}

// Notifier is told about every raised signal. Publish must not block.
type Notifier interface {
	Publish(ev handoff.Event) bool
}

// Metrics counts outcomes
type Metrics interface {
	RecordOutcome(ctx context.Context, status string)
}

// Executor implements engine.Worker
type Executor struct {
	policy   Policy
	signals  *signal.Store
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(policy Policy, signals *signal.Store, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		policy:  policy,
		signals: signals,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DoWork runs one attempt. It returns Success with outcome data when the
// attempt either skipped or raised the signal, and Retry when anything went
// wrong, including a panic.
func (e *Executor) DoWork(ctx context.Context, params engine.WorkParams) (result engine.Result) {
	logger := e.logger.With("run_id", params.RunID, "attempt", params.RunAttemptCount)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("sync attempt panicked", "panic", p)
			e.count(ctx, "retry")
			result = engine.Retry()
		}
	}()

	now := e.now()

	if e.policy.IsSuppressed(now) {
		logger.Info("sync skipped during night hours", "hour", e.policy.Hour(now))
		return e.finish(ctx, logger, StatusSkippedNight, 0, now)
	}

	if err := e.signals.MarkPending(ctx, now); err != nil {
		logger.Error("sync attempt failed, will retry", "error", err)
		e.count(ctx, "retry")
		return engine.Retry()
	}

	if e.notifier != nil {
		e.notifier.Publish(handoff.Event{RunID: params.RunID, TriggeredAt: now})
	}

	logger.Info("pending sync raised", "triggered_at", now.UnixMilli())
	return e.finish(ctx, logger, StatusCompleted, 1, now)
}

func (e *Executor) finish(ctx context.Context, logger *slog.Logger, status string, count int, now time.Time) engine.Result {
	outcome := signal.Outcome{Status: status, SyncCount: count, TimestampMillis: now.UnixMilli()}

	// The outcome copy in the store is for status queries; the engine's
	// output data is authoritative, so a failed write does not fail the attempt.
	if err := e.signals.RecordOutcome(ctx, outcome); err != nil {
		logger.Warn("failed to record sync outcome", "status", status, "error", err)
	}

	e.count(ctx, status)
	return engine.Success(OutputData(outcome))
}

func (e *Executor) count(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.RecordOutcome(ctx, status)
	}
}

// OutputData converts an outcome to the engine output map
func OutputData(o signal.Outcome) engine.Data {
	return engine.Data{
		OutputStatus:    o.Status,
		OutputSyncCount: o.SyncCount,
		OutputTimestamp: o.TimestampMillis,
	}
}

// ParseOutput reads an outcome back from engine output data
func ParseOutput(d engine.Data) (signal.Outcome, error) {
	status, ok := d.String(OutputStatus)
	if !ok {
		return signal.Outcome{}, fmt.Errorf("output has no %s", OutputStatus)
	}
	count, _ := d.Int64(OutputSyncCount)
	ts, _ := d.Int64(OutputTimestamp)
	return signal.Outcome{Status: status, SyncCount: int(count), TimestampMillis: ts}, nil
}
