package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/remindersync/internal/blackout"
	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/handoff"
	"github.com/livinlefevreloca/remindersync/internal/kvstore"
	"github.com/livinlefevreloca/remindersync/internal/signal"
	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

// =============================================================================
// Helpers
// =============================================================================

var utcWindow = blackout.Window{StartHour: blackout.DefaultStartHour, EndHour: blackout.DefaultEndHour, Location: time.UTC}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 7, 123_000_000, time.UTC)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []handoff.Event
}

func (f *fakeNotifier) Publish(ev handoff.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

type fakeMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeMetrics) RecordOutcome(_ context.Context, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

type panicPolicy struct{}

func (panicPolicy) IsSuppressed(time.Time) bool { panic("clock unavailable") }
func (panicPolicy) Hour(time.Time) int          { panic("clock unavailable") }

type fixture struct {
	exec     *Executor
	kv       *kvstore.Memory
	signals  *signal.Store
	notifier *fakeNotifier
	metrics  *fakeMetrics
	clock    *testutil.MockClock
	logger   *testutil.TestLogger
}

func newFixture(policy Policy, now time.Time) *fixture {
	f := &fixture{
		kv:       kvstore.NewMemory(),
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
		clock:    testutil.NewMockClock(now),
		logger:   testutil.NewTestLogger(),
	}
	f.signals = signal.NewStore(f.kv)
	f.exec = New(policy, f.signals, f.logger.Logger(),
		WithNotifier(f.notifier),
		WithMetrics(f.metrics),
		WithClock(f.clock.Now))
	return f
}

func params() engine.WorkParams {
	return engine.WorkParams{WorkID: uuid.New(), RunID: uuid.New(), Name: "ReminderSync"}
}

// =============================================================================
// Attempts
// =============================================================================

func TestDoWork_AllowedRaisesSignal(t *testing.T) {
	now := at(10, 30)
	f := newFixture(utcWindow, now)
	p := params()

	result := f.exec.DoWork(context.Background(), p)

	require.Equal(t, engine.ResultSuccess, result.Kind)
	assert.Equal(t, engine.Data{
		OutputStatus:    StatusCompleted,
		OutputSyncCount: 1,
		OutputTimestamp: now.UnixMilli(),
	}, result.Output)

	sig, err := f.signals.Pending(context.Background())
	require.NoError(t, err)
	assert.True(t, sig.Pending)
	assert.Equal(t, now.UnixMilli(), sig.TriggeredAtEpochMillis)

	outcome, err := f.signals.LastOutcome(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, signal.Outcome{Status: StatusCompleted, SyncCount: 1, TimestampMillis: now.UnixMilli()}, *outcome)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, p.RunID, f.notifier.events[0].RunID)
	assert.Equal(t, now, f.notifier.events[0].TriggeredAt)
	assert.Equal(t, []string{StatusCompleted}, f.metrics.statuses)
}

func TestDoWork_SuppressedLeavesSignal(t *testing.T) {
	now := at(22, 0)
	f := newFixture(utcWindow, now)

	result := f.exec.DoWork(context.Background(), params())

	require.Equal(t, engine.ResultSuccess, result.Kind)
	assert.Equal(t, StatusSkippedNight, result.Output[OutputStatus])
	assert.Equal(t, 0, result.Output[OutputSyncCount])
	assert.Equal(t, now.UnixMilli(), result.Output[OutputTimestamp])

	sig, err := f.signals.Pending(context.Background())
	require.NoError(t, err)
	assert.False(t, sig.Pending)
	assert.Equal(t, int64(0), sig.TriggeredAtEpochMillis)

	assert.Empty(t, f.notifier.events)
	assert.Equal(t, []string{StatusSkippedNight}, f.metrics.statuses)
	assert.True(t, f.logger.HasMessage("INFO", "sync skipped during night hours"))
}

func TestDoWork_NightLogsWindowHour(t *testing.T) {
	window := blackout.Window{StartHour: 20, EndHour: 9, Location: time.FixedZone("UTC-7", -7*60*60)}
	f := newFixture(window, at(3, 0))

	result := f.exec.DoWork(context.Background(), params())
	assert.Equal(t, StatusSkippedNight, result.Output[OutputStatus])

	entry, ok := f.logger.FindEntry("sync skipped during night hours")
	require.True(t, ok)
	assert.Equal(t, int64(20), entry.Fields["hour"], "hour is taken in the window's zone")
}

func TestDoWork_EveryHour(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		f := newFixture(utcWindow, at(hour, 0))
		result := f.exec.DoWork(context.Background(), params())
		require.Equal(t, engine.ResultSuccess, result.Kind, "hour %d", hour)

		want := StatusCompleted
		if hour >= 20 || hour < 9 {
			want = StatusSkippedNight
		}
		assert.Equal(t, want, result.Output[OutputStatus], "hour %d", hour)
	}
}

func TestDoWork_SignalWriteFailureRetries(t *testing.T) {
	f := newFixture(utcWindow, at(12, 0))
	f.kv.ApplyErr = assert.AnError

	result := f.exec.DoWork(context.Background(), params())

	assert.Equal(t, engine.ResultRetry, result.Kind)
	assert.Nil(t, result.Output)
	assert.Empty(t, f.notifier.events)
	assert.Equal(t, []string{"retry"}, f.metrics.statuses)
	assert.True(t, f.logger.HasMessage("ERROR", "sync attempt failed, will retry"))
}

func TestDoWork_PanicRetries(t *testing.T) {
	f := newFixture(panicPolicy{}, at(12, 0))

	result := f.exec.DoWork(context.Background(), params())

	assert.Equal(t, engine.ResultRetry, result.Kind)
	entry, ok := f.logger.FindEntry("sync attempt panicked")
	require.True(t, ok)
	assert.Equal(t, "clock unavailable", entry.Fields["panic"])
}

func TestDoWork_OverwritesTimestamp(t *testing.T) {
	f := newFixture(utcWindow, at(10, 0))
	ctx := context.Background()

	f.exec.DoWork(ctx, params())
	f.clock.Advance(30 * time.Minute)
	f.exec.DoWork(ctx, params())

	sig, err := f.signals.Pending(ctx)
	require.NoError(t, err)
	assert.True(t, sig.Pending)
	assert.Equal(t, at(10, 30).UnixMilli(), sig.TriggeredAtEpochMillis)
}

func TestDoWork_OutcomeWriteFailureStillSucceeds(t *testing.T) {
	f := newFixture(utcWindow, at(23, 0))
	f.kv.ApplyErr = assert.AnError

	result := f.exec.DoWork(context.Background(), params())

	assert.Equal(t, engine.ResultSuccess, result.Kind)
	assert.True(t, f.logger.HasMessage("WARN", "failed to record sync outcome"))
}

// =============================================================================
// Output data
// =============================================================================

func TestParseOutput(t *testing.T) {
	outcome := signal.Outcome{Status: StatusCompleted, SyncCount: 1, TimestampMillis: 1700000000123}

	got, err := ParseOutput(OutputData(outcome))
	require.NoError(t, err)
	assert.Equal(t, outcome, got)

	_, err = ParseOutput(engine.Data{OutputSyncCount: 1})
	assert.Error(t, err)
}

// =============================================================================
// Engine integration
// =============================================================================

func TestExecutor_UnderLocalEngine(t *testing.T) {
	f := newFixture(utcWindow, at(11, 0))
	logger := testutil.NewTestLogger()

	config := engine.DefaultConfig()
	config.MinInterval = time.Millisecond
	e, err := engine.NewLocal(config, engine.NewMemoryRepository(), engine.AllowAll{}, logger.Logger())
	require.NoError(t, err)
	e.RegisterWorker(WorkerName, f.exec)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	err = e.EnqueueOrReplace(context.Background(), engine.PeriodicRequest{
		Name:     "ReminderSync",
		Worker:   WorkerName,
		Interval: time.Hour,
	})
	require.NoError(t, err)

	testutil.WaitFor(t, func() bool {
		info, err := e.QueryStatus(context.Background(), "ReminderSync")
		return err == nil && info != nil && info.LastRun != nil
	}, time.Second, "executor run")

	info, err := e.QueryStatus(context.Background(), "ReminderSync")
	require.NoError(t, err)
	outcome, err := ParseOutput(info.LastRun.Output)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 1, outcome.SyncCount)
}
