package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/remindersync/internal/blackout"
	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/engine/enginetest"
	"github.com/livinlefevreloca/remindersync/internal/executor"
	"github.com/livinlefevreloca/remindersync/internal/kvstore"
	"github.com/livinlefevreloca/remindersync/internal/signal"
	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

// =============================================================================
// Helpers
// =============================================================================

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) EnqueueOrReplace(ctx context.Context, req engine.PeriodicRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockEngine) Cancel(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockEngine) QueryStatus(ctx context.Context, name string) (*engine.WorkInfo, error) {
	args := m.Called(ctx, name)
	info, _ := args.Get(0).(*engine.WorkInfo)
	return info, args.Error(1)
}

func newFakeManager(t *testing.T) (*Manager, *enginetest.Fake, *signal.Store) {
	t.Helper()
	fake := enginetest.New()
	signals := signal.NewStore(kvstore.NewMemory())
	return NewManager(fake, signals, DefaultConfig(), testutil.NewTestLogger().Logger()), fake, signals
}

// =============================================================================
// Start
// =============================================================================

func TestStart_ClampsInterval(t *testing.T) {
	tests := []struct {
		requested int
		effective int
	}{
		{requested: 5, effective: 15},
		{requested: 0, effective: 15},
		{requested: -10, effective: 15},
		{requested: 15, effective: 15},
		{requested: 30, effective: 30},
		{requested: 240, effective: 240},
	}

	for _, tt := range tests {
		m, fake, _ := newFakeManager(t)

		res, err := m.Start(context.Background(), tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.effective, res.EffectiveIntervalMinutes, "requested %d", tt.requested)
		assert.Equal(t, DefaultJobName, res.JobName)

		req, ok := fake.LastRequest()
		require.True(t, ok)
		assert.Equal(t, time.Duration(tt.effective)*time.Minute, req.Interval)
	}
}

func TestStart_RequestShape(t *testing.T) {
	eng := &mockEngine{}
	eng.On("EnqueueOrReplace", mock.Anything, engine.PeriodicRequest{
		Name:     DefaultJobName,
		Worker:   executor.WorkerName,
		Interval: 30 * time.Minute,
		Constraints: engine.Constraints{
			RequiredNetwork:       engine.NetworkConnected,
			RequiresStorageNotLow: true,
		},
	}).Return(nil).Once()

	m := NewManager(eng, nil, DefaultConfig(), testutil.NewTestLogger().Logger())
	_, err := m.Start(context.Background(), 30)
	require.NoError(t, err)

	eng.AssertExpectations(t)
}

func TestStart_NetworkNotRequired(t *testing.T) {
	config := DefaultConfig()
	config.RequireNetwork = false
	config.RequireStorageNotLow = false

	fake := enginetest.New()
	m := NewManager(fake, nil, config, testutil.NewTestLogger().Logger())
	_, err := m.Start(context.Background(), 30)
	require.NoError(t, err)

	req, _ := fake.LastRequest()
	assert.Equal(t, engine.NetworkNotRequired, req.Constraints.RequiredNetwork)
	assert.False(t, req.Constraints.RequiresStorageNotLow)
}

func TestStart_SecondStartReplaces(t *testing.T) {
	m, fake, _ := newFakeManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, 30)
	require.NoError(t, err)
	first := fake.Get(DefaultJobName)

	_, err = m.Start(ctx, 60)
	require.NoError(t, err)
	second := fake.Get(DefaultJobName)

	assert.Equal(t, first.ID, second.ID, "one job per name")
	assert.Equal(t, 60*time.Minute, second.Interval)
	assert.Len(t, fake.Requests, 2)
}

func TestStart_RecordsPeriodicPreference(t *testing.T) {
	m, _, signals := newFakeManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, 5)
	require.NoError(t, err)

	enabled, err := signals.Periodic(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	minutes, err := signals.IntervalMinutes(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 15, minutes)
}

func TestStart_EngineError(t *testing.T) {
	eng := &mockEngine{}
	eng.On("EnqueueOrReplace", mock.Anything, mock.Anything).Return(errors.New("engine unavailable"))

	logger := testutil.NewTestLogger()
	m := NewManager(eng, nil, DefaultConfig(), logger.Logger())

	_, err := m.Start(context.Background(), 30)
	require.Error(t, err)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "start", opErr.Op)
	assert.Equal(t, "engine unavailable", opErr.Err.Error())
	assert.Equal(t, "start sync job: engine unavailable", err.Error())
	assert.True(t, logger.HasError())
}

// =============================================================================
// Stop
// =============================================================================

func TestStop(t *testing.T) {
	m, fake, signals := newFakeManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, 30)
	require.NoError(t, err)
	require.NoError(t, m.Stop(ctx))

	running, err := m.IsRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, engine.StateCancelled, fake.Get(DefaultJobName).State)

	enabled, err := signals.Periodic(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestStop_NeverStarted(t *testing.T) {
	m, _, _ := newFakeManager(t)

	assert.NoError(t, m.Stop(context.Background()))
	assert.NoError(t, m.Stop(context.Background()))
}

func TestStop_EngineError(t *testing.T) {
	eng := &mockEngine{}
	eng.On("Cancel", mock.Anything, DefaultJobName).Return(assert.AnError)

	m := NewManager(eng, nil, DefaultConfig(), testutil.NewTestLogger().Logger())
	err := m.Stop(context.Background())

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "stop", opErr.Op)
	assert.ErrorIs(t, err, assert.AnError)
}

// =============================================================================
// IsRunning / Status
// =============================================================================

func TestIsRunning_States(t *testing.T) {
	tests := []struct {
		state engine.WorkState
		want  bool
	}{
		{engine.StateEnqueued, true},
		{engine.StateRunning, true},
		{engine.StateSucceeded, false},
		{engine.StateFailed, false},
		{engine.StateCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m, fake, _ := newFakeManager(t)
			fake.Put(&engine.WorkInfo{ID: uuid.New(), Name: DefaultJobName, State: tt.state})

			got, err := m.IsRunning(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsRunning_NotScheduled(t *testing.T) {
	m, _, _ := newFakeManager(t)

	got, err := m.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestStatus_NotScheduled(t *testing.T) {
	m, _, _ := newFakeManager(t)

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{State: StateNotScheduled}, snap)
}

func TestStatus_AfterStart(t *testing.T) {
	m, fake, _ := newFakeManager(t)

	_, err := m.Start(context.Background(), 30)
	require.NoError(t, err)

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ENQUEUED", snap.State)
	assert.Equal(t, 0, snap.RunAttemptCount)
	assert.Equal(t, fake.Get(DefaultJobName).ID.String(), snap.ID)
	assert.Empty(t, snap.LastStatus)
}

func TestStatus_SucceededOutput(t *testing.T) {
	tests := []struct {
		name   string
		output engine.Data
		want   string
	}{
		{"completed", engine.Data{"status": "completed", "sync_count": 1}, "completed"},
		{"skipped", engine.Data{"status": "skipped_night", "sync_count": 0}, "skipped_night"},
		{"missing status", engine.Data{"sync_count": 1}, StatusUnknown},
		{"no output", nil, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fake, _ := newFakeManager(t)
			fake.Put(&engine.WorkInfo{ID: uuid.New(), Name: DefaultJobName, State: engine.StateSucceeded, Output: tt.output})

			snap, err := m.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "SUCCEEDED", snap.State)
			assert.Equal(t, tt.want, snap.LastStatus)
		})
	}
}

func TestStatus_FromLastRun(t *testing.T) {
	m, fake, _ := newFakeManager(t)
	fake.Put(&engine.WorkInfo{
		ID:              uuid.New(),
		Name:            DefaultJobName,
		State:           engine.StateEnqueued,
		RunAttemptCount: 2,
		LastRun: &engine.RunInfo{
			State:  engine.StateSucceeded,
			Output: engine.Data{"status": "skipped_night"},
		},
	})

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ENQUEUED", snap.State)
	assert.Equal(t, 2, snap.RunAttemptCount)
	assert.Equal(t, "skipped_night", snap.LastStatus)
}

func TestStatus_LocalEngineAfterAttempt(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewTestLogger().Logger()
	signals := signal.NewStore(kvstore.NewMemory())

	eng, err := engine.NewLocal(engine.DefaultConfig(), engine.NewMemoryRepository(), engine.AllowAll{}, logger)
	require.NoError(t, err)

	noon := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	window := blackout.Window{StartHour: 20, EndHour: 9, Location: time.UTC}
	eng.RegisterWorker(executor.WorkerName, executor.New(window, signals, logger,
		executor.WithClock(func() time.Time { return noon })))

	require.NoError(t, eng.Start(ctx))
	t.Cleanup(eng.Stop)

	m := NewManager(eng, signals, DefaultConfig(), logger)
	_, err = m.Start(ctx, 15)
	require.NoError(t, err)

	var snap Snapshot
	testutil.WaitFor(t, func() bool {
		snap, err = m.Status(ctx)
		return err == nil && snap.LastStatus != ""
	}, 2*time.Second, "first attempt finished")

	// A periodic record returns to ENQUEUED; the finished run carries the label
	assert.Equal(t, "ENQUEUED", snap.State)
	assert.Equal(t, executor.StatusCompleted, snap.LastStatus)
	assert.Equal(t, 0, snap.RunAttemptCount)

	sig, err := signals.Pending(ctx)
	require.NoError(t, err)
	assert.True(t, sig.Pending)
	assert.Equal(t, noon.UnixMilli(), sig.TriggeredAtEpochMillis)
}

func TestStatus_FailedRunHasNoLabel(t *testing.T) {
	m, fake, _ := newFakeManager(t)
	fake.Put(&engine.WorkInfo{
		ID:      uuid.New(),
		Name:    DefaultJobName,
		State:   engine.StateEnqueued,
		LastRun: &engine.RunInfo{State: engine.StateFailed},
	})

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.LastStatus)
}

func TestStatus_EngineError(t *testing.T) {
	eng := &mockEngine{}
	eng.On("QueryStatus", mock.Anything, DefaultJobName).Return(nil, assert.AnError)

	m := NewManager(eng, nil, DefaultConfig(), testutil.NewTestLogger().Logger())

	_, err := m.Status(context.Background())
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "query", opErr.Op)

	_, err = m.IsRunning(context.Background())
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "check", opErr.Op)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{}.Validate())
}
