package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/engine/enginetest"
	"github.com/livinlefevreloca/remindersync/internal/handoff"
	"github.com/livinlefevreloca/remindersync/internal/kvstore"
	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
	"github.com/livinlefevreloca/remindersync/internal/signal"
	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

type fixture struct {
	bridge  *Bridge
	engine  *enginetest.Fake
	kv      *kvstore.Memory
	signals *signal.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testutil.NewTestLogger().Logger()
	f := &fixture{engine: enginetest.New(), kv: kvstore.NewMemory()}
	f.signals = signal.NewStore(f.kv)
	lc := lifecycle.NewManager(f.engine, f.signals, lifecycle.DefaultConfig(), logger)
	f.bridge = New(lc, handoff.NewService(f.signals, 4, logger), logger)
	return f
}

func requireBridgeError(t *testing.T, err error, message string) {
	t.Helper()

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, ErrorCode, bErr.Code)
	assert.Equal(t, message, bErr.Message)
}

// =============================================================================
// Happy paths
// =============================================================================

func TestStartPeriodicSync(t *testing.T) {
	f := newFixture(t)

	resp, err := f.bridge.StartPeriodicSync(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StartResponse{Success: true, IntervalMinutes: 15, WorkName: lifecycle.DefaultJobName}, resp)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"intervalMinutes":15,"workName":"ReminderSync"}`, string(out))
}

func TestStopPeriodicSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bridge.StartPeriodicSync(ctx, 30)
	require.NoError(t, err)

	resp, err := f.bridge.StopPeriodicSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopResponse{Success: true, Message: "Sync stopped successfully"}, resp)

	running, err := f.bridge.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running.IsRunning)
}

func TestStopPeriodicSync_NothingScheduled(t *testing.T) {
	f := newFixture(t)

	resp, err := f.bridge.StopPeriodicSync(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestGetWorkStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.bridge.GetWorkStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusResponse{State: "NOT_SCHEDULED"}, resp)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"NOT_SCHEDULED","runAttemptCount":0}`, string(out))

	_, err = f.bridge.StartPeriodicSync(ctx, 30)
	require.NoError(t, err)

	running, err := f.bridge.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running.IsRunning)

	info := f.engine.Get(lifecycle.DefaultJobName)
	info.State = engine.StateSucceeded
	info.Output = engine.Data{"status": "completed", "sync_count": 1, "timestamp": int64(1)}
	f.engine.Put(info)

	resp, err = f.bridge.GetWorkStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", resp.State)
	assert.Equal(t, info.ID.String(), resp.ID)
	assert.Equal(t, "completed", resp.LastStatus)
}

func TestPendingSync_CheckAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000123)

	resp, err := f.bridge.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, PendingResponse{}, resp)

	require.NoError(t, f.signals.MarkPending(ctx, at))

	resp, err = f.bridge.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, PendingResponse{HasPendingSync: true, TriggeredAt: at.UnixMilli()}, resp)

	for range 2 {
		cleared, err := f.bridge.ClearPendingSync(ctx)
		require.NoError(t, err)
		assert.True(t, cleared.Success)
	}

	resp, err = f.bridge.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.False(t, resp.HasPendingSync)
	assert.Equal(t, at.UnixMilli(), resp.TriggeredAt)
}

// =============================================================================
// Errors
// =============================================================================

func TestErrors(t *testing.T) {
	engineErr := errors.New("engine down")
	storeErr := errors.New("disk full")

	tests := []struct {
		name    string
		setup   func(f *fixture)
		call    func(b *Bridge) error
		message string
	}{
		{
			name:  "start",
			setup: func(f *fixture) { f.engine.EnqueueErr = engineErr },
			call: func(b *Bridge) error {
				_, err := b.StartPeriodicSync(context.Background(), 30)
				return err
			},
			message: "Failed to start sync: engine down",
		},
		{
			name:  "stop",
			setup: func(f *fixture) { f.engine.CancelErr = engineErr },
			call: func(b *Bridge) error {
				_, err := b.StopPeriodicSync(context.Background())
				return err
			},
			message: "Failed to stop sync: engine down",
		},
		{
			name:  "is running",
			setup: func(f *fixture) { f.engine.QueryErr = engineErr },
			call: func(b *Bridge) error {
				_, err := b.IsSyncRunning(context.Background())
				return err
			},
			message: "Failed to check status: engine down",
		},
		{
			name:  "status",
			setup: func(f *fixture) { f.engine.QueryErr = engineErr },
			call: func(b *Bridge) error {
				_, err := b.GetWorkStatus(context.Background())
				return err
			},
			message: "Failed to get status: engine down",
		},
		{
			name:  "check pending",
			setup: func(f *fixture) { f.kv.LookupErr = storeErr },
			call: func(b *Bridge) error {
				_, err := b.CheckPendingSync(context.Background())
				return err
			},
			message: "Failed to check pending sync: failed to read pending flag: disk full",
		},
		{
			name:  "clear pending",
			setup: func(f *fixture) { f.kv.ApplyErr = storeErr },
			call: func(b *Bridge) error {
				_, err := b.ClearPendingSync(context.Background())
				return err
			},
			message: "Failed to clear pending sync: failed to clear pending sync: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			requireBridgeError(t, tt.call(f.bridge), tt.message)
		})
	}
}

type panickingLifecycle struct{}

func (panickingLifecycle) Start(context.Context, int) (lifecycle.StartResult, error) {
	panic("nil engine")
}

func (panickingLifecycle) Stop(context.Context) error {
	panic("nil engine")
}

func (panickingLifecycle) IsRunning(context.Context) (bool, error) {
	panic("nil engine")
}

func (panickingLifecycle) Status(context.Context) (lifecycle.Snapshot, error) {
	panic("nil engine")
}

func TestPanicsBecomeErrors(t *testing.T) {
	logger := testutil.NewTestLogger()
	b := New(panickingLifecycle{}, nil, logger.Logger())

	resp, err := b.StartPeriodicSync(context.Background(), 30)
	requireBridgeError(t, err, "Failed to start sync: nil engine")
	assert.Equal(t, StartResponse{}, resp)

	_, err = b.GetWorkStatus(context.Background())
	requireBridgeError(t, err, "Failed to get status: nil engine")

	assert.True(t, logger.HasMessage("ERROR", "bridge operation panicked"))
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: ErrorCode, Message: "Failed to stop sync: boom"}
	assert.Equal(t, "WORKMANAGER_ERROR: Failed to stop sync: boom", err.Error())
}
