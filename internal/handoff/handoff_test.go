package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/remindersync/internal/kvstore"
	"github.com/livinlefevreloca/remindersync/internal/signal"
	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

func newService(t *testing.T, bufferSize int) (*Service, *signal.Store, *kvstore.Memory) {
	t.Helper()
	kv := kvstore.NewMemory()
	signals := signal.NewStore(kv)
	return NewService(signals, bufferSize, testutil.NewTestLogger().Logger()), signals, kv
}

func TestCheckPendingSync_NeverRaised(t *testing.T) {
	svc, _, _ := newService(t, 1)

	sig, err := svc.CheckPendingSync(context.Background())
	require.NoError(t, err)
	assert.False(t, sig.Pending)
	assert.Equal(t, int64(0), sig.TriggeredAtEpochMillis)
}

func TestCheckThenClear(t *testing.T) {
	svc, signals, _ := newService(t, 1)
	ctx := context.Background()
	at := time.UnixMilli(1700000000123)

	require.NoError(t, signals.MarkPending(ctx, at))

	sig, err := svc.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.True(t, sig.Pending)
	assert.Equal(t, at.UnixMilli(), sig.TriggeredAtEpochMillis)

	require.NoError(t, svc.ClearPendingSync(ctx))
	require.NoError(t, svc.ClearPendingSync(ctx), "clearing twice succeeds")

	sig, err = svc.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.False(t, sig.Pending)
	assert.Equal(t, at.UnixMilli(), sig.TriggeredAtEpochMillis, "timestamp is left stale")
}

func TestCheckPendingSync_StoreError(t *testing.T) {
	svc, _, kv := newService(t, 1)
	kv.LookupErr = assert.AnError

	_, err := svc.CheckPendingSync(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestClearPendingSync_StoreError(t *testing.T) {
	svc, _, kv := newService(t, 1)
	kv.ApplyErr = assert.AnError

	assert.ErrorIs(t, svc.ClearPendingSync(context.Background()), assert.AnError)
}

func TestPublishAndNext(t *testing.T) {
	svc, _, _ := newService(t, 1)
	ev := Event{RunID: uuid.New(), TriggeredAt: time.UnixMilli(1700000000000)}

	assert.True(t, svc.Publish(ev))
	assert.False(t, svc.Publish(Event{RunID: uuid.New()}), "full inbox drops")

	got, err := svc.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.TotalSent)
	assert.Equal(t, int64(1), stats.DroppedCount)
}

func TestNext_ContextDone(t *testing.T) {
	svc, _, _ := newService(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type dropCounter struct{ drops int }

func (d *dropCounter) RecordHandoffDropped(context.Context) { d.drops++ }

func TestPublish_CountsDrops(t *testing.T) {
	counter := &dropCounter{}
	svc := NewService(signal.NewStore(kvstore.NewMemory()), 1, testutil.NewTestLogger().Logger(), WithDropCounter(counter))

	assert.True(t, svc.Publish(Event{RunID: uuid.New()}))
	assert.False(t, svc.Publish(Event{RunID: uuid.New()}))
	assert.False(t, svc.Publish(Event{RunID: uuid.New()}))

	assert.Equal(t, 2, counter.drops)
}

func TestClearPendingSyncIf_KeepsNewerTrigger(t *testing.T) {
	svc, signals, _ := newService(t, 1)
	ctx := context.Background()

	first := time.UnixMilli(1700000000000)
	require.NoError(t, signals.MarkPending(ctx, first))
	require.NoError(t, signals.MarkPending(ctx, first.Add(15*time.Minute)))

	cleared, err := svc.ClearPendingSyncIf(ctx, first.UnixMilli())
	require.NoError(t, err)
	assert.False(t, cleared)

	sig, err := svc.CheckPendingSync(ctx)
	require.NoError(t, err)
	assert.True(t, sig.Pending)

	cleared, err = svc.ClearPendingSyncIf(ctx, sig.TriggeredAtEpochMillis)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestDiscard(t *testing.T) {
	svc, _, _ := newService(t, 4)

	for range 3 {
		require.True(t, svc.Publish(Event{RunID: uuid.New()}))
	}

	assert.Equal(t, 3, svc.Discard())
	assert.Equal(t, 0, svc.Discard())
	assert.Equal(t, 0, svc.Stats().CurrentDepth)
}
