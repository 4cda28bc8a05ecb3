package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

type testMsg struct {
	ID int
}

func TestInbox_Send_Success(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](10, 100*time.Millisecond, logger.Logger())

	for i := 0; i < 5; i++ {
		if !ib.Send(testMsg{ID: i}) {
			t.Errorf("expected send %d to succeed", i)
		}
	}

	stats := ib.GetStats()
	if stats.TotalSent != 5 {
		t.Errorf("expected TotalSent to be 5, got %d", stats.TotalSent)
	}
	if stats.TimeoutCount != 0 {
		t.Errorf("expected TimeoutCount to be 0, got %d", stats.TimeoutCount)
	}
	if stats.MaxDepthSeen != 5 {
		t.Errorf("expected MaxDepthSeen to be 5, got %d", stats.MaxDepthSeen)
	}
}

func TestInbox_Send_Timeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](2, 10*time.Millisecond, logger.Logger())

	ib.Send(testMsg{ID: 1})
	ib.Send(testMsg{ID: 2})

	if ib.Send(testMsg{ID: 3}) {
		t.Error("expected third send to timeout")
	}

	if got := ib.GetStats().TimeoutCount; got != 1 {
		t.Errorf("expected TimeoutCount to be 1, got %d", got)
	}
	if !logger.HasMessage("WARN", "inbox send timeout") {
		t.Error("expected timeout warning to be logged")
	}
}

func TestInbox_TrySend_DropsWhenFull(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](1, time.Second, logger.Logger())

	if !ib.TrySend(testMsg{ID: 1}) {
		t.Fatal("expected first send to succeed")
	}

	start := time.Now()
	if ib.TrySend(testMsg{ID: 2}) {
		t.Error("expected second send to be dropped")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("expected TrySend not to block")
	}

	stats := ib.GetStats()
	if stats.DroppedCount != 1 {
		t.Errorf("expected DroppedCount 1, got %d", stats.DroppedCount)
	}
}

func TestInbox_TryReceive(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](10, time.Second, logger.Logger())

	if _, ok := ib.TryReceive(); ok {
		t.Error("expected empty inbox")
	}

	for i := 0; i < 3; i++ {
		ib.Send(testMsg{ID: i})
	}

	for i := 0; i < 3; i++ {
		msg, ok := ib.TryReceive()
		if !ok {
			t.Fatalf("expected message %d", i)
		}
		if msg.ID != i {
			t.Errorf("expected FIFO order, got %d at %d", msg.ID, i)
		}
	}

	if got := ib.GetStats().TotalReceived; got != 3 {
		t.Errorf("expected TotalReceived 3, got %d", got)
	}
}

func TestInbox_Receive_ContextCancelled(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](1, time.Second, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ib.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestInbox_Receive_Blocks(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](1, time.Second, logger.Logger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		ib.Send(testMsg{ID: 7})
	}()

	msg, err := ib.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 7 {
		t.Errorf("expected message 7, got %d", msg.ID)
	}
}

func TestInbox_Drain(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[testMsg](5, time.Second, logger.Logger())

	for i := 0; i < 4; i++ {
		ib.Send(testMsg{ID: i})
	}

	if n := ib.Drain(); n != 4 {
		t.Errorf("expected 4 drained, got %d", n)
	}
	if ib.Len() != 0 {
		t.Errorf("expected empty inbox, got %d", ib.Len())
	}
}
