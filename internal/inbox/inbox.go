package inbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Inbox is a bounded, typed message channel with send timeouts and usage stats
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	totalSent     atomic.Int64
	totalReceived atomic.Int64
	timeoutCount  atomic.Int64
	droppedCount  atomic.Int64
	maxDepthSeen  atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	DroppedCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates a new inbox with the specified buffer size and send timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send sends a message, waiting up to the inbox timeout for room.
// Returns false if the timeout elapsed.
func (ib *Inbox[T]) Send(msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent()
		return true
	case <-timer.C:
		ib.timeoutCount.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	}
}

// TrySend sends without blocking. Returns false and counts a drop when full.
func (ib *Inbox[T]) TrySend(msg T) bool {
	select {
	case ib.ch <- msg:
		ib.sent()
		return true
	default:
		ib.droppedCount.Add(1)
		ib.logger.Debug("inbox full, message dropped", "current_depth", len(ib.ch))
		return false
	}
}

func (ib *Inbox[T]) sent() {
	ib.totalSent.Add(1)

	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepthSeen.Load()
		if depth <= seen || ib.maxDepthSeen.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// TryReceive attempts to receive a message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.totalReceived.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a message is available or ctx is done
func (ib *Inbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case msg := <-ib.ch:
		ib.totalReceived.Add(1)
		return msg, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain discards every buffered message and returns how many were removed
func (ib *Inbox[T]) Drain() int {
	n := 0
	for {
		if _, ok := ib.TryReceive(); !ok {
			return n
		}
		n++
	}
}

// GetStats returns a snapshot of the inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     ib.totalSent.Load(),
		TotalReceived: ib.totalReceived.Load(),
		TimeoutCount:  ib.timeoutCount.Load(),
		DroppedCount:  ib.droppedCount.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepthSeen.Load()),
	}
}

// Len returns the current number of messages in the inbox
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}
