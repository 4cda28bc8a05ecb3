// Package handoff is the query side of the pending-sync signal: the consumer
// checks and clears the persisted flag here and can wait on an in-process
// event stream for low-latency wake-ups.
//
// The persisted flag is the source of truth. Events are a hint; a dropped
// event only delays the consumer until its next poll.
package handoff

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/remindersync/internal/inbox"
	"github.com/livinlefevreloca/remindersync/internal/signal"
)

// Event announces that a sync attempt raised the pending flag
type Event struct {
	RunID       uuid.UUID
	TriggeredAt time.Time
}

// DropCounter counts events dropped by Publish
type DropCounter interface {
	RecordHandoffDropped(ctx context.Context)
}

// Service checks, clears and announces the pending-sync signal
type Service struct {
	signals *signal.Store
	events  *inbox.Inbox[Event]
	drops   DropCounter
	logger  *slog.Logger
}

// Option configures a Service
type Option func(*Service)

func WithDropCounter(c DropCounter) Option {
	return func(s *Service) { s.drops = c }
}

// NewService creates a handoff service. bufferSize bounds the number of
// undelivered events.
func NewService(signals *signal.Store, bufferSize int, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		signals: signals,
		events:  inbox.New[Event](bufferSize, 0, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckPendingSync reads the pending flag and its trigger time
func (s *Service) CheckPendingSync(ctx context.Context) (signal.Signal, error) {
	return s.signals.Pending(ctx)
}

// ClearPendingSync lowers the pending flag. Clearing an already clear flag
// succeeds.
func (s *Service) ClearPendingSync(ctx context.Context) error {
	if err := s.signals.ClearPending(ctx); err != nil {
		return err
	}
	s.logger.Debug("pending sync cleared")
	return nil
}

// ClearPendingSyncIf lowers the pending flag only if it still carries the
// trigger time the caller handled. It reports whether the flag was cleared.
func (s *Service) ClearPendingSyncIf(ctx context.Context, triggeredAtMillis int64) (bool, error) {
	cleared, err := s.signals.ClearPendingIf(ctx, triggeredAtMillis)
	if err != nil {
		return false, err
	}
	if cleared {
		s.logger.Debug("pending sync cleared", "triggered_at", triggeredAtMillis)
	} else {
		s.logger.Info("pending sync raised again while handled, left pending", "handled_triggered_at", triggeredAtMillis)
	}
	return cleared, nil
}

// Publish announces ev without blocking. It returns false if the event was
// dropped because nobody drained earlier ones.
func (s *Service) Publish(ev Event) bool {
	if !s.events.TrySend(ev) {
		s.logger.Debug("handoff event dropped", "run_id", ev.RunID)
		if s.drops != nil {
			s.drops.RecordHandoffDropped(context.Background())
		}
		return false
	}
	return true
}

// Next waits for the next event or for ctx to end
func (s *Service) Next(ctx context.Context) (Event, error) {
	return s.events.Receive(ctx)
}

// Discard drops every undelivered event and returns how many there were.
// Callers use it once a check has read the persisted flag those events
// pointed at.
func (s *Service) Discard() int {
	return s.events.Drain()
}

// Stats returns event delivery counters
func (s *Service) Stats() inbox.Stats {
	return s.events.GetStats()
}
