// Package signal is the persisted handoff between the background sync attempt
// and the application that performs the sync.
//
// The pending flag and its trigger timestamp are written together in one
// atomic edit. Nothing here takes an in-process lock; the store's atomic
// writes are the only synchronisation between writer and consumer.
package signal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/kvstore"
)

// Keys stored in the backing key-value store
const (
	KeyPendingSync     = "pending_sync"
	KeyTriggeredAt     = "sync_triggered_at"
	KeyPeriodicEnabled = "periodic_sync_enabled"
	KeyIntervalMinutes = "sync_interval_minutes"
	KeyLastStatus      = "last_status"
	KeyLastSyncCount   = "last_sync_count"
	KeyLastOutcomeAt   = "last_outcome_at"
	KeyAutoSync        = "auto_sync_enabled"
)

// Signal is the pending-sync flag and the time it was last raised.
// TriggeredAtEpochMillis is 0 when the flag has never been raised and is left
// stale after a clear.
type Signal struct {
	Pending                bool
	TriggeredAtEpochMillis int64
}

// Outcome is the result of the most recent sync attempt
type Outcome struct {
	Status          string
	SyncCount       int
	TimestampMillis int64
}

// Store reads and writes the handoff signal and related preferences
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// MarkPending raises the pending flag and stamps it with at
func (s *Store) MarkPending(ctx context.Context, at time.Time) error {
	err := s.kv.Apply(ctx,
		kvstore.SetBool(KeyPendingSync, true),
		kvstore.SetInt64(KeyTriggeredAt, at.UnixMilli()),
	)
	if err != nil {
		return fmt.Errorf("failed to mark sync pending: %w", err)
	}
	return nil
}

// Pending returns the current signal
func (s *Store) Pending(ctx context.Context) (Signal, error) {
	pending, err := kvstore.GetBool(ctx, s.kv, KeyPendingSync, false)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read pending flag: %w", err)
	}

	at, err := kvstore.GetInt64(ctx, s.kv, KeyTriggeredAt, 0)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read trigger time: %w", err)
	}

	return Signal{Pending: pending, TriggeredAtEpochMillis: at}, nil
}

// ClearPending lowers the pending flag. The trigger timestamp is kept.
func (s *Store) ClearPending(ctx context.Context) error {
	if err := s.kv.Apply(ctx, kvstore.SetBool(KeyPendingSync, false)); err != nil {
		return fmt.Errorf("failed to clear pending sync: %w", err)
	}
	return nil
}

// ClearPendingIf lowers the pending flag only if it was last raised at
// triggeredAtMillis. A signal raised again since then stays pending. It
// reports whether the flag was cleared.
func (s *Store) ClearPendingIf(ctx context.Context, triggeredAtMillis int64) (bool, error) {
	cleared, err := s.kv.ApplyIf(ctx, KeyTriggeredAt, strconv.FormatInt(triggeredAtMillis, 10),
		kvstore.SetBool(KeyPendingSync, false))
	if err != nil {
		return false, fmt.Errorf("failed to clear pending sync: %w", err)
	}
	return cleared, nil
}

// RecordOutcome stores the result of a sync attempt
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) error {
	err := s.kv.Apply(ctx,
		kvstore.SetString(KeyLastStatus, o.Status),
		kvstore.SetInt(KeyLastSyncCount, o.SyncCount),
		kvstore.SetInt64(KeyLastOutcomeAt, o.TimestampMillis),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// LastOutcome returns the most recent recorded outcome, or nil if none
func (s *Store) LastOutcome(ctx context.Context) (*Outcome, error) {
	status, err := kvstore.GetString(ctx, s.kv, KeyLastStatus, "")
	if err != nil {
		return nil, err
	}
	if status == "" {
		return nil, nil
	}

	count, err := kvstore.GetInt(ctx, s.kv, KeyLastSyncCount, 0)
	if err != nil {
		return nil, err
	}
	at, err := kvstore.GetInt64(ctx, s.kv, KeyLastOutcomeAt, 0)
	if err != nil {
		return nil, err
	}

	return &Outcome{Status: status, SyncCount: count, TimestampMillis: at}, nil
}

// SetPeriodic records whether periodic sync is enabled and at which interval
func (s *Store) SetPeriodic(ctx context.Context, enabled bool, intervalMinutes int) error {
	edits := []kvstore.Edit{kvstore.SetBool(KeyPeriodicEnabled, enabled)}
	if enabled {
		edits = append(edits, kvstore.SetInt(KeyIntervalMinutes, intervalMinutes))
	}
	if err := s.kv.Apply(ctx, edits...); err != nil {
		return fmt.Errorf("failed to record periodic sync state: %w", err)
	}
	return nil
}

// Periodic reports whether periodic sync was last recorded as enabled
func (s *Store) Periodic(ctx context.Context) (bool, error) {
	return kvstore.GetBool(ctx, s.kv, KeyPeriodicEnabled, false)
}

// IntervalMinutes returns the stored sync interval, or def if none was stored
func (s *Store) IntervalMinutes(ctx context.Context, def int) (int, error) {
	return kvstore.GetInt(ctx, s.kv, KeyIntervalMinutes, def)
}

func (s *Store) SetIntervalMinutes(ctx context.Context, minutes int) error {
	return s.kv.Apply(ctx, kvstore.SetInt(KeyIntervalMinutes, minutes))
}

// AutoSync returns the auto-sync preference read at boot
func (s *Store) AutoSync(ctx context.Context) (bool, error) {
	return kvstore.GetBool(ctx, s.kv, KeyAutoSync, false)
}

func (s *Store) SetAutoSync(ctx context.Context, enabled bool) error {
	return s.kv.Apply(ctx, kvstore.SetBool(KeyAutoSync, enabled))
}
