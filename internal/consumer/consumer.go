// Package consumer is the application side of the handoff. It owns the
// auto-sync preference and the stored interval, and it runs the real sync
// whenever the periodic job has left a pending signal.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/livinlefevreloca/remindersync/internal/handoff"
	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
	"github.com/livinlefevreloca/remindersync/internal/signal"
)

// Config defines how the consumer polls and throttles syncs
type Config struct {
	DefaultIntervalMinutes int           `toml:"default_interval_minutes"`
	PollInterval           time.Duration `toml:"poll_interval"`
	MinSyncSpacing         time.Duration `toml:"min_sync_spacing"`
	SyncCommand            []string      `toml:"sync_command"`
	SyncTimeout            time.Duration `toml:"sync_timeout"`
}

func DefaultConfig() Config {
	return Config{
		DefaultIntervalMinutes: 30,
		PollInterval:           1 * time.Minute,
		MinSyncSpacing:         30 * time.Second,
		SyncTimeout:            5 * time.Minute,
	}
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.DefaultIntervalMinutes <= 0 {
		return fmt.Errorf("consumer default_interval_minutes must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("consumer poll_interval must be positive")
	}
	if c.MinSyncSpacing < 0 {
		return fmt.Errorf("consumer min_sync_spacing must not be negative")
	}
	if len(c.SyncCommand) > 0 && c.SyncTimeout <= 0 {
		return fmt.Errorf("consumer sync_timeout must be positive when sync_command is set")
	}
	return nil
}

// SyncFunc performs the real sync for a pending signal
type SyncFunc func(ctx context.Context, sig signal.Signal) error

// Lifecycle is the part of lifecycle.Manager the consumer drives
type Lifecycle interface {
	Start(ctx context.Context, intervalMinutes int) (lifecycle.StartResult, error)
	Stop(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
}

// Handoff is the part of handoff.Service the consumer reads from
type Handoff interface {
	CheckPendingSync(ctx context.Context) (signal.Signal, error)
	ClearPendingSyncIf(ctx context.Context, triggeredAtMillis int64) (bool, error)
	Next(ctx context.Context) (handoff.Event, error)
	Discard() int
}

// Policy reports night hours
type Policy interface {
	IsSuppressed(now time.Time) bool

	// Hour is now's hour in the zone the decision is made in
	Hour(now time.Time) int
}

// Metrics counts syncs
type Metrics interface {
	RecordConsumerSync(ctx context.Context, success bool)
}

// Service is the consumer
type Service struct {
	config    Config
	lifecycle Lifecycle
	handoff   Handoff
	signals   *signal.Store
	policy    Policy
	sync      SyncFunc
	limiter   *rate.Limiter
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(config Config, lc Lifecycle, h Handoff, signals *signal.Store, policy Policy, sync SyncFunc, logger *slog.Logger, opts ...Option) *Service {
	limit := rate.Inf
	if config.MinSyncSpacing > 0 {
		limit = rate.Every(config.MinSyncSpacing)
	}

	s := &Service{
		config:    config,
		lifecycle: lc,
		handoff:   h,
		signals:   signals,
		policy:    policy,
		sync:      sync,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules periodic sync at the stored interval and enables auto-sync
// at boot
func (s *Service) Start(ctx context.Context) (lifecycle.StartResult, error) {
	minutes, err := s.signals.IntervalMinutes(ctx, s.config.DefaultIntervalMinutes)
	if err != nil {
		s.logger.Warn("failed to read stored interval, using default",
			"default_minutes", s.config.DefaultIntervalMinutes,
			"error", err)
		minutes = s.config.DefaultIntervalMinutes
	}

	res, err := s.lifecycle.Start(ctx, minutes)
	if err != nil {
		return lifecycle.StartResult{}, err
	}

	if err := s.signals.SetAutoSync(ctx, true); err != nil {
		return res, fmt.Errorf("failed to save auto-sync preference: %w", err)
	}

	s.logger.Info("background sync started",
		"job_name", res.JobName,
		"interval_minutes", res.EffectiveIntervalMinutes)
	return res, nil
}

// Stop cancels periodic sync and disables auto-sync at boot
func (s *Service) Stop(ctx context.Context) error {
	if err := s.lifecycle.Stop(ctx); err != nil {
		return err
	}

	if err := s.signals.SetAutoSync(ctx, false); err != nil {
		return fmt.Errorf("failed to save auto-sync preference: %w", err)
	}

	s.logger.Info("background sync stopped")
	return nil
}

// SetSyncInterval stores a new interval and applies it to a running job.
// It returns the interval actually stored.
func (s *Service) SetSyncInterval(ctx context.Context, minutes int) (int, error) {
	if minutes < lifecycle.MinIntervalMinutes {
		s.logger.Warn("interval adjusted to minimum",
			"requested_minutes", minutes,
			"interval_minutes", lifecycle.MinIntervalMinutes)
		minutes = lifecycle.MinIntervalMinutes
	}

	if err := s.signals.SetIntervalMinutes(ctx, minutes); err != nil {
		return 0, fmt.Errorf("failed to save sync interval: %w", err)
	}

	running, err := s.lifecycle.IsRunning(ctx)
	if err != nil {
		return minutes, err
	}
	if running {
		// Re-issuing start updates the job in place
		if _, err := s.lifecycle.Start(ctx, minutes); err != nil {
			return minutes, err
		}
	}

	s.logger.Info("sync interval updated", "interval_minutes", minutes, "applied", running)
	return minutes, nil
}

// State is what the consumer has stored: preferences and the outcome of the
// last background attempt
type State struct {
	AutoSync        bool
	PeriodicEnabled bool
	IntervalMinutes int

	// LastOutcome is nil until an attempt has finished
	LastOutcome *signal.Outcome
}

// State reads the stored preferences and the last attempt outcome
func (s *Service) State(ctx context.Context) (State, error) {
	var (
		st  State
		err error
	)

	if st.AutoSync, err = s.signals.AutoSync(ctx); err != nil {
		return State{}, fmt.Errorf("failed to read auto-sync preference: %w", err)
	}
	if st.PeriodicEnabled, err = s.signals.Periodic(ctx); err != nil {
		return State{}, fmt.Errorf("failed to read periodic sync state: %w", err)
	}
	if st.IntervalMinutes, err = s.signals.IntervalMinutes(ctx, s.config.DefaultIntervalMinutes); err != nil {
		return State{}, fmt.Errorf("failed to read sync interval: %w", err)
	}
	if st.LastOutcome, err = s.signals.LastOutcome(ctx); err != nil {
		return State{}, fmt.Errorf("failed to read last outcome: %w", err)
	}
	return st, nil
}

// CheckAndExecutePendingSync runs the sync if a signal is pending and it is
// not night. It reports whether a sync ran and succeeded. The signal is
// cleared only after a successful sync, and only if it was not raised again
// while the sync ran.
func (s *Service) CheckAndExecutePendingSync(ctx context.Context) (bool, error) {
	sig, err := s.handoff.CheckPendingSync(ctx)
	if err != nil {
		return false, err
	}
	if !sig.Pending {
		return false, nil
	}

	now := s.now()
	logger := s.logger.With("triggered_at", sig.TriggeredAtEpochMillis)

	if s.policy.IsSuppressed(now) {
		logger.Info("pending sync held until night hours end", "hour", s.policy.Hour(now))
		return false, nil
	}

	if !s.limiter.AllowN(now, 1) {
		logger.Debug("pending sync throttled")
		return false, nil
	}

	logger.Info("executing pending sync")
	start := time.Now()
	if err := s.sync(ctx, sig); err != nil {
		s.record(ctx, false)
		logger.Error("sync failed, signal left pending", "error", err)
		return false, fmt.Errorf("sync failed: %w", err)
	}
	s.record(ctx, true)

	cleared, err := s.handoff.ClearPendingSyncIf(ctx, sig.TriggeredAtEpochMillis)
	if err != nil {
		return true, err
	}

	logger.Info("pending sync completed", "duration", time.Since(start), "cleared", cleared)
	return true, nil
}

// Run checks for a pending sync immediately, then on every handoff event and
// every poll interval until ctx is done
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("consumer started", "poll_interval", s.config.PollInterval)

	for {
		if _, err := s.CheckAndExecutePendingSync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("error checking pending sync", "error", err)
		}

		pollCtx, cancel := context.WithTimeout(ctx, s.config.PollInterval)
		ev, err := s.handoff.Next(pollCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			s.logger.Info("consumer stopped")
			return nil
		case err == nil:
			// The next check reads the flag, which covers every queued event
			s.logger.Debug("handoff event received", "run_id", ev.RunID, "coalesced", s.handoff.Discard())
		case errors.Is(err, context.DeadlineExceeded):
		default:
			return fmt.Errorf("handoff receive failed: %w", err)
		}
	}
}

func (s *Service) record(ctx context.Context, success bool) {
	if s.metrics != nil {
		s.metrics.RecordConsumerSync(ctx, success)
	}
}
