// Package lifecycle manages the single recurring reminder-sync job: it
// registers, updates and cancels it with the engine and reports its status.
//
// The engine's record is authoritative. Nothing here caches job state.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/executor"
	"github.com/livinlefevreloca/remindersync/internal/signal"
)

const (
	// MinIntervalMinutes is the shortest period the engine will honour
	MinIntervalMinutes = 15

	DefaultJobName = "ReminderSync"

	// StateNotScheduled is reported when the engine has no record of the job
	StateNotScheduled = "NOT_SCHEDULED"

	// StatusUnknown is reported for a successful run whose output has no status
	StatusUnknown = "unknown"
)

// Config names the job and its preconditions
type Config struct {
	JobName              string `toml:"job_name"`
	RequireNetwork       bool   `toml:"require_network"`
	RequireStorageNotLow bool   `toml:"require_storage_not_low"`
}

func DefaultConfig() Config {
	return Config{
		JobName:              DefaultJobName,
		RequireNetwork:       true,
		RequireStorageNotLow: true,
	}
}

func (c Config) Validate() error {
	if c.JobName == "" {
		return fmt.Errorf("sync job_name must not be empty")
	}
	return nil
}

// constraints are fixed apart from network and storage: charging and idle are
// never required and low battery is tolerated
func (c Config) constraints() engine.Constraints {
	network := engine.NetworkNotRequired
	if c.RequireNetwork {
		network = engine.NetworkConnected
	}
	return engine.Constraints{
		RequiredNetwork:       network,
		RequiresStorageNotLow: c.RequireStorageNotLow,
	}
}

// OpError is returned when the engine fails a lifecycle operation
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s sync job: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// StartResult reports what was actually scheduled
type StartResult struct {
	EffectiveIntervalMinutes int
	JobName                  string
}

// Snapshot is the job status recomputed from the engine record
type Snapshot struct {
	State           string
	RunAttemptCount int

	// ID is empty when the job is not scheduled
	ID string

	// LastStatus is the outcome label of the last successful run, or empty
	LastStatus string
}

// Manager is the job lifecycle manager
type Manager struct {
	engine  engine.Engine
	signals *signal.Store
	config  Config
	logger  *slog.Logger
}

// NewManager creates a manager. signals may be nil, in which case the
// periodic-sync preference is not recorded.
func NewManager(eng engine.Engine, signals *signal.Store, config Config, logger *slog.Logger) *Manager {
	return &Manager{
		engine:  eng,
		signals: signals,
		config:  config,
		logger:  logger,
	}
}

// JobName returns the unique name the job is registered under
func (m *Manager) JobName() string {
	return m.config.JobName
}

// Start schedules the job, or updates the existing one in place. Intervals
// below MinIntervalMinutes are raised to it.
func (m *Manager) Start(ctx context.Context, intervalMinutes int) (StartResult, error) {
	effective := max(intervalMinutes, MinIntervalMinutes)

	req := engine.PeriodicRequest{
		Name:        m.config.JobName,
		Worker:      executor.WorkerName,
		Interval:    time.Duration(effective) * time.Minute,
		Constraints: m.config.constraints(),
	}
	if err := m.engine.EnqueueOrReplace(ctx, req); err != nil {
		m.logger.Error("failed to start sync job", "job_name", m.config.JobName, "error", err)
		return StartResult{}, &OpError{Op: "start", Err: err}
	}

	m.recordPeriodic(ctx, true, effective)

	m.logger.Info("sync job scheduled",
		"job_name", m.config.JobName,
		"requested_minutes", intervalMinutes,
		"interval_minutes", effective)

	return StartResult{EffectiveIntervalMinutes: effective, JobName: m.config.JobName}, nil
}

// Stop cancels the job. Stopping a job that was never started succeeds.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.engine.Cancel(ctx, m.config.JobName); err != nil {
		m.logger.Error("failed to stop sync job", "job_name", m.config.JobName, "error", err)
		return &OpError{Op: "stop", Err: err}
	}

	m.recordPeriodic(ctx, false, 0)

	m.logger.Info("sync job stopped", "job_name", m.config.JobName)
	return nil
}

// IsRunning reports whether the job is waiting for or executing a run
func (m *Manager) IsRunning(ctx context.Context) (bool, error) {
	info, err := m.engine.QueryStatus(ctx, m.config.JobName)
	if err != nil {
		return false, &OpError{Op: "check", Err: err}
	}
	if info == nil {
		return false, nil
	}
	return info.State == engine.StateEnqueued || info.State == engine.StateRunning, nil
}

// Status returns the job's current snapshot
func (m *Manager) Status(ctx context.Context) (Snapshot, error) {
	info, err := m.engine.QueryStatus(ctx, m.config.JobName)
	if err != nil {
		return Snapshot{}, &OpError{Op: "query", Err: err}
	}
	if info == nil {
		return Snapshot{State: StateNotScheduled}, nil
	}

	snap := Snapshot{
		State:           info.State.String(),
		RunAttemptCount: info.RunAttemptCount,
		ID:              info.ID.String(),
	}

	switch {
	case info.State == engine.StateSucceeded:
		snap.LastStatus = outcomeLabel(info.Output)
	case info.LastRun != nil && info.LastRun.State == engine.StateSucceeded:
		// A periodic job returns to ENQUEUED after each run; its last
		// completed run still carries the outcome.
		snap.LastStatus = outcomeLabel(info.LastRun.Output)
	}

	return snap, nil
}

func outcomeLabel(d engine.Data) string {
	outcome, err := executor.ParseOutput(d)
	if err != nil {
		return StatusUnknown
	}
	return outcome.Status
}

func (m *Manager) recordPeriodic(ctx context.Context, enabled bool, minutes int) {
	if m.signals == nil {
		return
	}
	if err := m.signals.SetPeriodic(ctx, enabled, minutes); err != nil {
		m.logger.Warn("failed to record periodic sync state", "enabled", enabled, "error", err)
	}
}
