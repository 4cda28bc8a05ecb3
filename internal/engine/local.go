package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/livinlefevreloca/remindersync/internal/syncer"
)

// RunRecorder receives every finished attempt for run history
type RunRecorder interface {
	BufferRunUpdate(update syncer.RunUpdate) error
}

// AttemptObserver receives attempt results for metrics
type AttemptObserver interface {
	ObserveAttempt(ctx context.Context, workName, result string, duration time.Duration)
}

// Option configures a Local engine
type Option func(*Local)

// WithClock replaces time.Now for timestamps and scheduling decisions
func WithClock(now func() time.Time) Option {
	return func(e *Local) { e.now = now }
}

// WithRunRecorder records every attempt in run history
func WithRunRecorder(r RunRecorder) Option {
	return func(e *Local) { e.history = r }
}

// WithObserver reports attempt results
func WithObserver(o AttemptObserver) Option {
	return func(e *Local) { e.observer = o }
}

// Local runs periodic work in process, one goroutine per named record.
//
// State transitions for a record are serialised by mu and written through to
// the repository before mu is released, so QueryStatus always reflects the
// persisted record.
type Local struct {
	config   Config
	repo     Repository
	checker  ConstraintChecker
	history  RunRecorder
	observer AttemptObserver
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	workers map[string]Worker
	jobs    map[string]*job
	// done channels of cancelled runners, by name, until the name is relaunched
	retired map[string]chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// job is the in-memory side of a scheduled record
type job struct {
	info      *WorkInfo
	backoff   backoff.BackOff
	cancel    context.CancelFunc
	wake      chan struct{}
	cancelled bool

	// done is closed when the runner exits. previous is the done channel of
	// the runner this one replaced, if any.
	done     chan struct{}
	previous chan struct{}
}

// NewLocal creates an engine. Call RegisterWorker for every worker the
// persisted records may name, then Start.
func NewLocal(config Config, repo Repository, checker ConstraintChecker, logger *slog.Logger, opts ...Option) (*Local, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Local{
		config:  config,
		repo:    repo,
		checker: checker,
		logger:  logger,
		now:     time.Now,
		workers: make(map[string]Worker),
		jobs:    make(map[string]*job),
		retired: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RegisterWorker makes a worker available to requests naming it
func (e *Local) RegisterWorker(name string, w Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers[name] = w
}

// Start resumes every unfinished record and begins accepting work
func (e *Local) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		return fmt.Errorf("engine already started")
	}

	infos, err := e.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load work records: %w", err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	for _, info := range infos {
		if info.State.IsFinished() {
			continue
		}

		if _, ok := e.workers[info.Worker]; !ok {
			e.logger.Error("skipping work with unregistered worker",
				"work_name", info.Name,
				"worker", info.Worker)
			continue
		}

		// A record left RUNNING was interrupted by the previous shutdown
		if info.State == StateRunning {
			info.State = StateEnqueued
			info.UpdatedAt = e.now()
			if err := e.repo.Save(ctx, info); err != nil {
				return fmt.Errorf("failed to reset interrupted work %s: %w", info.Name, err)
			}
		}

		e.launchLocked(info)
		e.logger.Info("resumed work",
			"work_name", info.Name,
			"work_id", info.ID,
			"next_run_at", info.NextRunAt)
	}

	e.logger.Info("engine started", "resumed", len(e.jobs))
	return nil
}

// Stop stops every runner and waits for in-flight attempts to return
func (e *Local) Stop() {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Local) EnqueueOrReplace(ctx context.Context, req PeriodicRequest) error {
	if req.Name == "" {
		return ErrInvalidName
	}

	interval := req.Interval
	if interval < e.config.MinInterval {
		e.logger.Warn("interval below minimum, clamping",
			"work_name", req.Name,
			"requested", req.Interval,
			"minimum", e.config.MinInterval)
		interval = e.config.MinInterval
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.workers[req.Worker]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, req.Worker)
	}

	now := e.now()

	if j, ok := e.jobs[req.Name]; ok {
		updated := j.info.Clone()
		updated.Worker = req.Worker
		updated.Interval = interval
		updated.Constraints = req.Constraints
		updated.UpdatedAt = now
		// Keep the period anchored to the last finished run unless a retry is pending
		if updated.RunAttemptCount == 0 && updated.LastRun != nil {
			updated.NextRunAt = updated.LastRun.StartedAt.Add(interval)
		}

		if err := e.repo.Save(ctx, updated); err != nil {
			return err
		}
		j.info = updated

		select {
		case j.wake <- struct{}{}:
		default:
		}

		e.logger.Info("updated periodic work",
			"work_name", req.Name,
			"work_id", updated.ID,
			"interval", interval)
		return nil
	}

	existing, err := e.repo.Get(ctx, req.Name)
	if err != nil {
		return err
	}

	info := &WorkInfo{
		ID:          uuid.New(),
		Name:        req.Name,
		Worker:      req.Worker,
		State:       StateEnqueued,
		Interval:    interval,
		Constraints: req.Constraints,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// An unfinished record that isn't running yet (engine not started) keeps its identity
	if existing != nil && !existing.State.IsFinished() {
		info.ID = existing.ID
		info.RunAttemptCount = existing.RunAttemptCount
		info.LastRun = existing.LastRun
		info.NextRunAt = existing.NextRunAt
		info.CreatedAt = existing.CreatedAt
	}

	if err := e.repo.Save(ctx, info); err != nil {
		return err
	}

	if e.ctx != nil {
		e.launchLocked(info)
	}

	e.logger.Info("enqueued periodic work",
		"work_name", req.Name,
		"work_id", info.ID,
		"interval", interval)
	return nil
}

func (e *Local) Cancel(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var info *WorkInfo
	if j, ok := e.jobs[name]; ok {
		j.cancelled = true
		j.cancel()
		delete(e.jobs, name)
		e.retired[name] = j.done
		info = j.info.Clone()
	} else {
		existing, err := e.repo.Get(ctx, name)
		if err != nil {
			return err
		}
		info = existing
	}

	if info == nil || info.State.IsFinished() {
		return nil
	}

	info.State = StateCancelled
	info.Output = nil
	info.NextRunAt = time.Time{}
	info.UpdatedAt = e.now()
	if err := e.repo.Save(ctx, info); err != nil {
		return err
	}

	e.logger.Info("cancelled work", "work_name", name, "work_id", info.ID)
	return nil
}

func (e *Local) QueryStatus(ctx context.Context, name string) (*WorkInfo, error) {
	e.mu.Lock()
	if j, ok := e.jobs[name]; ok {
		info := j.info.Clone()
		e.mu.Unlock()
		return info, nil
	}
	e.mu.Unlock()

	return e.repo.Get(ctx, name)
}

// launchLocked starts a runner for info. e.mu must be held.
func (e *Local) launchLocked(info *WorkInfo) {
	ctx, cancel := context.WithCancel(e.ctx)
	j := &job{
		info:    info.Clone(),
		backoff: e.config.newBackOff(),
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		// A cancelled runner may still be inside an attempt
		previous: e.retired[info.Name],
	}
	delete(e.retired, info.Name)
	e.jobs[info.Name] = j

	e.wg.Add(1)
	go e.run(ctx, j)
}

// run waits for each due time and fires the work until cancelled
func (e *Local) run(ctx context.Context, j *job) {
	defer e.wg.Done()
	defer close(j.done)

	// Attempts for one name never overlap, so wait out the replaced runner
	// even if this one is already cancelled
	if j.previous != nil {
		<-j.previous
		if ctx.Err() != nil {
			return
		}
	}

	timer := time.NewTimer(e.untilNext(j))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.untilNext(j))
			continue
		case <-timer.C:
		}

		next := e.fire(ctx, j)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(next)
	}
}

func (e *Local) untilNext(j *job) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(j.info.NextRunAt.Sub(e.now()), 0)
}

// fire runs one attempt if constraints allow and returns the delay until the next one
func (e *Local) fire(ctx context.Context, j *job) time.Duration {
	e.mu.Lock()
	if j.cancelled {
		e.mu.Unlock()
		return 0
	}
	info := j.info.Clone()
	worker := e.workers[info.Worker]
	e.mu.Unlock()

	if ok, reason := e.checker.Check(ctx, info.Constraints); !ok {
		e.logger.Debug("constraints not met, deferring",
			"work_name", info.Name,
			"reason", reason,
			"recheck_in", e.config.ConstraintRecheckInterval)
		e.reschedule(ctx, j, e.config.ConstraintRecheckInterval)
		return e.config.ConstraintRecheckInterval
	}

	runID := uuid.New()
	started := e.now()

	if !e.markRunning(ctx, j, started) {
		return 0
	}

	result, runErr := e.execute(ctx, worker, WorkParams{
		WorkID:          info.ID,
		RunID:           runID,
		Name:            info.Name,
		RunAttemptCount: info.RunAttemptCount,
	})
	finished := e.now()

	next, runState := e.complete(ctx, j, runID, info.RunAttemptCount, result, runErr, started, finished)

	e.logger.Info("work attempt finished",
		"work_name", info.Name,
		"run_id", runID,
		"attempt", info.RunAttemptCount,
		"result", result.Kind.String(),
		"next_in", next)

	if e.observer != nil {
		e.observer.ObserveAttempt(ctx, info.Name, result.Kind.String(), finished.Sub(started))
	}

	if e.history != nil {
		update := syncer.RunUpdate{
			RunID:      runID.String(),
			WorkID:     info.ID.String(),
			WorkName:   info.Name,
			Attempt:    info.RunAttemptCount,
			State:      runState,
			Output:     encodeOutput(result.Output),
			Error:      runErr,
			StartedAt:  started,
			FinishedAt: finished,
		}
		if err := e.history.BufferRunUpdate(update); err != nil {
			e.logger.Warn("failed to buffer run history", "run_id", runID, "error", err)
		}
	}

	return next
}

// execute calls the worker, turning a panic into a failure
func (e *Local) execute(ctx context.Context, w Worker, params WorkParams) (result Result, runErr string) {
	if w == nil {
		return Failure(nil), "worker not registered"
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("worker panicked", "work_name", params.Name, "run_id", params.RunID, "panic", p)
			result = Failure(nil)
			runErr = fmt.Sprintf("panic: %v", p)
		}
	}()

	return w.DoWork(ctx, params), ""
}

func (e *Local) markRunning(ctx context.Context, j *job, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if j.cancelled {
		return false
	}

	info := j.info.Clone()
	info.State = StateRunning
	info.Output = nil
	info.UpdatedAt = at
	e.save(ctx, j, info)
	return true
}

func (e *Local) reschedule(ctx context.Context, j *job, in time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if j.cancelled {
		return
	}

	info := j.info.Clone()
	info.NextRunAt = e.now().Add(in)
	e.save(ctx, j, info)
}

// complete applies an attempt's result to the record. It returns the delay
// until the next attempt and the state written to run history.
func (e *Local) complete(ctx context.Context, j *job, runID uuid.UUID, attempt int, result Result, runErr string, started, finished time.Time) (time.Duration, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := j.info.Clone()
	untilPeriod := max(info.Interval-finished.Sub(started), 0)

	var (
		next     time.Duration
		runState WorkState
		final    bool
	)

	switch result.Kind {
	case ResultSuccess:
		runState, final, next = StateSucceeded, true, untilPeriod
	case ResultRetry:
		if e.config.MaxAttempts > 0 && attempt+1 >= e.config.MaxAttempts {
			runState, final, next = StateFailed, true, untilPeriod
			if runErr == "" {
				runErr = fmt.Sprintf("gave up after %d attempts", attempt+1)
			}
		} else {
			runState, next = StateEnqueued, j.backoff.NextBackOff()
			info.RunAttemptCount = attempt + 1
		}
	default:
		runState, final, next = StateFailed, true, untilPeriod
	}

	if final {
		info.RunAttemptCount = 0
		j.backoff.Reset()
		info.LastRun = &RunInfo{
			RunID:      runID,
			Attempt:    attempt,
			State:      runState,
			Output:     result.Output.clone(),
			Error:      runErr,
			StartedAt:  started,
			FinishedAt: finished,
		}
	}

	historyState := runState.String()
	if !final {
		historyState = ResultRetry.String()
	}

	if j.cancelled {
		return 0, historyState
	}

	// Periodic work goes back to ENQUEUED after every attempt
	info.State = StateEnqueued
	info.NextRunAt = finished.Add(next)
	info.UpdatedAt = finished
	e.save(ctx, j, info)

	return next, historyState
}

// save writes info through to the repository and adopts it as the job's
// record. e.mu must be held.
func (e *Local) save(ctx context.Context, j *job, info *WorkInfo) {
	if err := e.repo.Save(context.WithoutCancel(ctx), info); err != nil {
		e.logger.Error("failed to persist work record",
			"work_name", info.Name,
			"state", info.State.String(),
			"error", err)
	}
	j.info = info
}
