// Package engine is the host job-scheduling capability: uniquely named
// periodic work, run under preconditions, retried with backoff.
//
// Callers depend on the narrow Engine interface. Local is the in-process
// implementation used by the daemon.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownWorker = errors.New("engine: unknown worker")
	ErrInvalidName   = errors.New("engine: work name must not be empty")
)

// Engine is what the job lifecycle needs from a scheduler
type Engine interface {
	// EnqueueOrReplace registers the named periodic work, or updates the
	// existing registration in place. A name never maps to two jobs.
	EnqueueOrReplace(ctx context.Context, req PeriodicRequest) error

	// Cancel cancels the named work. Cancelling unknown work is not an error.
	Cancel(ctx context.Context, name string) error

	// QueryStatus returns the named work's record, or nil if none exists
	QueryStatus(ctx context.Context, name string) (*WorkInfo, error)
}

// WorkState is the lifecycle state of a work record
type WorkState int

const (
	StateEnqueued WorkState = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s WorkState) String() string {
	switch s {
	case StateEnqueued:
		return "ENQUEUED"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("WorkState(%d)", int(s))
	}
}

// IsFinished reports whether the state is terminal
func (s WorkState) IsFinished() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ParseWorkState is the inverse of WorkState.String
func ParseWorkState(s string) (WorkState, error) {
	for _, state := range []WorkState{StateEnqueued, StateRunning, StateSucceeded, StateFailed, StateCancelled} {
		if state.String() == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown work state %q", s)
}

// NetworkType is the network precondition of a work request
type NetworkType string

const (
	NetworkNotRequired NetworkType = "NOT_REQUIRED"
	NetworkConnected   NetworkType = "CONNECTED"
)

// Constraints are the boolean preconditions checked before each run
type Constraints struct {
	RequiredNetwork       NetworkType `json:"required_network"`
	RequiresCharging      bool        `json:"requires_charging"`
	RequiresDeviceIdle    bool        `json:"requires_device_idle"`
	RequiresBatteryNotLow bool        `json:"requires_battery_not_low"`
	RequiresStorageNotLow bool        `json:"requires_storage_not_low"`
}

// PeriodicRequest describes uniquely named periodic work
type PeriodicRequest struct {
	Name        string
	Worker      string
	Interval    time.Duration
	Constraints Constraints
}

// Data is the key-value output of a finished run
type Data map[string]any

// String returns the value at key if it is a string
func (d Data) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Int64 returns the value at key as an int64, accepting the numeric forms
// that survive a JSON round trip
func (d Data) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func (d Data) clone() Data {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// ResultKind is what a worker tells the engine after a run
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultRetry
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "SUCCESS"
	case ResultRetry:
		return "RETRY"
	case ResultFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is returned by a Worker
type Result struct {
	Kind   ResultKind
	Output Data
}

func Success(output Data) Result { return Result{Kind: ResultSuccess, Output: output} }
func Retry() Result              { return Result{Kind: ResultRetry} }
func Failure(output Data) Result { return Result{Kind: ResultFailure, Output: output} }

// WorkParams describes the run a worker is invoked for
type WorkParams struct {
	WorkID          uuid.UUID
	RunID           uuid.UUID
	Name            string
	RunAttemptCount int
}

// Worker is a unit of work invoked by the engine
type Worker interface {
	DoWork(ctx context.Context, params WorkParams) Result
}

// WorkerFunc adapts a function to Worker
type WorkerFunc func(ctx context.Context, params WorkParams) Result

func (f WorkerFunc) DoWork(ctx context.Context, params WorkParams) Result {
	return f(ctx, params)
}

// RunInfo summarises the last run that ended with success or failure
type RunInfo struct {
	RunID      uuid.UUID
	Attempt    int
	State      WorkState // StateSucceeded or StateFailed
	Output     Data
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// WorkInfo is the engine's authoritative record of a named work
type WorkInfo struct {
	ID              uuid.UUID
	Name            string
	Worker          string
	State           WorkState
	RunAttemptCount int
	Interval        time.Duration
	Constraints     Constraints

	// Output is set only while State is SUCCEEDED or FAILED
	Output Data

	LastRun   *RunInfo
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy
func (w *WorkInfo) Clone() *WorkInfo {
	if w == nil {
		return nil
	}
	c := *w
	c.Output = w.Output.clone()
	if w.LastRun != nil {
		run := *w.LastRun
		run.Output = w.LastRun.Output.clone()
		c.LastRun = &run
	}
	return &c
}
