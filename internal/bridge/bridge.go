// Package bridge exposes the sync operations to the application layer with
// stable response shapes. Every failure becomes an *Error carrying the
// WORKMANAGER_ERROR code and a human-readable message.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
	"github.com/livinlefevreloca/remindersync/internal/signal"
)

// ErrorCode is the code of every bridge error
const ErrorCode = "WORKMANAGER_ERROR"

// StopMessage is returned by a successful stop
const StopMessage = "Sync stopped successfully"

// Error is a labeled operation failure
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(prefix string, err error) *Error {
	// Report the engine's own message rather than the wrapped operation name
	var opErr *lifecycle.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}
	return &Error{Code: ErrorCode, Message: prefix + err.Error()}
}

// Lifecycle is the part of lifecycle.Manager the bridge calls
type Lifecycle interface {
	Start(ctx context.Context, intervalMinutes int) (lifecycle.StartResult, error)
	Stop(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
	Status(ctx context.Context) (lifecycle.Snapshot, error)
}

// Handoff is the part of handoff.Service the bridge calls
type Handoff interface {
	CheckPendingSync(ctx context.Context) (signal.Signal, error)
	ClearPendingSync(ctx context.Context) error
}

type StartResponse struct {
	Success         bool   `json:"success"`
	IntervalMinutes int    `json:"intervalMinutes"`
	WorkName        string `json:"workName"`
}

type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type RunningResponse struct {
	IsRunning bool `json:"isRunning"`
}

type StatusResponse struct {
	State           string `json:"state"`
	RunAttemptCount int    `json:"runAttemptCount"`
	ID              string `json:"id,omitempty"`
	LastStatus      string `json:"lastStatus,omitempty"`
}

type PendingResponse struct {
	HasPendingSync bool  `json:"hasPendingSync"`
	TriggeredAt    int64 `json:"triggeredAt"`
}

type ClearResponse struct {
	Success bool `json:"success"`
}

// Bridge implements the six exposed operations
type Bridge struct {
	lifecycle Lifecycle
	handoff   Handoff
	logger    *slog.Logger
}

func New(lc Lifecycle, h Handoff, logger *slog.Logger) *Bridge {
	return &Bridge{lifecycle: lc, handoff: h, logger: logger}
}

// StartPeriodicSync schedules or updates the periodic job
func (b *Bridge) StartPeriodicSync(ctx context.Context, intervalMinutes int) (resp StartResponse, err error) {
	defer b.recoverPanic("start", &err, "Failed to start sync: ")

	res, err := b.lifecycle.Start(ctx, intervalMinutes)
	if err != nil {
		return StartResponse{}, newError("Failed to start sync: ", err)
	}
	return StartResponse{Success: true, IntervalMinutes: res.EffectiveIntervalMinutes, WorkName: res.JobName}, nil
}

// StopPeriodicSync cancels the periodic job
func (b *Bridge) StopPeriodicSync(ctx context.Context) (resp StopResponse, err error) {
	defer b.recoverPanic("stop", &err, "Failed to stop sync: ")

	if err := b.lifecycle.Stop(ctx); err != nil {
		return StopResponse{}, newError("Failed to stop sync: ", err)
	}
	return StopResponse{Success: true, Message: StopMessage}, nil
}

// IsSyncRunning reports whether the job is enqueued or running
func (b *Bridge) IsSyncRunning(ctx context.Context) (resp RunningResponse, err error) {
	defer b.recoverPanic("is_running", &err, "Failed to check status: ")

	running, err := b.lifecycle.IsRunning(ctx)
	if err != nil {
		return RunningResponse{}, newError("Failed to check status: ", err)
	}
	return RunningResponse{IsRunning: running}, nil
}

// GetWorkStatus returns the job snapshot
func (b *Bridge) GetWorkStatus(ctx context.Context) (resp StatusResponse, err error) {
	defer b.recoverPanic("status", &err, "Failed to get status: ")

	snap, err := b.lifecycle.Status(ctx)
	if err != nil {
		return StatusResponse{}, newError("Failed to get status: ", err)
	}
	return StatusResponse{
		State:           snap.State,
		RunAttemptCount: snap.RunAttemptCount,
		ID:              snap.ID,
		LastStatus:      snap.LastStatus,
	}, nil
}

// CheckPendingSync reads the pending-sync signal
func (b *Bridge) CheckPendingSync(ctx context.Context) (resp PendingResponse, err error) {
	defer b.recoverPanic("check_pending", &err, "Failed to check pending sync: ")

	sig, err := b.handoff.CheckPendingSync(ctx)
	if err != nil {
		return PendingResponse{}, newError("Failed to check pending sync: ", err)
	}
	return PendingResponse{HasPendingSync: sig.Pending, TriggeredAt: sig.TriggeredAtEpochMillis}, nil
}

// ClearPendingSync lowers the pending-sync signal
func (b *Bridge) ClearPendingSync(ctx context.Context) (resp ClearResponse, err error) {
	defer b.recoverPanic("clear_pending", &err, "Failed to clear pending sync: ")

	if err := b.handoff.ClearPendingSync(ctx); err != nil {
		return ClearResponse{}, newError("Failed to clear pending sync: ", err)
	}
	return ClearResponse{Success: true}, nil
}

// recoverPanic turns a panic in an operation into a labeled error
func (b *Bridge) recoverPanic(op string, err *error, prefix string) {
	if p := recover(); p != nil {
		b.logger.Error("bridge operation panicked", "operation", op, "panic", p)
		*err = newError(prefix, fmt.Errorf("%v", p))
	}
}
