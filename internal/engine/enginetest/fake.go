// Package enginetest provides an in-memory Engine for tests of its callers
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/remindersync/internal/engine"
)

// Fake records requests and serves status from a map. Failure fields make
// the next call to the matching method return that error.
type Fake struct {
	mu      sync.Mutex
	records map[string]*engine.WorkInfo

	Requests []engine.PeriodicRequest
	Cancels  []string

	EnqueueErr error
	CancelErr  error
	QueryErr   error
}

func New() *Fake {
	return &Fake{records: make(map[string]*engine.WorkInfo)}
}

func (f *Fake) EnqueueOrReplace(_ context.Context, req engine.PeriodicRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.EnqueueErr != nil {
		return f.EnqueueErr
	}
	f.Requests = append(f.Requests, req)

	now := time.Now()
	info, ok := f.records[req.Name]
	if !ok || info.State.IsFinished() {
		info = &engine.WorkInfo{
			ID:        uuid.New(),
			Name:      req.Name,
			State:     engine.StateEnqueued,
			CreatedAt: now,
		}
		f.records[req.Name] = info
	}
	info.Worker = req.Worker
	info.Interval = req.Interval
	info.Constraints = req.Constraints
	info.UpdatedAt = now
	return nil
}

func (f *Fake) Cancel(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancels = append(f.Cancels, name)

	if info, ok := f.records[name]; ok && !info.State.IsFinished() {
		info.State = engine.StateCancelled
		info.Output = nil
	}
	return nil
}

func (f *Fake) QueryStatus(_ context.Context, name string) (*engine.WorkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return f.records[name].Clone(), nil
}

// Put replaces the named record
func (f *Fake) Put(info *engine.WorkInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[info.Name] = info.Clone()
}

// Get returns the named record without going through the error hooks
func (f *Fake) Get(name string) *engine.WorkInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[name].Clone()
}

// LastRequest returns the most recent request, or false if there were none
func (f *Fake) LastRequest() (engine.PeriodicRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return engine.PeriodicRequest{}, false
	}
	return f.Requests[len(f.Requests)-1], true
}
