package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/remindersync/internal/db"
)

// Repository persists work records so registrations survive restarts
type Repository interface {
	// Get returns the named record, or nil if none exists
	Get(ctx context.Context, name string) (*WorkInfo, error)
	Save(ctx context.Context, info *WorkInfo) error
	List(ctx context.Context) ([]*WorkInfo, error)
}

// MemoryRepository keeps records in process
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*WorkInfo
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*WorkInfo)}
}

func (r *MemoryRepository) Get(_ context.Context, name string) (*WorkInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[name].Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, info *WorkInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[info.Name] = info.Clone()
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*WorkInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*WorkInfo, 0, len(r.records))
	for _, info := range r.records {
		infos = append(infos, info.Clone())
	}
	slices.SortFunc(infos, func(a, b *WorkInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// SQLRepository stores records in the work_specs table
type SQLRepository struct {
	db *db.DB
}

func NewSQLRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

func (r *SQLRepository) Get(ctx context.Context, name string) (*WorkInfo, error) {
	spec, err := r.db.GetWorkSpec(ctx, name)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load work %s: %w", name, err)
	}
	return fromSpec(spec)
}

func (r *SQLRepository) Save(ctx context.Context, info *WorkInfo) error {
	spec, err := toSpec(info)
	if err != nil {
		return err
	}
	if err := r.db.SaveWorkSpec(ctx, spec); err != nil {
		return fmt.Errorf("failed to save work %s: %w", info.Name, err)
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*WorkInfo, error) {
	specs, err := r.db.ListWorkSpecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list work: %w", err)
	}

	infos := make([]*WorkInfo, 0, len(specs))
	for _, spec := range specs {
		info, err := fromSpec(spec)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// runRecord is the JSON form of RunInfo stored in work_specs.last_run
type runRecord struct {
	RunID      string `json:"run_id"`
	Attempt    int    `json:"attempt"`
	State      string `json:"state"`
	Output     Data   `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

func toSpec(info *WorkInfo) (*db.WorkSpec, error) {
	constraints, err := json.Marshal(info.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to encode constraints: %w", err)
	}

	spec := &db.WorkSpec{
		Name:            info.Name,
		ID:              info.ID.String(),
		Worker:          info.Worker,
		IntervalMillis:  info.Interval.Milliseconds(),
		Constraints:     string(constraints),
		State:           info.State.String(),
		RunAttemptCount: info.RunAttemptCount,
		CreatedAt:       info.CreatedAt.UnixMilli(),
		UpdatedAt:       info.UpdatedAt.UnixMilli(),
	}

	if info.Output != nil {
		out, err := json.Marshal(info.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output: %w", err)
		}
		s := string(out)
		spec.Output = &s
	}

	if info.LastRun != nil {
		run, err := json.Marshal(runRecord{
			RunID:      info.LastRun.RunID.String(),
			Attempt:    info.LastRun.Attempt,
			State:      info.LastRun.State.String(),
			Output:     info.LastRun.Output,
			Error:      info.LastRun.Error,
			StartedAt:  info.LastRun.StartedAt.UnixMilli(),
			FinishedAt: info.LastRun.FinishedAt.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode last run: %w", err)
		}
		s := string(run)
		spec.LastRun = &s
	}

	if !info.NextRunAt.IsZero() {
		next := info.NextRunAt.UnixMilli()
		spec.NextRunAt = &next
	}

	return spec, nil
}

func fromSpec(spec *db.WorkSpec) (*WorkInfo, error) {
	id, err := uuid.Parse(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("work %s has invalid id: %w", spec.Name, err)
	}

	state, err := ParseWorkState(spec.State)
	if err != nil {
		return nil, fmt.Errorf("work %s: %w", spec.Name, err)
	}

	info := &WorkInfo{
		ID:              id,
		Name:            spec.Name,
		Worker:          spec.Worker,
		State:           state,
		RunAttemptCount: spec.RunAttemptCount,
		Interval:        time.Duration(spec.IntervalMillis) * time.Millisecond,
		CreatedAt:       time.UnixMilli(spec.CreatedAt),
		UpdatedAt:       time.UnixMilli(spec.UpdatedAt),
	}

	if err := json.Unmarshal([]byte(spec.Constraints), &info.Constraints); err != nil {
		return nil, fmt.Errorf("work %s has invalid constraints: %w", spec.Name, err)
	}

	if spec.Output != nil {
		if err := decodeJSON(*spec.Output, &info.Output); err != nil {
			return nil, fmt.Errorf("work %s has invalid output: %w", spec.Name, err)
		}
	}

	if spec.LastRun != nil {
		var rec runRecord
		if err := decodeJSON(*spec.LastRun, &rec); err != nil {
			return nil, fmt.Errorf("work %s has invalid last run: %w", spec.Name, err)
		}
		runID, err := uuid.Parse(rec.RunID)
		if err != nil {
			return nil, fmt.Errorf("work %s has invalid last run id: %w", spec.Name, err)
		}
		runState, err := ParseWorkState(rec.State)
		if err != nil {
			return nil, fmt.Errorf("work %s last run: %w", spec.Name, err)
		}
		info.LastRun = &RunInfo{
			RunID:      runID,
			Attempt:    rec.Attempt,
			State:      runState,
			Output:     rec.Output,
			Error:      rec.Error,
			StartedAt:  time.UnixMilli(rec.StartedAt),
			FinishedAt: time.UnixMilli(rec.FinishedAt),
		}
	}

	if spec.NextRunAt != nil {
		info.NextRunAt = time.UnixMilli(*spec.NextRunAt)
	}

	return info, nil
}

// decodeJSON keeps numbers as json.Number so int64 timestamps survive
func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	return dec.Decode(v)
}

func encodeOutput(d Data) string {
	if d == nil {
		return ""
	}
	out, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(out)
}
