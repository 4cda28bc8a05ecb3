package syncer

import (
	"context"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/db"
)

// RunUpdate is one finished work attempt waiting to be written to run history
type RunUpdate struct {
	RunID      string
	WorkID     string
	WorkName   string
	Attempt    int
	State      string
	Output     string // JSON, empty when the attempt produced no output
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (u RunUpdate) row() *db.WorkRun {
	run := &db.WorkRun{
		RunID:      u.RunID,
		WorkID:     u.WorkID,
		WorkName:   u.WorkName,
		Attempt:    u.Attempt,
		State:      u.State,
		StartedAt:  u.StartedAt.UnixMilli(),
		FinishedAt: u.FinishedAt.UnixMilli(),
	}
	if u.Output != "" {
		output := u.Output
		run.Output = &output
	}
	if u.Error != "" {
		msg := u.Error
		run.Error = &msg
	}
	return run
}

// Writer persists batches of runs. *db.DB satisfies it.
type Writer interface {
	InsertWorkRuns(ctx context.Context, runs []*db.WorkRun) error
}

// Stats provides current syncer statistics
type Stats struct {
	BufferedRunUpdates int
	WrittenRuns        int64
	FailedWrites       int64
}
