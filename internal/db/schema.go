package db

// WorkSpec is a row of work_specs: one uniquely named periodic work record
type WorkSpec struct {
	Name            string
	ID              string
	Worker          string
	IntervalMillis  int64
	Constraints     string // JSON
	State           string // ENQUEUED, RUNNING, SUCCEEDED, FAILED, CANCELLED
	RunAttemptCount int
	Output          *string // JSON - output data of the last finished run
	LastRun         *string // JSON - summary of the last finished run
	NextRunAt       *int64
	CreatedAt       int64
	UpdatedAt       int64
}

// WorkRun is a row of work_runs: one finished attempt of a work spec
type WorkRun struct {
	RunID      string
	WorkID     string
	WorkName   string
	Attempt    int
	State      string
	Output     *string // JSON
	Error      *string
	StartedAt  int64
	FinishedAt int64
}
