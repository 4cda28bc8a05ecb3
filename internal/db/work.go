package db

import (
	"context"
	"database/sql"
)

const workSpecColumns = `name, id, worker, interval_ms, constraints, state, run_attempt_count, output, last_run, next_run_at, created_at, updated_at`

// SaveWorkSpec inserts the spec or replaces the row with the same name.
// created_at is kept from the first save.
func (db *DB) SaveWorkSpec(ctx context.Context, spec *WorkSpec) error {
	query := `
		INSERT INTO work_specs (` + workSpecColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			id = excluded.id,
			worker = excluded.worker,
			interval_ms = excluded.interval_ms,
			constraints = excluded.constraints,
			state = excluded.state,
			run_attempt_count = excluded.run_attempt_count,
			output = excluded.output,
			last_run = excluded.last_run,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		spec.Name,
		spec.ID,
		spec.Worker,
		spec.IntervalMillis,
		spec.Constraints,
		spec.State,
		spec.RunAttemptCount,
		spec.Output,
		spec.LastRun,
		spec.NextRunAt,
		spec.CreatedAt,
		spec.UpdatedAt,
	)

	return err
}

// GetWorkSpec retrieves a work spec by its unique name
func (db *DB) GetWorkSpec(ctx context.Context, name string) (*WorkSpec, error) {
	query := `SELECT ` + workSpecColumns + ` FROM work_specs WHERE name = ?`

	spec, err := scanWorkSpec(db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// ListWorkSpecs returns all work specs ordered by name
func (db *DB) ListWorkSpecs(ctx context.Context) ([]*WorkSpec, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+workSpecColumns+` FROM work_specs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []*WorkSpec
	for rows.Next() {
		spec, err := scanWorkSpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, rows.Err()
}

// DeleteWorkSpec removes a work spec by name
func (db *DB) DeleteWorkSpec(ctx context.Context, name string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM work_specs WHERE name = ?`, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkSpec(row rowScanner) (*WorkSpec, error) {
	spec := &WorkSpec{}
	err := row.Scan(
		&spec.Name,
		&spec.ID,
		&spec.Worker,
		&spec.IntervalMillis,
		&spec.Constraints,
		&spec.State,
		&spec.RunAttemptCount,
		&spec.Output,
		&spec.LastRun,
		&spec.NextRunAt,
		&spec.CreatedAt,
		&spec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// InsertWorkRuns writes finished runs in one transaction. Runs whose run_id
// already exists are skipped so replays are harmless.
func (db *DB) InsertWorkRuns(ctx context.Context, runs []*WorkRun) error {
	if len(runs) == 0 {
		return nil
	}

	return db.WithTransaction(ctx, func(tx *Tx) error {
		query := `
			INSERT INTO work_runs (run_id, work_id, work_name, attempt, state, output, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id) DO NOTHING
		`
		for _, run := range runs {
			_, err := tx.ExecContext(ctx, query,
				run.RunID,
				run.WorkID,
				run.WorkName,
				run.Attempt,
				run.State,
				run.Output,
				run.Error,
				run.StartedAt,
				run.FinishedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListWorkRuns returns the most recent runs of the named work, newest first.
// A limit <= 0 returns every run.
func (db *DB) ListWorkRuns(ctx context.Context, workName string, limit int) ([]*WorkRun, error) {
	query := `
		SELECT run_id, work_id, work_name, attempt, state, output, error, started_at, finished_at
		FROM work_runs
		WHERE work_name = ?
		ORDER BY finished_at DESC, run_id
	`
	args := []any{workName}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*WorkRun
	for rows.Next() {
		run := &WorkRun{}
		err := rows.Scan(
			&run.RunID,
			&run.WorkID,
			&run.WorkName,
			&run.Attempt,
			&run.State,
			&run.Output,
			&run.Error,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// PruneWorkRuns deletes runs finished before the cutoff and reports how many were removed
func (db *DB) PruneWorkRuns(ctx context.Context, finishedBefore int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM work_runs WHERE finished_at < ?`, finishedBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
