package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StartRun inserts a run, or refreshes its totals if it already exists.
func (s *SQLiteStore) StartRun(ctx context.Context, run RunRecord) error {
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, total_tasks, levels, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_tasks = excluded.total_tasks,
			levels = excluded.levels,
			started_at = excluded.started_at
	`, run.ID, run.TotalTasks, run.Levels, nanos(startedAt))
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunProgress stores the running counters of an unfinished run.
func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, completed, failed, cancelled int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET completed = ?, failed = ?, cancelled = ?
		WHERE id = ? AND finished_at = 0
	`, completed, failed, cancelled, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return s.requireRun(ctx, res, runID)
}

// FinishRun stores the final counters of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run RunRecord) error {
	finishedAt := run.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET completed = ?, failed = ?, cancelled = ?, aborted = ?, finished_at = ?, duration_ms = ?
		WHERE id = ?
	`, run.Completed, run.Failed, run.Cancelled, boolInt(run.Aborted), nanos(finishedAt), run.Duration.Milliseconds(), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	return s.requireRun(ctx, res, run.ID)
}

// requireRun turns a zero-row update into ErrNotFound, unless the run exists
// and the update was simply a no-op.
func (s *SQLiteStore) requireRun(ctx context.Context, res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return err
}

const runColumns = `id, total_tasks, levels, completed, failed, cancelled, aborted, started_at, finished_at, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var aborted int
	var startedAt, finishedAt, durationMS int64
	if err := row.Scan(&r.ID, &r.TotalTasks, &r.Levels, &r.Completed, &r.Failed, &r.Cancelled,
		&aborted, &startedAt, &finishedAt, &durationMS); err != nil {
		return RunRecord{}, err
	}
	r.Aborted = aborted != 0
	r.StartedAt = fromNanos(startedAt)
	r.FinishedAt = fromNanos(finishedAt)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// SaveOutcome upserts the state of one task. Empty title, agent or output
// keep what an earlier save stored. A missing run row is created so
// outcomes are never lost to event ordering.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, o OutcomeRecord) error {
	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, o.RunID, nanos(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to ensure run %s: %w", o.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_outcomes (run_id, task_id, title, agent_id, status, attempts, output, error, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE task_outcomes.title END,
			agent_id = CASE WHEN excluded.agent_id != '' THEN excluded.agent_id ELSE task_outcomes.agent_id END,
			status = excluded.status,
			attempts = MAX(excluded.attempts, task_outcomes.attempts),
			output = CASE WHEN excluded.output != '' THEN excluded.output ELSE task_outcomes.output END,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, o.RunID, o.TaskID, o.Title, o.AgentID, o.Status, o.Attempts, o.Output, o.Error, o.Duration.Milliseconds(), nanos(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to save outcome %s/%s: %w", o.RunID, o.TaskID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Outcomes returns every task of a run ordered by task id.
// Returns empty slice (not nil) if the run has no outcomes.
func (s *SQLiteStore) Outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, title, agent_id, status, attempts, output, error, duration_ms, updated_at
		FROM task_outcomes
		WHERE run_id = ?
		ORDER BY task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []OutcomeRecord{}
	for rows.Next() {
		var o OutcomeRecord
		var durationMS, updatedAt int64
		if err := rows.Scan(&o.RunID, &o.TaskID, &o.Title, &o.AgentID, &o.Status, &o.Attempts,
			&o.Output, &o.Error, &durationMS, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		o.UpdatedAt = fromNanos(updatedAt)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}
