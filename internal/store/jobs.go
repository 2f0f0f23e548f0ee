package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HasRunSince reports whether any run of job started at or after since.
// Running records count; a crashed run blocks retriggering until the
// cooldown window passes.
func (s *Store) HasRunSince(ctx context.Context, job string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM job_runs
		WHERE job = ? AND started_at >= ?`,
		job, since.UTC().Format(timeFormat),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has run since: %w", err)
	}
	return n > 0, nil
}

// StartRun appends a running record for job and returns its id.
func (s *Store) StartRun(ctx context.Context, job string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, status, started_at)
		VALUES (?, ?, 'running', ?)`,
		id, job, at.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("store: start run: %w", err)
	}
	return id, nil
}

// FinishRun settles a run record with its final status and result payload.
func (s *Store) FinishRun(ctx context.Context, runID, status string, at time.Time, result map[string]any) error {
	if result == nil {
		result = map[string]any{}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: encode run result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, completed_at = ?, result = ?
		WHERE id = ?`,
		status, at.UTC().Format(timeFormat), string(encoded), runID,
	)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return nil
}

// PruneRuns deletes settled run records that started before cutoff,
// returning how many rows were removed. Running records are never pruned.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM job_runs
		WHERE started_at < ? AND status != 'running'`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("store: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune runs rows affected: %w", err)
	}
	return int(n), nil
}
