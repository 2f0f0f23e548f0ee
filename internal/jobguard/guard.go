// Package jobguard wraps periodic batch entry points with idempotency and
// concurrency limiting. Duplicate external triggers inside a cooldown
// window are absorbed and reported as skipped; batches larger than a cap
// are sliced, with the remainder reported as deferred.
package jobguard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Run statuses recorded per execution.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Outcome statuses reported to the trigger.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// RunStore persists job execution records. Rows are append-only per run
// and read back for cooldown checks. Implemented by internal/store.
type RunStore interface {
	// HasRunSince reports whether any run of job started at or after since.
	HasRunSince(ctx context.Context, job string, since time.Time) (bool, error)

	// StartRun appends a running record and returns its id.
	StartRun(ctx context.Context, job string, at time.Time) (string, error)

	// FinishRun completes a record with its final status and result payload.
	FinishRun(ctx context.Context, runID, status string, at time.Time, result map[string]any) error
}

// Outcome is the reported result of a guarded invocation.
type Outcome struct {
	Status string         // ok, error, or skipped
	Counts map[string]any // job-specific counters, nil when skipped
	Err    error
}

// Guard enforces the cooldown contract around job functions.
type Guard struct {
	store  RunStore
	logger *slog.Logger

	now func() time.Time
}

// NewGuard creates a Guard backed by the given run store.
func NewGuard(store RunStore, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:  store,
		logger: logger.With("component", "jobguard"),
		now:    time.Now,
	}
}

// Wrap runs fn under the idempotency contract: if a run of job started
// within the cooldown window, fn is not invoked and the outcome is
// skipped. Otherwise the run is recorded, executed, and settled as
// success or failure. Two triggers racing the window degrade to at most
// one extra run, never corruption.
func (g *Guard) Wrap(ctx context.Context, job string, cooldown time.Duration, fn func(ctx context.Context) (map[string]any, error)) Outcome {
	now := g.now().UTC()

	recent, err := g.store.HasRunSince(ctx, job, now.Add(-cooldown))
	if err != nil {
		return Outcome{Status: OutcomeError, Err: fmt.Errorf("jobguard: cooldown check for %s: %w", job, err)}
	}
	if recent {
		g.logger.Info("job skipped, ran within cooldown window", "job", job, "cooldown", cooldown)
		return Outcome{Status: OutcomeSkipped}
	}

	runID, err := g.store.StartRun(ctx, job, now)
	if err != nil {
		return Outcome{Status: OutcomeError, Err: fmt.Errorf("jobguard: start run for %s: %w", job, err)}
	}

	counts, runErr := fn(ctx)
	finishedAt := g.now().UTC()

	if runErr != nil {
		g.logger.Error("job failed", "job", job, "error", runErr)
		result := map[string]any{"error": runErr.Error()}
		if ferr := g.store.FinishRun(ctx, runID, RunStatusFailed, finishedAt, result); ferr != nil {
			g.logger.Error("job run record not settled", "job", job, "run", runID, "error", ferr)
		}
		return Outcome{Status: OutcomeError, Counts: counts, Err: runErr}
	}

	if ferr := g.store.FinishRun(ctx, runID, RunStatusSuccess, finishedAt, counts); ferr != nil {
		g.logger.Error("job run record not settled", "job", job, "run", runID, "error", ferr)
	}
	g.logger.Info("job completed", "job", job, "duration", finishedAt.Sub(now))
	return Outcome{Status: OutcomeOK, Counts: counts}
}

// Slice caps a discovered batch at limit, returning the work slice and
// how many items were deferred to a later cycle.
func Slice[T any](items []T, limit int) (work []T, deferred int) {
	if limit <= 0 || len(items) <= limit {
		return items, 0
	}
	return items[:limit], len(items) - limit
}
