package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ferrant/reverie/internal/jobguard"
	"github.com/ferrant/reverie/internal/jobs"
)

// defaultSchedules maps each runnable job to its built-in cadence. The
// delivery sweep runs every minute; the enrichment cycle every ten; the
// maintenance jobs daily, staggered so they never contend for the
// database at the same instant.
var defaultSchedules = map[string]string{
	jobs.JobDeliverySweep:      "* * * * *",
	jobs.JobStaleConversations: "*/10 * * * *",
	jobs.JobDailySummary:       "0 21 * * *",
	jobs.JobDecay:              "15 3 * * *",
	jobs.JobCleanup:            "45 3 * * *",
}

// DefaultSchedule returns the built-in cron expression for a job name,
// or an error for unknown names.
func DefaultSchedule(name string) (string, error) {
	expr, ok := defaultSchedules[name]
	if !ok {
		return "", fmt.Errorf("cron: no default schedule for job %q", name)
	}
	return expr, nil
}

// TriggerJob adapts one named runner job to the scheduler. The runner's
// guard still applies, so a scheduler tick racing an external HTTP
// trigger collapses to a single run.
type TriggerJob struct {
	Runner       *jobs.Runner
	JobName      string
	ScheduleExpr string // empty = built-in default
	Logger       *slog.Logger
}

// Compile-time interface check.
var _ Job = (*TriggerJob)(nil)

// Name implements Job.
func (j *TriggerJob) Name() string { return j.JobName }

// Schedule implements Job.
func (j *TriggerJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return defaultSchedules[j.JobName]
}

// Run executes the job through the runner's guard. A skipped outcome is
// normal when an external trigger beat the tick.
func (j *TriggerJob) Run(ctx context.Context) error {
	outcome := j.Runner.Run(ctx, j.JobName)
	switch outcome.Status {
	case jobguard.OutcomeSkipped:
		j.Logger.Debug("cron: tick absorbed by cooldown", "job", j.JobName)
		return nil
	case jobguard.OutcomeError:
		return fmt.Errorf("cron: job %s: %w", j.JobName, outcome.Err)
	default:
		return nil
	}
}

// RegisterAll registers a TriggerJob for every runnable job, applying
// schedule overrides by job name.
func RegisterAll(s *Scheduler, runner *jobs.Runner, overrides map[string]string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range jobs.Names {
		if err := s.RegisterJob(&TriggerJob{
			Runner:       runner,
			JobName:      name,
			ScheduleExpr: overrides[name],
			Logger:       logger,
		}); err != nil {
			return err
		}
	}
	return nil
}
