// Package jobs defines the periodic batch jobs and the Runner that
// executes them under the jobguard cooldown contract. Every job is
// triggered by name, either from the gateway's HTTP endpoints or from the
// built-in scheduler, and reports an outcome with per-job counters.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferrant/reverie/internal/conversation"
	"github.com/ferrant/reverie/internal/delivery"
	"github.com/ferrant/reverie/internal/jobguard"
	"github.com/ferrant/reverie/internal/pipeline"
	"github.com/ferrant/reverie/internal/recovery"
)

// Job names. These are the trigger discriminators used by the gateway
// routes and the scheduler configuration.
const (
	JobDecay              = "decay"
	JobDeliverySweep      = "delivery_sweep"
	JobDailySummary       = "daily_summary"
	JobCleanup            = "cleanup"
	JobStaleConversations = "stale_conversations"
)

// Names lists every runnable job.
var Names = []string{JobDecay, JobDeliverySweep, JobDailySummary, JobCleanup, JobStaleConversations}

// sweepCooldown is the idempotency window for the delivery sweep. The
// sweep is triggered every minute, so its window is much shorter than the
// hourly-job cooldown.
const sweepCooldown = 30 * time.Second

// factFloor is the salience below which decayed facts are pruned.
const factFloor = 0.05

// Rollup is one participant's daily summary row, joined with the platform
// they were most recently active on.
type Rollup struct {
	Participant   string
	Platform      string
	Summary       string
	Conversations int
}

// MaintenanceStore is the persistence surface the maintenance jobs need
// beyond the domain stores. Implemented by internal/store.
type MaintenanceStore interface {
	// DecayFacts multiplies every fact's salience by factor.
	DecayFacts(ctx context.Context, factor float64) (int, error)

	// PruneFacts deletes facts whose salience fell below floor.
	PruneFacts(ctx context.Context, floor float64) (int, error)

	// DayRollups returns every participant's summary row for a day.
	DayRollups(ctx context.Context, day string) ([]Rollup, error)

	// PruneRuns deletes settled job run records older than cutoff.
	PruneRuns(ctx context.Context, cutoff time.Time) (int, error)
}

// Config carries the per-job tunables.
type Config struct {
	// Cooldown is the idempotency window for the hourly-cadence jobs.
	Cooldown time.Duration

	// DecayFactor is the per-run salience multiplier for the decay job.
	DecayFactor float64

	// RetainRuns is how long settled job run records are kept.
	RetainRuns time.Duration

	// SweepLimit caps due events picked up per delivery sweep.
	SweepLimit int

	// MaxEventAge is the hard ceiling before pending events are failed.
	MaxEventAge time.Duration

	// Concurrency caps parallel work inside one job invocation.
	Concurrency int

	// BatchCap caps detected conversations processed per invocation; the
	// remainder is deferred to the next cycle.
	BatchCap int
}

// Runner executes the periodic jobs. All shared state lives in the
// stores; the Runner itself is safe for concurrent triggers, with the
// guard collapsing duplicates.
type Runner struct {
	guard    *jobguard.Guard
	detector *conversation.Detector
	tracker  *conversation.Tracker
	pipeline *pipeline.Pipeline
	sweeper  *recovery.Sweeper
	delivery *delivery.System
	maint    MaintenanceStore
	logger   *slog.Logger
	cfg      Config

	now func() time.Time
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(
	guard *jobguard.Guard,
	detector *conversation.Detector,
	tracker *conversation.Tracker,
	pipe *pipeline.Pipeline,
	sweeper *recovery.Sweeper,
	deliverySystem *delivery.System,
	maint MaintenanceStore,
	logger *slog.Logger,
	cfg Config,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{
		guard:    guard,
		detector: detector,
		tracker:  tracker,
		pipeline: pipe,
		sweeper:  sweeper,
		delivery: deliverySystem,
		maint:    maint,
		logger:   logger.With("component", "jobs"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes the named job under the guard. Unknown names report an
// error outcome without touching the run store.
func (r *Runner) Run(ctx context.Context, name string) jobguard.Outcome {
	switch name {
	case JobDecay:
		return r.RunDecay(ctx)
	case JobDeliverySweep:
		return r.RunDeliverySweep(ctx)
	case JobDailySummary:
		return r.RunDailySummary(ctx)
	case JobCleanup:
		return r.RunCleanup(ctx)
	case JobStaleConversations:
		return r.RunStaleConversations(ctx)
	default:
		return jobguard.Outcome{
			Status: jobguard.OutcomeError,
			Err:    fmt.Errorf("jobs: unknown job %q", name),
		}
	}
}

// RunDecay multiplies every fact's salience by the decay factor, so
// unrefreshed knowledge fades over time.
func (r *Runner) RunDecay(ctx context.Context) jobguard.Outcome {
	return r.guard.Wrap(ctx, JobDecay, r.cfg.Cooldown, func(ctx context.Context) (map[string]any, error) {
		n, err := r.maint.DecayFacts(ctx, r.cfg.DecayFactor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"decayed": n}, nil
	})
}

// RunDeliverySweep delivers due scheduled events, capped at the sweep
// limit, with bounded parallelism. Send failures are settled by the
// delivery system's retry machinery and do not fail the sweep; only
// bookkeeping errors do.
func (r *Runner) RunDeliverySweep(ctx context.Context) jobguard.Outcome {
	return r.guard.Wrap(ctx, JobDeliverySweep, sweepCooldown, func(ctx context.Context) (map[string]any, error) {
		due, err := r.delivery.DueEvents(ctx, r.cfg.SweepLimit, "")
		if err != nil {
			return nil, err
		}

		var delivered, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for i := range due {
			ev := &due[i]
			g.Go(func() error {
				ok, err := r.delivery.Deliver(gctx, ev)
				if err != nil {
					return err
				}
				if ok {
					delivered.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return map[string]any{
				"due":       len(due),
				"delivered": delivered.Load(),
				"failed":    failed.Load(),
			}, err
		}

		return map[string]any{
			"due":       len(due),
			"delivered": delivered.Load(),
			"failed":    failed.Load(),
		}, nil
	})
}

// RunDailySummary schedules a summary message for every participant with
// activity today, delivered on the platform they were last active on.
// Participants whose platform cannot be determined are skipped.
func (r *Runner) RunDailySummary(ctx context.Context) jobguard.Outcome {
	return r.guard.Wrap(ctx, JobDailySummary, r.cfg.Cooldown, func(ctx context.Context) (map[string]any, error) {
		now := r.now().UTC()
		day := now.Format("2006-01-02")

		rollups, err := r.maint.DayRollups(ctx, day)
		if err != nil {
			return nil, err
		}

		scheduled, skipped := 0, 0
		for _, rollup := range rollups {
			payload, err := summaryPayload(rollup, day)
			if err != nil {
				r.logger.Warn("daily summary skipped",
					"participant", rollup.Participant,
					"error", err,
				)
				skipped++
				continue
			}
			if _, err := r.delivery.CreateEvent(ctx, rollup.Participant, payload, now, ""); err != nil {
				return map[string]any{"rollups": len(rollups), "scheduled": scheduled}, err
			}
			scheduled++
		}

		return map[string]any{
			"rollups":   len(rollups),
			"scheduled": scheduled,
			"skipped":   skipped,
		}, nil
	})
}

// summaryPayload builds the platform-appropriate payload for a rollup.
func summaryPayload(r Rollup, day string) (delivery.Payload, error) {
	text := fmt.Sprintf("Daily summary for %s (%d conversations): %s", day, r.Conversations, r.Summary)

	switch r.Platform {
	case delivery.PlatformTelegram:
		chatID, err := strconv.ParseInt(r.Participant, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: participant %q is not a telegram chat id: %w", r.Participant, err)
		}
		return delivery.TelegramPayload{ChatID: chatID, Text: text}, nil
	case delivery.PlatformVoice:
		return delivery.VoicePayload{Prompt: text}, nil
	case "":
		return nil, fmt.Errorf("jobs: no active platform for %s", r.Participant)
	default:
		return nil, fmt.Errorf("jobs: no summary format for platform %q", r.Platform)
	}
}

// RunCleanup bounds unbounded growth: stale pending events are failed,
// old job run records pruned, and fully decayed facts removed.
func (r *Runner) RunCleanup(ctx context.Context) jobguard.Outcome {
	return r.guard.Wrap(ctx, JobCleanup, r.cfg.Cooldown, func(ctx context.Context) (map[string]any, error) {
		expired, err := r.delivery.CleanupStale(ctx, r.cfg.MaxEventAge)
		if err != nil {
			return nil, err
		}

		runs, err := r.maint.PruneRuns(ctx, r.now().UTC().Add(-r.cfg.RetainRuns))
		if err != nil {
			return map[string]any{"events_expired": expired}, err
		}

		facts, err := r.maint.PruneFacts(ctx, factFloor)
		if err != nil {
			return map[string]any{"events_expired": expired, "runs_pruned": runs}, err
		}

		return map[string]any{
			"events_expired": expired,
			"runs_pruned":    runs,
			"facts_pruned":   facts,
		}, nil
	})
}

// RunStaleConversations is the main enrichment cycle: first the recovery
// sweep reclaims conversations wedged in processing, then idle ones are
// detected, reserved, and run through the pipeline with bounded
// parallelism. Reservation losses are counted, not errors; two
// overlapping cycles simply split the batch between them.
func (r *Runner) RunStaleConversations(ctx context.Context) jobguard.Outcome {
	return r.guard.Wrap(ctx, JobStaleConversations, r.cfg.Cooldown, func(ctx context.Context) (map[string]any, error) {
		recovered, err := r.sweeper.Recover(ctx)
		if err != nil {
			return nil, err
		}

		ids, err := r.detector.Detect(ctx)
		if err != nil {
			return map[string]any{
				"recovered_reset":  recovered.Reset,
				"recovered_failed": recovered.Failed,
			}, err
		}

		work, deferred := jobguard.Slice(ids, r.cfg.BatchCap)

		var processed, lost, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, id := range work {
			id := id
			g.Go(func() error {
				ok, err := r.tracker.ReserveForProcessing(gctx, id)
				if err != nil {
					return err
				}
				if !ok {
					lost.Add(1)
					return nil
				}
				res := r.pipeline.Run(gctx, id)
				if res.Success {
					processed.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		err = g.Wait()

		counts := map[string]any{
			"recovered_reset":  recovered.Reset,
			"recovered_failed": recovered.Failed,
			"detected":         len(ids),
			"deferred":         deferred,
			"processed":        processed.Load(),
			"lost_reservation": lost.Load(),
			"failed":           failed.Load(),
		}
		return counts, err
	})
}
