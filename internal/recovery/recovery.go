// Package recovery repairs conversations wedged in the processing status.
// It runs out-of-band from the pipeline: anything that crashed, stalled,
// or lost its worker mid-run is either handed back for retry or
// force-failed once the attempt cap is spent. No conversation stays in
// processing indefinitely.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ferrant/reverie/internal/conversation"
)

// Sweeper detects and repairs stuck conversations.
type Sweeper struct {
	store       conversation.Store
	logger      *slog.Logger
	threshold   time.Duration
	maxAttempts int

	now func() time.Time
}

// Result summarizes one recovery sweep.
type Result struct {
	Detected int
	Reset    int
	Failed   int
}

// NewSweeper creates a Sweeper. threshold is how long a record may sit in
// processing before it is considered stuck — deliberately much shorter
// than the idle-session threshold, because stuck work should be reclaimed
// sooner than idle work is discovered.
func NewSweeper(store conversation.Store, logger *slog.Logger, threshold time.Duration, maxAttempts int) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:       store,
		logger:      logger.With("component", "recovery"),
		threshold:   threshold,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Detect returns conversations whose processing reservation is older than
// the staleness threshold.
func (s *Sweeper) Detect(ctx context.Context) ([]conversation.StuckRecord, error) {
	cutoff := s.now().UTC().Add(-s.threshold)
	stuck, err := s.store.ListStuck(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("recovery: detect: %w", err)
	}
	return stuck, nil
}

// Recover repairs every detected record: under the attempt cap it resets
// processing back to active (clearing the reservation timestamp) so the
// normal detector/pipeline path retries it; at or over the cap it forces
// the status to failed. Both paths fall back to the forced write, which is
// guaranteed to succeed independent of the normal write machinery.
func (s *Sweeper) Recover(ctx context.Context) (Result, error) {
	stuck, err := s.Detect(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Detected: len(stuck)}
	for _, rec := range stuck {
		if rec.ProcessingAttempts < s.maxAttempts {
			if err := s.store.ResetForRetry(ctx, rec.ID); err != nil {
				s.logger.Error("reset failed, forcing active status",
					"conversation", rec.ID,
					"error", err,
				)
				if ferr := s.store.ForceStatus(ctx, rec.ID, conversation.StatusActive); ferr != nil {
					return res, fmt.Errorf("recovery: reset %s: %w (forced write also failed: %v)", rec.ID, err, ferr)
				}
			}
			res.Reset++
			s.logger.Info("stuck conversation reset for retry",
				"conversation", rec.ID,
				"attempts", rec.ProcessingAttempts,
				"stuck_since", rec.ProcessingStartedAt,
			)
			continue
		}

		if err := s.store.ForceStatus(ctx, rec.ID, conversation.StatusFailed); err != nil {
			return res, fmt.Errorf("recovery: force fail %s: %w", rec.ID, err)
		}
		res.Failed++
		s.logger.Warn("stuck conversation failed, attempt cap exhausted",
			"conversation", rec.ID,
			"attempts", rec.ProcessingAttempts,
		)
	}

	return res, nil
}
