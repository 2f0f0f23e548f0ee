package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Thresholds holds the idle policy: a default threshold plus optional
// per-platform overrides (voice sessions go idle faster than text).
type Thresholds struct {
	Default     time.Duration
	PerPlatform map[string]time.Duration
}

// Detector is a read-only query over active conversations. It never
// mutates; claiming work happens only through the tracker's reservation.
type Detector struct {
	store      Store
	logger     *slog.Logger
	thresholds Thresholds
	limit      int

	now func() time.Time
}

// NewDetector creates a detector with the given idle policy and result cap.
func NewDetector(store Store, logger *slog.Logger, thresholds Thresholds, limit int) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:      store,
		logger:     logger.With("component", "detector"),
		thresholds: thresholds,
		limit:      limit,
		now:        time.Now,
	}
}

// Detect returns ids of active conversations idle beyond their threshold,
// oldest idle first, capped at the detector's limit. Output order is a
// priority hint for the caller, not a correctness guarantee.
func (d *Detector) Detect(ctx context.Context) ([]string, error) {
	now := d.now().UTC()

	q := StaleQuery{
		DefaultCutoff: now.Add(-d.thresholds.Default),
		Limit:         d.limit,
	}
	if len(d.thresholds.PerPlatform) > 0 {
		q.PlatformCutoffs = make(map[string]time.Time, len(d.thresholds.PerPlatform))
		for platform, threshold := range d.thresholds.PerPlatform {
			q.PlatformCutoffs[platform] = now.Add(-threshold)
		}
	}

	ids, err := d.store.ListStale(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("conversation: detect stale: %w", err)
	}
	if len(ids) > 0 {
		d.logger.Debug("stale conversations detected", "count", len(ids))
	}
	return ids, nil
}
