package conversation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestDetect_CutoffComputation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stale = []string{"conv-old", "conv-older"}

	d := NewDetector(store, slog.Default(), Thresholds{
		Default: 15 * time.Minute,
		PerPlatform: map[string]time.Duration{
			"voice": 5 * time.Minute,
		},
	}, 50)

	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ids, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(ids) != 2 || ids[0] != "conv-old" {
		t.Errorf("ids = %v", ids)
	}

	q := store.staleQ
	if !q.DefaultCutoff.Equal(now.Add(-15 * time.Minute)) {
		t.Errorf("default cutoff = %v, want now-15m", q.DefaultCutoff)
	}
	if got := q.PlatformCutoffs["voice"]; !got.Equal(now.Add(-5 * time.Minute)) {
		t.Errorf("voice cutoff = %v, want now-5m", got)
	}
	if q.Limit != 50 {
		t.Errorf("limit = %d, want 50", q.Limit)
	}
}

func TestDetect_NoOverrides(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	d := NewDetector(store, slog.Default(), Thresholds{Default: time.Hour}, 10)

	if _, err := d.Detect(context.Background()); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if store.staleQ.PlatformCutoffs != nil {
		t.Errorf("cutoffs = %v, want nil when no overrides configured", store.staleQ.PlatformCutoffs)
	}
}

func TestDetect_StoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.listErr = errors.New("db locked")
	d := NewDetector(store, slog.Default(), Thresholds{Default: time.Hour}, 10)

	if _, err := d.Detect(context.Background()); err == nil {
		t.Fatal("expected error from store")
	}
}
