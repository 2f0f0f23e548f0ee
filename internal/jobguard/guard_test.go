package jobguard

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type runRecord struct {
	job      string
	started  time.Time
	status   string
	finished bool
	result   map[string]any
}

// memRunStore is an in-memory RunStore.
type memRunStore struct {
	runs    []*runRecord
	hasErr  error
	startEr error
}

func (s *memRunStore) HasRunSince(_ context.Context, job string, since time.Time) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	for _, r := range s.runs {
		if r.job == job && !r.started.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memRunStore) StartRun(_ context.Context, job string, at time.Time) (string, error) {
	if s.startEr != nil {
		return "", s.startEr
	}
	s.runs = append(s.runs, &runRecord{job: job, started: at, status: RunStatusRunning})
	return "run-" + job, nil
}

func (s *memRunStore) FinishRun(_ context.Context, runID, status string, _ time.Time, result map[string]any) error {
	for _, r := range s.runs {
		if "run-"+r.job == runID {
			r.status = status
			r.finished = true
			r.result = result
		}
	}
	return nil
}

func TestWrap_RunsAndSettles(t *testing.T) {
	t.Parallel()

	store := &memRunStore{}
	g := NewGuard(store, slog.Default())

	outcome := g.Wrap(context.Background(), "cleanup", time.Hour, func(context.Context) (map[string]any, error) {
		return map[string]any{"pruned": 3}, nil
	})

	if outcome.Status != OutcomeOK {
		t.Fatalf("status = %q, want ok", outcome.Status)
	}
	if outcome.Counts["pruned"] != 3 {
		t.Errorf("counts = %v", outcome.Counts)
	}
	if len(store.runs) != 1 || store.runs[0].status != RunStatusSuccess || !store.runs[0].finished {
		t.Fatalf("run record = %+v, want settled success", store.runs)
	}
}

func TestWrap_CooldownSkips(t *testing.T) {
	t.Parallel()

	store := &memRunStore{}
	g := NewGuard(store, slog.Default())

	calls := 0
	fn := func(context.Context) (map[string]any, error) {
		calls++
		return nil, nil
	}

	if out := g.Wrap(context.Background(), "decay", time.Hour, fn); out.Status != OutcomeOK {
		t.Fatalf("first run = %q, want ok", out.Status)
	}
	if out := g.Wrap(context.Background(), "decay", time.Hour, fn); out.Status != OutcomeSkipped {
		t.Fatalf("second run = %q, want skipped", out.Status)
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}

	// A different job is unaffected by decay's cooldown window.
	if out := g.Wrap(context.Background(), "cleanup", time.Hour, fn); out.Status != OutcomeOK {
		t.Errorf("other job = %q, want ok", out.Status)
	}
}

func TestWrap_CooldownExpires(t *testing.T) {
	t.Parallel()

	store := &memRunStore{}
	g := NewGuard(store, slog.Default())

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	fn := func(context.Context) (map[string]any, error) { return nil, nil }
	if out := g.Wrap(context.Background(), "decay", 50*time.Minute, fn); out.Status != OutcomeOK {
		t.Fatalf("first run = %q", out.Status)
	}

	g.now = func() time.Time { return base.Add(49 * time.Minute) }
	if out := g.Wrap(context.Background(), "decay", 50*time.Minute, fn); out.Status != OutcomeSkipped {
		t.Errorf("within window = %q, want skipped", out.Status)
	}

	g.now = func() time.Time { return base.Add(51 * time.Minute) }
	if out := g.Wrap(context.Background(), "decay", 50*time.Minute, fn); out.Status != OutcomeOK {
		t.Errorf("after window = %q, want ok", out.Status)
	}
}

func TestWrap_FailureSettlesFailed(t *testing.T) {
	t.Parallel()

	store := &memRunStore{}
	g := NewGuard(store, slog.Default())

	boom := errors.New("boom")
	outcome := g.Wrap(context.Background(), "sweep", time.Minute, func(context.Context) (map[string]any, error) {
		return map[string]any{"partial": 1}, boom
	})

	if outcome.Status != OutcomeError || !errors.Is(outcome.Err, boom) {
		t.Fatalf("outcome = %+v, want error wrapping boom", outcome)
	}
	if outcome.Counts["partial"] != 1 {
		t.Errorf("partial counts lost: %v", outcome.Counts)
	}
	if store.runs[0].status != RunStatusFailed {
		t.Errorf("run status = %q, want failed", store.runs[0].status)
	}
}

func TestWrap_StoreErrors(t *testing.T) {
	t.Parallel()

	g := NewGuard(&memRunStore{hasErr: errors.New("locked")}, slog.Default())
	out := g.Wrap(context.Background(), "decay", time.Minute, func(context.Context) (map[string]any, error) {
		t.Fatal("fn must not run when the cooldown check fails")
		return nil, nil
	})
	if out.Status != OutcomeError {
		t.Errorf("status = %q, want error", out.Status)
	}

	g = NewGuard(&memRunStore{startEr: errors.New("locked")}, slog.Default())
	out = g.Wrap(context.Background(), "decay", time.Minute, func(context.Context) (map[string]any, error) {
		t.Fatal("fn must not run when the run record fails")
		return nil, nil
	})
	if out.Status != OutcomeError {
		t.Errorf("status = %q, want error", out.Status)
	}
}

func TestSlice(t *testing.T) {
	t.Parallel()

	items := []string{"a", "b", "c", "d", "e"}

	work, deferred := Slice(items, 3)
	if len(work) != 3 || deferred != 2 {
		t.Errorf("Slice(5, 3) = (%d, %d), want (3, 2)", len(work), deferred)
	}

	work, deferred = Slice(items, 10)
	if len(work) != 5 || deferred != 0 {
		t.Errorf("Slice(5, 10) = (%d, %d), want (5, 0)", len(work), deferred)
	}

	work, deferred = Slice(items, 0)
	if len(work) != 5 || deferred != 0 {
		t.Errorf("Slice(5, 0) = (%d, %d), want all items with no cap", len(work), deferred)
	}

	work, deferred = Slice([]string(nil), 3)
	if len(work) != 0 || deferred != 0 {
		t.Errorf("Slice(nil, 3) = (%d, %d)", len(work), deferred)
	}
}
