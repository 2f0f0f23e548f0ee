package delivery

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// memEventStore records the bookkeeping calls the system makes.
type memEventStore struct {
	created     []*Event
	delivered   []string
	rescheduled []struct {
		id     string
		nextAt time.Time
		detail string
	}
	failed []struct {
		id     string
		bump   bool
		detail string
	}
}

func (s *memEventStore) CreateEvent(_ context.Context, ev *Event) error {
	s.created = append(s.created, ev)
	return nil
}

func (s *memEventStore) GetEvent(context.Context, string) (*Event, error) {
	return nil, ErrEventNotFound
}

func (s *memEventStore) DueEvents(context.Context, time.Time, int, string) ([]Event, error) {
	return nil, nil
}

func (s *memEventStore) MarkDelivered(_ context.Context, id string, _ time.Time, _ string) error {
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *memEventStore) RescheduleEvent(_ context.Context, id string, nextAt time.Time, detail string) error {
	s.rescheduled = append(s.rescheduled, struct {
		id     string
		nextAt time.Time
		detail string
	}{id, nextAt, detail})
	return nil
}

func (s *memEventStore) FailEvent(_ context.Context, id, detail string, bump bool) error {
	s.failed = append(s.failed, struct {
		id     string
		bump   bool
		detail string
	}{id, bump, detail})
	return nil
}

func (s *memEventStore) CancelEvent(context.Context, string) (bool, error) { return false, nil }

func (s *memEventStore) CancelAllForParticipant(context.Context, string) (int, error) {
	return 0, nil
}

func (s *memEventStore) FailStaleEvents(context.Context, time.Time) (int, error) { return 0, nil }

// stubSender returns a fixed error (or success).
type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, Payload) (SendResult, error) {
	s.calls++
	if s.err != nil {
		return SendResult{}, s.err
	}
	return SendResult{CorrelationID: "msg-1"}, nil
}

func newTestSystem(store EventStore, sender Sender, now time.Time) *System {
	s := NewSystem(store, map[string]Sender{PlatformTelegram: sender}, slog.Default(), Options{
		MaxRetries:  3,
		BackoffBase: time.Minute,
	})
	s.now = func() time.Time { return now }
	return s
}

func pendingEvent(retries int) *Event {
	return &Event{
		ID:          "ev-1",
		Participant: "1001",
		Platform:    PlatformTelegram,
		Payload:     TelegramPayload{ChatID: 1001, Text: "hello"},
		Status:      StatusPending,
		RetryCount:  retries,
	}
}

func TestDeliver_Success(t *testing.T) {
	t.Parallel()

	store := &memEventStore{}
	sender := &stubSender{}
	sys := newTestSystem(store, sender, time.Now())

	ok, err := sys.Deliver(context.Background(), pendingEvent(0))
	if err != nil || !ok {
		t.Fatalf("Deliver = (%v, %v), want (true, nil)", ok, err)
	}
	if len(store.delivered) != 1 || store.delivered[0] != "ev-1" {
		t.Errorf("delivered = %v, want [ev-1]", store.delivered)
	}
	if sender.calls != 1 {
		t.Errorf("sender calls = %d, want 1", sender.calls)
	}
}

func TestDeliver_TransientFailureBacksOffExponentially(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// First failure: retry 1 due in base*2^1 = 2m. Second: 4m.
	wantDelays := []time.Duration{2 * time.Minute, 4 * time.Minute}
	for i, wantDelay := range wantDelays {
		store := &memEventStore{}
		sys := newTestSystem(store, &stubSender{err: errors.New("http 500")}, now)

		ok, err := sys.Deliver(context.Background(), pendingEvent(i))
		if err != nil || ok {
			t.Fatalf("retry %d: Deliver = (%v, %v), want (false, nil)", i, ok, err)
		}
		if len(store.rescheduled) != 1 {
			t.Fatalf("retry %d: rescheduled %d times, want 1", i, len(store.rescheduled))
		}
		if got := store.rescheduled[0].nextAt.Sub(now); got != wantDelay {
			t.Errorf("retry %d: next attempt in %v, want %v", i, got, wantDelay)
		}
	}
}

func TestDeliver_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	store := &memEventStore{}
	sys := newTestSystem(store, &stubSender{err: errors.New("http 500")}, time.Now())

	// RetryCount 2 with MaxRetries 3: the next failure is the final one.
	if _, err := sys.Deliver(context.Background(), pendingEvent(2)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(store.rescheduled) != 0 {
		t.Errorf("rescheduled = %v, want none", store.rescheduled)
	}
	if len(store.failed) != 1 || !store.failed[0].bump {
		t.Fatalf("failed = %+v, want one with retry bump", store.failed)
	}
}

func TestDeliver_PermanentErrorBypassesRetry(t *testing.T) {
	t.Parallel()

	store := &memEventStore{}
	sys := newTestSystem(store, &stubSender{err: &PermanentError{Reason: "chat not found"}}, time.Now())

	if _, err := sys.Deliver(context.Background(), pendingEvent(0)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(store.rescheduled) != 0 {
		t.Errorf("permanent failure was rescheduled: %v", store.rescheduled)
	}
	if len(store.failed) != 1 || store.failed[0].bump {
		t.Fatalf("failed = %+v, want one without retry bump", store.failed)
	}
}

func TestDeliver_InputDefectsArePermanent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   *Event
	}{
		{"no recipient", &Event{ID: "e", Platform: PlatformTelegram, Payload: TelegramPayload{ChatID: 1, Text: "x"}, Status: StatusPending}},
		{"empty payload", &Event{ID: "e", Participant: "1", Platform: PlatformTelegram, Payload: TelegramPayload{ChatID: 1}, Status: StatusPending}},
		{"unknown platform", &Event{ID: "e", Participant: "1", Platform: "matrix", Payload: TelegramPayload{ChatID: 1, Text: "x"}, Status: StatusPending}},
	}

	for _, tc := range cases {
		store := &memEventStore{}
		sender := &stubSender{}
		sys := newTestSystem(store, sender, time.Now())

		if _, err := sys.Deliver(context.Background(), tc.ev); err != nil {
			t.Fatalf("%s: deliver: %v", tc.name, err)
		}
		if len(store.failed) != 1 || store.failed[0].bump {
			t.Errorf("%s: failed = %+v, want one without retry bump", tc.name, store.failed)
		}
		if len(store.rescheduled) != 0 {
			t.Errorf("%s: unexpected reschedule", tc.name)
		}
	}
}

func TestCreateEvent_FillsDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	store := &memEventStore{}
	sys := newTestSystem(store, &stubSender{}, now)

	deliverAt := now.Add(45 * time.Minute)
	ev, err := sys.CreateEvent(context.Background(), "1001", TelegramPayload{ChatID: 1001, Text: "reminder"}, deliverAt, "conv-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.ID == "" {
		t.Error("event id not assigned")
	}
	if ev.Status != StatusPending {
		t.Errorf("status = %q, want pending", ev.Status)
	}
	if ev.Platform != PlatformTelegram {
		t.Errorf("platform = %q, want telegram", ev.Platform)
	}
	if !ev.DeliverAt.Equal(deliverAt) {
		t.Errorf("deliver_at = %v, want %v", ev.DeliverAt, deliverAt)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d events, want 1", len(store.created))
	}
}
