package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the delivery system's retry state machine.
type Options struct {
	// MaxRetries caps delivery attempts per event.
	MaxRetries int

	// BackoffBase is the exponential backoff unit: retry n is rescheduled
	// BackoffBase * 2^n in the future.
	BackoffBase time.Duration
}

// System orchestrates scheduled event delivery: routing by platform,
// retry bookkeeping with exponential backoff, and backlog hygiene.
type System struct {
	store   EventStore
	senders map[string]Sender
	logger  *slog.Logger
	tracer  trace.Tracer
	opts    Options

	now func() time.Time
}

// NewSystem creates a delivery System. senders maps platform
// discriminators to their transport implementations.
func NewSystem(store EventStore, senders map[string]Sender, logger *slog.Logger, opts Options) *System {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Minute
	}
	return &System{
		store:   store,
		senders: senders,
		logger:  logger.With("component", "delivery"),
		tracer:  otel.Tracer("reverie/delivery"),
		opts:    opts,
		now:     time.Now,
	}
}

// CreateEvent persists a pending event for later delivery. conversationID
// may be empty when the event has no originating conversation.
func (s *System) CreateEvent(ctx context.Context, participant string, payload Payload, deliverAt time.Time, conversationID string) (*Event, error) {
	ev := &Event{
		ID:             uuid.NewString(),
		Participant:    participant,
		Platform:       payload.Platform(),
		Payload:        payload,
		DeliverAt:      deliverAt.UTC(),
		Status:         StatusPending,
		ConversationID: conversationID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("delivery: create event: %w", err)
	}
	s.logger.Debug("event scheduled",
		"event", ev.ID,
		"platform", ev.Platform,
		"deliver_at", ev.DeliverAt,
	)
	return ev, nil
}

// DueEvents returns pending events due now, oldest due first, capped at
// limit as backpressure against delivery bursts. An empty platform
// matches all platforms.
func (s *System) DueEvents(ctx context.Context, limit int, platform string) ([]Event, error) {
	return s.store.DueEvents(ctx, s.now().UTC(), limit, platform)
}

// Deliver routes the event to its platform sender and settles the
// outcome: delivered on success, rescheduled or failed per the error
// classification otherwise. The boolean reports whether the send itself
// succeeded; the returned error reflects bookkeeping problems only, so a
// failed send that was recorded properly returns (false, nil).
func (s *System) Deliver(ctx context.Context, ev *Event) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.deliver")
	defer span.End()

	sendErr := s.attempt(ctx, ev)
	if sendErr == nil {
		return true, nil
	}

	span.RecordError(sendErr)
	span.SetStatus(codes.Error, "delivery failed")

	increment := Classify(sendErr) == Transient
	return false, s.MarkFailed(ctx, ev, sendErr.Error(), increment)
}

// attempt performs the actual send and marks success.
func (s *System) attempt(ctx context.Context, ev *Event) error {
	if ev.Participant == "" {
		return ErrNoRecipient
	}
	if err := ev.Payload.Validate(); err != nil {
		return err
	}

	sender, ok := s.senders[ev.Platform]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, ev.Platform)
	}

	res, err := sender.Send(ctx, ev.Participant, ev.Payload)
	if err != nil {
		return err
	}

	if err := s.store.MarkDelivered(ctx, ev.ID, s.now().UTC(), res.CorrelationID); err != nil {
		return fmt.Errorf("delivery: mark delivered %s: %w", ev.ID, err)
	}
	s.logger.Info("event delivered",
		"event", ev.ID,
		"platform", ev.Platform,
		"correlation", res.CorrelationID,
	)
	return nil
}

// MarkFailed settles a failed attempt. With incrementRetry, the event
// stays pending with deliver_at pushed out exponentially while budget
// remains, and fails once retry_count reaches the cap. Without it the
// event fails immediately and retry_count is untouched.
func (s *System) MarkFailed(ctx context.Context, ev *Event, errDetail string, incrementRetry bool) error {
	if !incrementRetry {
		s.logger.Warn("event failed permanently",
			"event", ev.ID,
			"platform", ev.Platform,
			"error", errDetail,
		)
		return s.store.FailEvent(ctx, ev.ID, errDetail, false)
	}

	next := ev.RetryCount + 1
	if next < s.opts.MaxRetries {
		nextAt := s.now().UTC().Add(s.backoff(next))
		s.logger.Warn("event delivery failed, retrying",
			"event", ev.ID,
			"retry", next,
			"next_attempt", nextAt,
			"error", errDetail,
		)
		return s.store.RescheduleEvent(ctx, ev.ID, nextAt, errDetail)
	}

	s.logger.Warn("event failed, retry budget exhausted",
		"event", ev.ID,
		"retries", next,
		"error", errDetail,
	)
	return s.store.FailEvent(ctx, ev.ID, errDetail, true)
}

// backoff returns BackoffBase * 2^n.
func (s *System) backoff(n int) time.Duration {
	d := s.opts.BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
	}
	return d
}

// Cancel cancels a pending event. Returns false if the event was already
// settled.
func (s *System) Cancel(ctx context.Context, id string) (bool, error) {
	return s.store.CancelEvent(ctx, id)
}

// CancelAllForTarget cancels every pending event for a participant.
func (s *System) CancelAllForTarget(ctx context.Context, participant string) (int, error) {
	return s.store.CancelAllForParticipant(ctx, participant)
}

// CleanupStale force-fails pending events older than maxAge regardless of
// retry budget, bounding backlog growth.
func (s *System) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	n, err := s.store.FailStaleEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delivery: cleanup stale: %w", err)
	}
	if n > 0 {
		s.logger.Info("stale pending events failed", "count", n, "older_than", maxAge)
	}
	return n, nil
}
