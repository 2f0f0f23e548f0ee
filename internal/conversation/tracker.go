package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// reserveTimeout bounds the reservation statement so a contended row can
// never wedge a worker indefinitely.
const reserveTimeout = 5 * time.Second

// Tracker owns conversation status transitions. The reservation in
// ReserveForProcessing is the only contention point in the system; every
// other transition assumes the caller holds the reservation.
type Tracker struct {
	store       Store
	logger      *slog.Logger
	maxAttempts int
}

// NewTracker creates a Tracker. maxAttempts caps processing attempts
// before recovery force-fails a record.
func NewTracker(store Store, logger *slog.Logger, maxAttempts int) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:       store,
		logger:      logger.With("component", "tracker"),
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts returns the processing attempt cap.
func (t *Tracker) MaxAttempts() int { return t.maxAttempts }

// OpenSession creates a new active conversation.
func (t *Tracker) OpenSession(ctx context.Context, participant, platform string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:            uuid.NewString(),
		Participant:   participant,
		Platform:      platform,
		Status:        StatusActive,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := t.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("conversation: open session: %w", err)
	}
	t.logger.Debug("session opened", "conversation", rec.ID, "platform", platform)
	return rec, nil
}

// RecordMessage appends a message and refreshes the idle clock.
func (t *Tracker) RecordMessage(ctx context.Context, id, role, content string) error {
	msg := Message{Role: role, Content: content, SentAt: time.Now().UTC()}
	if err := t.store.AppendMessage(ctx, id, msg); err != nil {
		return fmt.Errorf("conversation: record message: %w", err)
	}
	return nil
}

// ReserveForProcessing attempts to take the processing reservation.
// Returns false when another reserver won, the record is already
// processed, or the attempt cap is exhausted.
func (t *Tracker) ReserveForProcessing(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, reserveTimeout)
	defer cancel()

	ok, err := t.store.Reserve(ctx, id, t.maxAttempts, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("conversation: reserve %s: %w", id, err)
	}
	if !ok {
		t.logger.Debug("reservation not taken", "conversation", id)
	}
	return ok, nil
}

// CompleteProcessing transitions the reserved record to processed with its
// artifacts. If the normal write path fails, the status is forced to
// failed so the record never hangs in processing; the artifacts are lost
// and the record becomes eligible for retry.
func (t *Tracker) CompleteProcessing(ctx context.Context, id string, a Artifacts) error {
	if err := t.store.Complete(ctx, id, a, time.Now().UTC()); err != nil {
		t.logger.Error("artifact write failed, forcing failed status",
			"conversation", id,
			"error", err,
		)
		if ferr := t.store.ForceStatus(ctx, id, StatusFailed); ferr != nil {
			return fmt.Errorf("conversation: complete %s: %w (forced write also failed: %v)", id, err, ferr)
		}
		return fmt.Errorf("conversation: complete %s: %w", id, err)
	}
	return nil
}

// FailProcessing transitions the reserved record to failed. Falls back to
// the forced write if the normal path is unhealthy.
func (t *Tracker) FailProcessing(ctx context.Context, id, furthestStage string) error {
	if err := t.store.Fail(ctx, id, furthestStage); err != nil {
		t.logger.Error("fail write failed, forcing failed status",
			"conversation", id,
			"error", err,
		)
		if ferr := t.store.ForceStatus(ctx, id, StatusFailed); ferr != nil {
			return fmt.Errorf("conversation: fail %s: %w (forced write also failed: %v)", id, err, ferr)
		}
	}
	return nil
}
