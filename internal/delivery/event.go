package delivery

import (
	"context"
	"errors"
	"time"
)

// Status is the delivery lifecycle state of a scheduled event.
type Status string

const (
	// StatusPending means the event awaits delivery (or a retry).
	StatusPending Status = "pending"

	// StatusDelivered means the sender accepted the message.
	StatusDelivered Status = "delivered"

	// StatusCancelled means a producer withdrew the event before delivery.
	StatusCancelled Status = "cancelled"

	// StatusFailed means the retry budget is spent or the failure was
	// permanent.
	StatusFailed Status = "failed"
)

// Event is one scheduled cross-platform message. DeliveredAt is set iff
// status is delivered; RetryCount only increases.
type Event struct {
	ID          string
	Participant string // platform-level recipient reference
	Platform    string
	Payload     Payload
	DeliverAt   time.Time
	Status      Status
	RetryCount  int
	LastError   string

	// ConversationID optionally links the event to its originating
	// conversation.
	ConversationID string

	CorrelationID string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("delivery: event not found")

// EventStore is the persistence boundary for scheduled events.
// Implemented by internal/store on SQLite.
type EventStore interface {
	// CreateEvent inserts a pending event.
	CreateEvent(ctx context.Context, ev *Event) error

	// GetEvent returns the event for id, or ErrEventNotFound.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// DueEvents returns pending events with deliver_at at or before now,
	// oldest due first, capped at limit. An empty platform matches all.
	DueEvents(ctx context.Context, now time.Time, limit int, platform string) ([]Event, error)

	// MarkDelivered transitions pending to delivered and records the
	// sender correlation id.
	MarkDelivered(ctx context.Context, id string, at time.Time, correlationID string) error

	// RescheduleEvent keeps the event pending with a later deliver_at,
	// increments retry_count, and records the error detail.
	RescheduleEvent(ctx context.Context, id string, nextAt time.Time, errDetail string) error

	// FailEvent transitions the event to failed with the error detail.
	// When bumpRetry is true the retry count is incremented as well.
	FailEvent(ctx context.Context, id string, errDetail string, bumpRetry bool) error

	// CancelEvent cancels a pending event; returns false if the event was
	// not pending.
	CancelEvent(ctx context.Context, id string) (bool, error)

	// CancelAllForParticipant cancels every pending event for the
	// participant and returns how many were affected.
	CancelAllForParticipant(ctx context.Context, participant string) (int, error)

	// FailStaleEvents force-fails pending events created at or before the
	// cutoff, regardless of remaining retry budget.
	FailStaleEvents(ctx context.Context, cutoff time.Time) (int, error)
}
