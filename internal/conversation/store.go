package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation: not found")

// Store is the persistence boundary for conversation records. Implemented
// by internal/store on SQLite.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// AppendMessage appends to the message log and refreshes last_message_at.
	AppendMessage(ctx context.Context, id string, msg Message) error

	// Transcript returns the ordered message log.
	Transcript(ctx context.Context, id string) ([]Message, error)

	// Reserve atomically transitions active, or failed with fewer than
	// maxAttempts attempts, to processing: attempts incremented,
	// processing_started_at set to now. Returns false without error when
	// the current status does not match — the losing side of a race sees
	// a plain false, not a failure.
	Reserve(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error)

	// Complete transitions processing to processed and stores artifacts.
	Complete(ctx context.Context, id string, a Artifacts, now time.Time) error

	// Fail transitions processing to failed, recording the furthest stage.
	Fail(ctx context.Context, id string, furthestStage string) error

	// ResetForRetry transitions processing back to active and clears
	// processing_started_at. Used by recovery for under-cap retries.
	ResetForRetry(ctx context.Context, id string) error

	// ForceStatus is the single approved last-resort write. It sets the
	// status unconditionally, bypassing transition checks, and clears
	// processing_started_at for any non-processing status. Reserved for
	// recovery tooling and write-path fallbacks.
	ForceStatus(ctx context.Context, id string, status Status) error

	// ListStale returns ids of active conversations idle past their
	// cutoff, oldest idle first, capped at q.Limit.
	ListStale(ctx context.Context, q StaleQuery) ([]string, error)

	// ListStuck returns conversations in processing whose
	// processing_started_at is at or before the cutoff.
	ListStuck(ctx context.Context, cutoff time.Time) ([]StuckRecord, error)
}
