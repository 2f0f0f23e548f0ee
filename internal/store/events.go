package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ferrant/reverie/internal/delivery"
)

// CreateEvent inserts a pending scheduled event. The payload is persisted
// as its platform-tagged JSON envelope.
func (s *Store) CreateEvent(ctx context.Context, ev *delivery.Event) error {
	payload, err := delivery.MarshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("store: create event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_events
			(id, participant, platform, payload, deliver_at, status, retry_count, last_error, conversation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Participant, ev.Platform, string(payload),
		ev.DeliverAt.UTC().Format(timeFormat),
		string(ev.Status), ev.RetryCount, ev.LastError, ev.ConversationID,
		ev.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("store: create event: %w", err)
	}
	return nil
}

// GetEvent returns the event for id.
func (s *Store) GetEvent(ctx context.Context, id string) (*delivery.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant, platform, payload, deliver_at, status,
		       retry_count, last_error, conversation_id, correlation_id,
		       created_at, delivered_at
		FROM scheduled_events WHERE id = ?`, id)

	ev, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrEventNotFound
	}
	return ev, err
}

// DueEvents returns pending events due at or before now, oldest due
// first, capped at limit. An empty platform matches all platforms.
func (s *Store) DueEvents(ctx context.Context, now time.Time, limit int, platform string) ([]delivery.Event, error) {
	query := `
		SELECT id, participant, platform, payload, deliver_at, status,
		       retry_count, last_error, conversation_id, correlation_id,
		       created_at, delivered_at
		FROM scheduled_events
		WHERE status = ? AND deliver_at <= ?`
	args := []any{string(delivery.StatusPending), now.UTC().Format(timeFormat)}

	if platform != "" {
		query += " AND platform = ?"
		args = append(args, platform)
	}
	query += " ORDER BY deliver_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: due events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []delivery.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: due events rows: %w", err)
	}
	return events, nil
}

// MarkDelivered transitions pending to delivered.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time, correlationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET status = ?, delivered_at = ?, correlation_id = ?
		WHERE id = ? AND status = ?`,
		string(delivery.StatusDelivered),
		at.UTC().Format(timeFormat), correlationID,
		id, string(delivery.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("store: mark delivered: %w", err)
	}
	return requireEventRow(res, "mark delivered", id)
}

// RescheduleEvent keeps the event pending with a later deliver_at and an
// incremented retry count.
func (s *Store) RescheduleEvent(ctx context.Context, id string, nextAt time.Time, errDetail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET deliver_at = ?, retry_count = retry_count + 1, last_error = ?
		WHERE id = ? AND status = ?`,
		nextAt.UTC().Format(timeFormat), errDetail,
		id, string(delivery.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("store: reschedule event: %w", err)
	}
	return requireEventRow(res, "reschedule", id)
}

// FailEvent transitions the event to failed.
func (s *Store) FailEvent(ctx context.Context, id, errDetail string, bumpRetry bool) error {
	bump := 0
	if bumpRetry {
		bump = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET status = ?, retry_count = retry_count + ?, last_error = ?
		WHERE id = ? AND status = ?`,
		string(delivery.StatusFailed), bump, errDetail,
		id, string(delivery.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("store: fail event: %w", err)
	}
	return requireEventRow(res, "fail", id)
}

// CancelEvent cancels a pending event; false means it was not pending.
func (s *Store) CancelEvent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events SET status = ?
		WHERE id = ? AND status = ?`,
		string(delivery.StatusCancelled), id, string(delivery.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("store: cancel event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: cancel event rows affected: %w", err)
	}
	return n == 1, nil
}

// CancelAllForParticipant cancels every pending event for the participant.
func (s *Store) CancelAllForParticipant(ctx context.Context, participant string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events SET status = ?
		WHERE participant = ? AND status = ?`,
		string(delivery.StatusCancelled), participant, string(delivery.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("store: cancel events for participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cancel events rows affected: %w", err)
	}
	return int(n), nil
}

// FailStaleEvents force-fails pending events created at or before cutoff.
func (s *Store) FailStaleEvents(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events SET status = ?, last_error = 'expired: exceeded maximum pending age'
		WHERE status = ? AND created_at <= ?`,
		string(delivery.StatusFailed), string(delivery.StatusPending),
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("store: fail stale events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: fail stale rows affected: %w", err)
	}
	return int(n), nil
}

// scanEvent decodes one scheduled_events row via the given scan function.
func scanEvent(scan func(dest ...any) error) (*delivery.Event, error) {
	var (
		ev          delivery.Event
		payload     string
		deliverAt   string
		status      string
		createdAt   string
		deliveredAt sql.NullString
	)
	err := scan(&ev.ID, &ev.Participant, &ev.Platform, &payload, &deliverAt,
		&status, &ev.RetryCount, &ev.LastError, &ev.ConversationID,
		&ev.CorrelationID, &createdAt, &deliveredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan event: %w", err)
	}

	ev.Status = delivery.Status(status)
	if ev.Payload, err = delivery.UnmarshalPayload([]byte(payload)); err != nil {
		return nil, fmt.Errorf("store: decode event payload: %w", err)
	}
	if ev.DeliverAt, err = time.Parse(timeFormat, deliverAt); err != nil {
		return nil, fmt.Errorf("store: parse deliver_at %q: %w", deliverAt, err)
	}
	if ev.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("store: parse event created_at %q: %w", createdAt, err)
	}
	if deliveredAt.Valid {
		t, err := time.Parse(timeFormat, deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse delivered_at %q: %w", deliveredAt.String, err)
		}
		ev.DeliveredAt = &t
	}

	return &ev, nil
}

// requireEventRow converts a zero-row conditional update into
// ErrEventNotFound: the id does not exist or is no longer pending.
func requireEventRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", op, id, delivery.ErrEventNotFound)
	}
	return nil
}
