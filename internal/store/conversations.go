package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ferrant/reverie/internal/conversation"
)

// timeFormat is the persisted timestamp layout, matching SQLite's
// lexicographic ordering for chronological comparisons.
const timeFormat = time.RFC3339Nano

// Create inserts a new conversation record.
func (s *Store) Create(ctx context.Context, rec *conversation.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant, platform, status, processing_attempts, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Participant, rec.Platform, string(rec.Status),
		rec.ProcessingAttempts,
		rec.LastMessageAt.UTC().Format(timeFormat),
		rec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// Get returns the conversation record for id.
func (s *Store) Get(ctx context.Context, id string) (*conversation.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant, platform, status, processing_attempts,
		       processing_started_at, last_message_at, furthest_stage,
		       summary, tone, created_at
		FROM conversations WHERE id = ?`, id)

	var (
		rec       conversation.Record
		status    string
		startedAt sql.NullString
		lastMsg   string
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.Participant, &rec.Platform, &status,
		&rec.ProcessingAttempts, &startedAt, &lastMsg,
		&rec.FurthestStage, &rec.Summary, &rec.Tone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}

	rec.Status = conversation.Status(status)
	if rec.LastMessageAt, err = time.Parse(timeFormat, lastMsg); err != nil {
		return nil, fmt.Errorf("store: parse last_message_at %q: %w", lastMsg, err)
	}
	if rec.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at %q: %w", createdAt, err)
	}
	if startedAt.Valid {
		t, err := time.Parse(timeFormat, startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse processing_started_at %q: %w", startedAt.String, err)
		}
		rec.ProcessingStartedAt = &t
	}

	return &rec, nil
}

// AppendMessage appends to the ordered message log and refreshes
// last_message_at in one transaction.
func (s *Store) AppendMessage(ctx context.Context, id string, msg conversation.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append message: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	if exists == 0 {
		return conversation.ErrNotFound
	}

	sentAt := msg.SentAt.UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content, sent_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?)`,
		id, id, msg.Role, msg.Content, sentAt,
	); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_at = ? WHERE id = ?", sentAt, id,
	); err != nil {
		return fmt.Errorf("store: append message: touch conversation: %w", err)
	}

	return tx.Commit()
}

// Transcript returns the ordered message log for a conversation.
func (s *Store) Transcript(ctx context.Context, id string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sent_at FROM messages
		WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("store: transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []conversation.Message
	for rows.Next() {
		var (
			m      conversation.Message
			sentAt string
		)
		if err := rows.Scan(&m.Role, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if m.SentAt, err = time.Parse(timeFormat, sentAt); err != nil {
			return nil, fmt.Errorf("store: parse sent_at %q: %w", sentAt, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: transcript rows: %w", err)
	}
	return msgs, nil
}

// Reserve is the reservation CAS: a single conditional UPDATE whose
// affected-row count decides the winner. Active records and failed
// records under the attempt cap are eligible; anything else is a no-op.
func (s *Store) Reserve(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, processing_attempts = processing_attempts + 1, processing_started_at = ?
		WHERE id = ?
		  AND (status = ? OR (status = ? AND processing_attempts < ?))`,
		string(conversation.StatusProcessing), now.UTC().Format(timeFormat),
		id,
		string(conversation.StatusActive), string(conversation.StatusFailed), maxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("store: reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: reserve rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete transitions processing to processed with artifacts.
func (s *Store) Complete(ctx context.Context, id string, a conversation.Artifacts, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, processing_started_at = NULL,
		    summary = ?, tone = ?, furthest_stage = ?
		WHERE id = ? AND status = ?`,
		string(conversation.StatusProcessed),
		a.Summary, a.Tone, a.FurthestStage,
		id, string(conversation.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("store: complete: %w", err)
	}
	return requireOneRow(res, "complete", id)
}

// Fail transitions processing to failed, recording the furthest stage.
func (s *Store) Fail(ctx context.Context, id, furthestStage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, processing_started_at = NULL, furthest_stage = ?
		WHERE id = ? AND status = ?`,
		string(conversation.StatusFailed), furthestStage,
		id, string(conversation.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("store: fail: %w", err)
	}
	return requireOneRow(res, "fail", id)
}

// ResetForRetry transitions processing back to active with a cleared
// reservation timestamp.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, processing_started_at = NULL
		WHERE id = ? AND status = ?`,
		string(conversation.StatusActive),
		id, string(conversation.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("store: reset for retry: %w", err)
	}
	return requireOneRow(res, "reset", id)
}

// ForceStatus sets the status unconditionally, bypassing transition
// checks. This is the single approved last-resort write for recovery
// tooling; processing_started_at is cleared for any non-processing status
// to keep the timestamp invariant.
func (s *Store) ForceStatus(ctx context.Context, id string, status conversation.Status) error {
	var err error
	if status == conversation.StatusProcessing {
		_, err = s.db.ExecContext(ctx,
			"UPDATE conversations SET status = ? WHERE id = ?", string(status), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE conversations SET status = ?, processing_started_at = NULL WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("store: force status: %w", err)
	}
	return nil
}

// ListStale returns active conversations idle past their cutoff, oldest
// idle first. Platform overrides are compiled into a CASE expression so
// one query serves mixed-platform thresholds.
func (s *Store) ListStale(ctx context.Context, q conversation.StaleQuery) ([]string, error) {
	var (
		cutoffExpr string
		args       []any
	)
	args = append(args, string(conversation.StatusActive))

	if len(q.PlatformCutoffs) == 0 {
		cutoffExpr = "?"
		args = append(args, q.DefaultCutoff.UTC().Format(timeFormat))
	} else {
		platforms := make([]string, 0, len(q.PlatformCutoffs))
		for p := range q.PlatformCutoffs {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)

		var b strings.Builder
		b.WriteString("CASE platform")
		for _, p := range platforms {
			b.WriteString(" WHEN ? THEN ?")
			args = append(args, p, q.PlatformCutoffs[p].UTC().Format(timeFormat))
		}
		b.WriteString(" ELSE ? END")
		args = append(args, q.DefaultCutoff.UTC().Format(timeFormat))
		cutoffExpr = b.String()
	}

	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id FROM conversations
		WHERE status = ? AND last_message_at <= %s
		ORDER BY last_message_at ASC
		LIMIT ?`, cutoffExpr), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list stale: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list stale rows: %w", err)
	}
	return ids, nil
}

// ListStuck returns processing conversations reserved at or before cutoff.
func (s *Store) ListStuck(ctx context.Context, cutoff time.Time) ([]conversation.StuckRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, processing_attempts, processing_started_at
		FROM conversations
		WHERE status = ? AND processing_started_at IS NOT NULL AND processing_started_at <= ?
		ORDER BY processing_started_at ASC`,
		string(conversation.StatusProcessing),
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list stuck: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stuck []conversation.StuckRecord
	for rows.Next() {
		var (
			rec       conversation.StuckRecord
			startedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ProcessingAttempts, &startedAt); err != nil {
			return nil, fmt.Errorf("store: scan stuck row: %w", err)
		}
		if rec.ProcessingStartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("store: parse processing_started_at %q: %w", startedAt, err)
		}
		stuck = append(stuck, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list stuck rows: %w", err)
	}
	return stuck, nil
}

// requireOneRow converts a zero-row conditional update into ErrNotFound:
// either the id does not exist or its status did not match.
func requireOneRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", op, id, conversation.ErrNotFound)
	}
	return nil
}
