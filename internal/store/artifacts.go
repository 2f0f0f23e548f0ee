package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferrant/reverie/internal/jobs"
	"github.com/ferrant/reverie/internal/pipeline"
)

// OpenThreads returns the participant's open threads, oldest first.
func (s *Store) OpenThreads(ctx context.Context, participant string) ([]pipeline.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic FROM threads
		WHERE participant = ? AND status = 'open'
		ORDER BY created_at ASC`, participant)
	if err != nil {
		return nil, fmt.Errorf("store: open threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []pipeline.Thread
	for rows.Next() {
		var t pipeline.Thread
		if err := rows.Scan(&t.ID, &t.Topic); err != nil {
			return nil, fmt.Errorf("store: scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: open threads rows: %w", err)
	}
	return threads, nil
}

// CreateThreads opens a new thread per topic, skipping blank topics.
func (s *Store) CreateThreads(ctx context.Context, participant string, topics []string) (int, error) {
	if len(topics) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(timeFormat)
	created := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, topic := range topics {
			if topic == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO threads (id, participant, topic, status, created_at)
				VALUES (?, ?, ?, 'open', ?)`,
				uuid.NewString(), participant, topic, now)
			if err != nil {
				return fmt.Errorf("store: create thread: %w", err)
			}
			created++
		}
		return nil
	})
	return created, err
}

// ResolveThreads marks the given open threads resolved. Unknown or
// already-resolved ids are ignored.
func (s *Store) ResolveThreads(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(timeFormat)
	resolved := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
				UPDATE threads SET status = 'resolved', resolved_at = ?
				WHERE id = ? AND status = 'open'`, now, id)
			if err != nil {
				return fmt.Errorf("store: resolve thread: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: resolve thread rows affected: %w", err)
			}
			resolved += int(n)
		}
		return nil
	})
	return resolved, err
}

// StoreThoughts persists inner-thought entries for a conversation.
func (s *Store) StoreThoughts(ctx context.Context, conversationID, participant string, thoughts []string) (int, error) {
	if len(thoughts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(timeFormat)
	stored := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, content := range thoughts {
			if content == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO thoughts (id, conversation_id, participant, content, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), conversationID, participant, content, now)
			if err != nil {
				return fmt.Errorf("store: store thought: %w", err)
			}
			stored++
		}
		return nil
	})
	return stored, err
}

// UpsertFacts merges facts into the knowledge graph. A re-observed fact
// keeps the higher salience and a refreshed updated_at.
func (s *Store) UpsertFacts(ctx context.Context, participant string, facts []pipeline.GraphFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(timeFormat)
	written := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range facts {
			if f.Content == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO facts (id, participant, content, kind, salience, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (participant, kind, content) DO UPDATE SET
					salience = MAX(salience, excluded.salience),
					updated_at = excluded.updated_at`,
				uuid.NewString(), participant, f.Content, f.Kind, f.Salience, now, now)
			if err != nil {
				return fmt.Errorf("store: upsert fact: %w", err)
			}
			written++
		}
		return nil
	})
	return written, err
}

// UpsertRollup folds a conversation summary into the participant's daily
// summary row, accumulating the conversation count.
func (s *Store) UpsertRollup(ctx context.Context, participant, day, summary string, conversations int) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (participant, day, summary, conversation_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (participant, day) DO UPDATE SET
			summary = excluded.summary,
			conversation_count = daily_summaries.conversation_count + excluded.conversation_count,
			updated_at = excluded.updated_at`,
		participant, day, summary, conversations, now)
	if err != nil {
		return fmt.Errorf("store: upsert rollup: %w", err)
	}
	return nil
}

// TagConversation attaches tags to a conversation, ignoring duplicates.
func (s *Store) TagConversation(ctx context.Context, conversationID string, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	tagged := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, tag := range tags {
			if tag == "" {
				continue
			}
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO conversation_tags (conversation_id, tag)
				VALUES (?, ?)`, conversationID, tag)
			if err != nil {
				return fmt.Errorf("store: tag conversation: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: tag rows affected: %w", err)
			}
			tagged += int(n)
		}
		return nil
	})
	return tagged, err
}

// DecayFacts multiplies every fact's salience by factor.
func (s *Store) DecayFacts(ctx context.Context, factor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET salience = salience * ?, updated_at = ?`,
		factor, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("store: decay facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: decay facts rows affected: %w", err)
	}
	return int(n), nil
}

// PruneFacts deletes facts whose salience has decayed below floor.
func (s *Store) PruneFacts(ctx context.Context, floor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE salience < ?`, floor)
	if err != nil {
		return 0, fmt.Errorf("store: prune facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune facts rows affected: %w", err)
	}
	return int(n), nil
}

// DayRollups returns every participant's daily summary row for day. The
// platform is the participant's most recently active one, so the summary
// can be delivered where they actually talk.
func (s *Store) DayRollups(ctx context.Context, day string) ([]jobs.Rollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ds.participant, ds.summary, ds.conversation_count,
		       COALESCE((
		           SELECT c.platform FROM conversations c
		           WHERE c.participant = ds.participant
		           ORDER BY c.last_message_at DESC LIMIT 1
		       ), '')
		FROM daily_summaries ds
		WHERE ds.day = ?
		ORDER BY ds.participant ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("store: day rollups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rollups []jobs.Rollup
	for rows.Next() {
		var r jobs.Rollup
		if err := rows.Scan(&r.Participant, &r.Summary, &r.Conversations, &r.Platform); err != nil {
			return nil, fmt.Errorf("store: scan rollup: %w", err)
		}
		rollups = append(rollups, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: day rollups rows: %w", err)
	}
	return rollups, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
