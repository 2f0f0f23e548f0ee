package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id                    TEXT    PRIMARY KEY,
		participant           TEXT    NOT NULL,
		platform              TEXT    NOT NULL,
		status                TEXT    NOT NULL DEFAULT 'active',
		processing_attempts   INTEGER NOT NULL DEFAULT 0,
		processing_started_at TEXT,
		last_message_at       TEXT    NOT NULL,
		furthest_stage        TEXT    NOT NULL DEFAULT '',
		summary               TEXT    NOT NULL DEFAULT '',
		tone                  TEXT    NOT NULL DEFAULT '',
		created_at            TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_status_idle
		ON conversations(status, last_message_at)`,

	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT    NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT    NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		sent_at         TEXT    NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS threads (
		id          TEXT PRIMARY KEY,
		participant TEXT NOT NULL,
		topic       TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'open',
		created_at  TEXT NOT NULL,
		resolved_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_threads_participant
		ON threads(participant, status)`,

	`CREATE TABLE IF NOT EXISTS thoughts (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		participant     TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS facts (
		id          TEXT PRIMARY KEY,
		participant TEXT NOT NULL,
		content     TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT 'fact',
		salience    REAL NOT NULL DEFAULT 1.0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		UNIQUE (participant, kind, content)
	)`,

	`CREATE TABLE IF NOT EXISTS daily_summaries (
		participant        TEXT    NOT NULL,
		day                TEXT    NOT NULL,
		summary            TEXT    NOT NULL DEFAULT '',
		conversation_count INTEGER NOT NULL DEFAULT 0,
		updated_at         TEXT    NOT NULL,
		PRIMARY KEY (participant, day)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_tags (
		conversation_id TEXT NOT NULL,
		tag             TEXT NOT NULL,
		PRIMARY KEY (conversation_id, tag)
	)`,

	`CREATE TABLE IF NOT EXISTS scheduled_events (
		id              TEXT    PRIMARY KEY,
		participant     TEXT    NOT NULL,
		platform        TEXT    NOT NULL,
		payload         TEXT    NOT NULL,
		deliver_at      TEXT    NOT NULL,
		status          TEXT    NOT NULL DEFAULT 'pending',
		retry_count     INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT    NOT NULL DEFAULT '',
		conversation_id TEXT    NOT NULL DEFAULT '',
		correlation_id  TEXT    NOT NULL DEFAULT '',
		created_at      TEXT    NOT NULL,
		delivered_at    TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_due
		ON scheduled_events(status, deliver_at)`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		id           TEXT PRIMARY KEY,
		job          TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'running',
		started_at   TEXT NOT NULL,
		completed_at TEXT,
		result       TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_runs_cooldown
		ON job_runs(job, started_at)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	return nil
}
