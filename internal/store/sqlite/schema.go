package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		name              TEXT    NOT NULL UNIQUE,
		credentials       TEXT    NOT NULL DEFAULT '{}',
		enabled           INTEGER NOT NULL DEFAULT 1,
		needs_attention   INTEGER NOT NULL DEFAULT 0,
		checkin_time      TEXT    NOT NULL DEFAULT '06:30',
		retry_count       INTEGER NOT NULL DEFAULT 2,
		last_checkin_date TEXT    NOT NULL DEFAULT '',
		last_run_at       TEXT    NOT NULL DEFAULT '',
		last_outcome      TEXT    NOT NULL DEFAULT '',
		created_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS checkin_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		outcome    TEXT    NOT NULL,
		detail     TEXT    NOT NULL DEFAULT '',
		response   TEXT    NOT NULL DEFAULT '',
		date       TEXT    NOT NULL,
		retries    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_history_date ON checkin_history(date)`,

	`CREATE INDEX IF NOT EXISTS idx_history_account_date ON checkin_history(account_id, date)`,

	`CREATE TABLE IF NOT EXISTS notification_settings (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		enabled  INTEGER NOT NULL DEFAULT 0,
		telegram TEXT    NOT NULL DEFAULT '{}',
		wecom    TEXT    NOT NULL DEFAULT '{}',
		wxpusher TEXT    NOT NULL DEFAULT '{}',
		dingtalk TEXT    NOT NULL DEFAULT '{}'
	)`,

	`INSERT OR IGNORE INTO notification_settings (id, enabled) VALUES (1, 0)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
