package database

import (
	"fmt"
)

// schemaVersion is stored in PRAGMA user_version
const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		variant INTEGER NOT NULL,
		creation_date INTEGER NOT NULL,
		should_be_visible INTEGER DEFAULT 1,
		disappearing_enabled INTEGER DEFAULT 0,
		disappearing_type INTEGER DEFAULT 0,
		disappearing_duration INTEGER DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS closed_groups (
		thread_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		group_description TEXT,
		formation_timestamp INTEGER NOT NULL,
		display_picture_url TEXT,
		should_poll INTEGER DEFAULT 0,
		group_identity_private_key BLOB,
		auth_data BLOB,
		invited INTEGER DEFAULT 0,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		role INTEGER NOT NULL,
		role_status INTEGER NOT NULL,
		is_hidden INTEGER DEFAULT 0,
		PRIMARY KEY (group_id, profile_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(group_id);`,
	`CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		variant INTEGER NOT NULL,
		body TEXT,
		timestamp_ms INTEGER NOT NULL,
		server_hash TEXT,
		received_at INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_thread ON interactions(thread_id, timestamp_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_hash ON interactions(server_hash) WHERE server_hash IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		display_picture_url TEXT,
		last_updated INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		is_approved INTEGER DEFAULT 0,
		is_blocked INTEGER DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		variant TEXT NOT NULL,
		thread_id TEXT,
		details BLOB,
		next_run_ts INTEGER NOT NULL,
		failure_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(next_run_ts);`,
	`CREATE TABLE IF NOT EXISTS config_dumps (
		variant TEXT NOT NULL,
		session_id TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (variant, session_id)
	);`,
	`CREATE TABLE IF NOT EXISTS device_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// migrate brings the schema up to schemaVersion
func (sqlm *SQLiteManager) migrate() error {
	var current int
	if err := sqlm.db.QueryRow("PRAGMA user_version;").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %v", err)
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := sqlm.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaV1 {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %v", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		return fmt.Errorf("failed to write schema version: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	sqlm.logger.Info(fmt.Sprintf("Database schema migrated from v%d to v%d", current, schemaVersion), "database")
	return nil
}
