package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// schemaVersion is bumped whenever bootstrap DDL changes shape.
const schemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: provenance locator columns on extracted_items.
	if err := s.migrateItemLocatorColumns(); err != nil {
		return fmt.Errorf("migrating item locator columns: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			id                TEXT PRIMARY KEY,
			type              TEXT NOT NULL CHECK(type IN ('call','email','chat')),
			source_path       TEXT,
			title             TEXT NOT NULL DEFAULT '',
			timestamp         DATETIME NOT NULL,
			participants      TEXT NOT NULL DEFAULT '[]',
			participant_names TEXT NOT NULL DEFAULT '[]',
			created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_type ON interactions(type)`,

		`CREATE TABLE IF NOT EXISTS entities (
			slug          TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			type          TEXT NOT NULL CHECK(type IN ('person','company','product')),
			attributes    TEXT NOT NULL DEFAULT '{}',
			is_candidate  INTEGER NOT NULL DEFAULT 1,
			last_activity DATETIME,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(LOWER(name), type)`,

		`CREATE TABLE IF NOT EXISTS extracted_items (
			id             TEXT PRIMARY KEY,
			interaction_id TEXT NOT NULL REFERENCES interactions(id) ON DELETE CASCADE,
			type           TEXT NOT NULL CHECK(type IN ('promise','action_item','decision','question','metric','deal_mention','entity_context')),
			content        TEXT NOT NULL DEFAULT '',
			owner_name     TEXT NOT NULL DEFAULT '',
			owner_entity   TEXT,
			target_name    TEXT NOT NULL DEFAULT '',
			target_entity  TEXT,
			source_path    TEXT NOT NULL DEFAULT '',
			source_quote   TEXT NOT NULL DEFAULT '',
			trust_level    TEXT NOT NULL CHECK(trust_level IN ('high','medium','low')),
			due_date       TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','completed','cancelled')),
			confidence     REAL NOT NULL DEFAULT 0,
			extracted_at   DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_interaction ON extracted_items(interaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_owner ON extracted_items(owner_entity)`,
		`CREATE INDEX IF NOT EXISTS idx_items_target ON extracted_items(target_entity)`,
		`CREATE INDEX IF NOT EXISTS idx_items_type ON extracted_items(type)`,

		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id          TEXT PRIMARY KEY,
			started_at  DATETIME NOT NULL,
			finished_at DATETIME,
			status      TEXT NOT NULL CHECK(status IN ('running','completed','failed')),
			options     TEXT NOT NULL DEFAULT '{}',
			stats       TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// migrateItemLocatorColumns adds line_range and quote_timestamp to databases
// bootstrapped before provenance locators were stored.
func (s *SQLiteStore) migrateItemLocatorColumns() error {
	for _, col := range []string{"line_range", "quote_timestamp"} {
		exists, err := s.columnExists("extracted_items", col)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE extracted_items ADD COLUMN %s TEXT NOT NULL DEFAULT ''", col)
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("adding %s column: %w", col, err)
		}
	}
	return nil
}

func (s *SQLiteStore) columnExists(table, column string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table), column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) seedMeta() error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion,
	)
	return err
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
