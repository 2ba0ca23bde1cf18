// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations holds the ordered schema history. New migrations append only;
// applied migrations are never edited (the checksum ledger would reject it).
var migrations = []Migration{
	{
		Version:     1,
		Description: "create sync_operations table",
		SQL: `
		CREATE TABLE sync_operations (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('create', 'update', 'delete')),
			collection TEXT NOT NULL CHECK(length(collection) > 0),
			entity_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK(status IN ('pending', 'in_flight', 'completed', 'failed', 'conflicted')),
			attempt_count INTEGER NOT NULL DEFAULT 0 CHECK(attempt_count >= 0),
			max_retries INTEGER NOT NULL DEFAULT 8,
			created_at INTEGER NOT NULL,
			last_attempt_at INTEGER NOT NULL DEFAULT 0,
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_error_code TEXT NOT NULL DEFAULT '',
			basis_timestamp INTEGER NOT NULL DEFAULT 0,
			basis_version INTEGER NOT NULL DEFAULT 0,
			conflict_info TEXT NOT NULL DEFAULT ''
		);`,
	},
	{
		Version:     2,
		Description: "index pending operations by eligibility and age",
		SQL: `
		CREATE INDEX idx_sync_operations_pending
			ON sync_operations (status, next_retry_at, created_at);`,
	},
}

// Migrator applies schema migrations against a database.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate applies all pending migrations in order.
func (m *Migrator) Migrate() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			// Verify the applied migration was not edited after the fact
			if err := m.verifyChecksum(mig); err != nil {
				return err
			}
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description, checksum(mig.SQL),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// verifyChecksum ensures an applied migration's SQL still matches the ledger.
func (m *Migrator) verifyChecksum(mig Migration) error {
	var recorded string
	err := m.db.QueryRow("SELECT checksum FROM schema_migrations WHERE version = ?", mig.Version).Scan(&recorded)
	if err == sql.ErrNoRows {
		return fmt.Errorf("migration %d marked applied but missing from ledger", mig.Version)
	}
	if err != nil {
		return err
	}
	if recorded != checksum(mig.SQL) {
		return fmt.Errorf("migration %d checksum mismatch: applied schema differs from source", mig.Version)
	}
	return nil
}

// checksum computes the SHA-256 hex digest of migration SQL.
func checksum(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}
