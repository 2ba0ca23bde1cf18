package db

import (
	"strings"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestMigrateAppliesSchema verifies all migrations apply in order.
func TestMigrateAppliesSchema(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected version %d, got %d", len(migrations), version)
	}

	// The operations table must exist and accept a row.
	_, err = database.Exec(`
	INSERT INTO sync_operations (id, kind, collection, created_at)
	VALUES ('op-1', 'create', 'deliveries', 1)`)
	if err != nil {
		t.Errorf("Expected migrated schema usable: %v", err)
	}
}

// TestMigrateIdempotent verifies re-running migrations is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Migrate(); err != nil {
		t.Fatalf("First migrate failed: %v", err)
	}
	if err := m.Migrate(); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}

	var count int
	err := database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("Expected %d ledger rows, got %d", len(migrations), count)
	}
}

// TestMigrateDetectsTamper verifies an edited applied migration is rejected
// by the checksum ledger.
func TestMigrateDetectsTamper(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	_, err := database.Exec("UPDATE schema_migrations SET checksum = ? WHERE version = 1",
		strings.Repeat("0", 64))
	if err != nil {
		t.Fatalf("Tamper setup failed: %v", err)
	}

	err = m.Migrate()
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("Expected checksum mismatch error, got %v", err)
	}
}

// TestSchemaRejectsInvalidStatus verifies the CHECK constraints hold.
func TestSchemaRejectsInvalidStatus(t *testing.T) {
	database := openTestDB(t)
	if err := NewMigrator(database.DB).Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	_, err := database.Exec(`
	INSERT INTO sync_operations (id, kind, collection, status, created_at)
	VALUES ('op-1', 'create', 'deliveries', 'bogus', 1)`)
	if err == nil {
		t.Error("Expected CHECK constraint to reject unknown status")
	}

	_, err = database.Exec(`
	INSERT INTO sync_operations (id, kind, collection, created_at)
	VALUES ('op-2', 'upsert', 'deliveries', 1)`)
	if err == nil {
		t.Error("Expected CHECK constraint to reject unknown kind")
	}
}
