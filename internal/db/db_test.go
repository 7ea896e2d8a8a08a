// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"testing"
)

// openTestDB opens a migrated database in a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return db
}

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir, "shule.db")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "shule.db")); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err != nil || result != 1 {
		t.Errorf("Database query failed: %v (%d)", err, result)
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}

	if db.X() == nil {
		t.Error("X() returned nil")
	}
	var viaSqlx int
	if err := db.X().Get(&viaSqlx, "SELECT 2"); err != nil || viaSqlx != 2 {
		t.Errorf("sqlx handle not usable: %v (%d)", err, viaSqlx)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/invalid_path/that/cannot/be/created", "x.db")
	if err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestOpen_reopen verifies data survives close and reopen.
func TestOpen_reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "shule.db")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO grades (id, data, level, updated_at) VALUES ('G1', '{}', '1', 1)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	db.Close()

	db, err = Open(dir, "shule.db")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM grades").Scan(&n); err != nil || n != 1 {
		t.Errorf("grades count = %d, err = %v; want 1", n, err)
	}
}
