// Package store provides unit tests for store open/close lifecycle.
package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pedidolist/pedidolist-core/internal/errors"
)

// TestOpenCreatesStore tests opening a fresh store and applying migrations.
func TestOpenCreatesStore(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	m := NewMigrator(db.DB)
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != migrations[len(migrations)-1].Version {
		t.Errorf("Expected schema version %d, got %d",
			migrations[len(migrations)-1].Version, version)
	}
}

// TestOpenIsIdempotent tests that reopening an existing store succeeds and
// does not re-apply migrations.
func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("Expected %d migration records, got %d", len(migrations), count)
	}
}

// TestOpenFailsLoudly tests that an unusable data directory surfaces a
// STORE_UNAVAILABLE error instead of an empty store.
func TestOpenFailsLoudly(t *testing.T) {
	dir := t.TempDir()

	// Create a regular file where the data directory should go.
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	_, err := Open(blocker)
	if err == nil {
		t.Fatal("Expected Open to fail for an unusable data directory")
	}
	if !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("Expected STORE_UNAVAILABLE code, got %v", err)
	}
}
