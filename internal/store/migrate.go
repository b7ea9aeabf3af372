// Package store provides database schema migration management.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// migration is an additive, backward-compatible schema change. Migrations are
// compiled in rather than shipped as .sql files so every deployment runs them
// unconditionally at store open and existing rows are backfilled with
// defaults.
type migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered migration registry. Only append here; existing
// entries are checksummed and must never change.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial_schema",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				server_id TEXT NOT NULL DEFAULT '',
				business_id TEXT NOT NULL,
				branch_id TEXT NOT NULL DEFAULT '',
				employee_id TEXT NOT NULL DEFAULT '',
				customer_name TEXT NOT NULL DEFAULT '',
				customer_phone TEXT NOT NULL DEFAULT '',
				items TEXT NOT NULL DEFAULT '[]',
				total REAL NOT NULL DEFAULT 0,
				delivery_date TEXT NOT NULL DEFAULT '',
				delivery_time TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				version INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				sync_status TEXT NOT NULL DEFAULT 'pending'
			);`,
			`CREATE INDEX IF NOT EXISTS idx_orders_business_date ON orders(business_id, delivery_date);`,
			`CREATE INDEX IF NOT EXISTS idx_orders_business_status ON orders(business_id, status);`,
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				server_id TEXT NOT NULL DEFAULT '',
				business_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				price REAL NOT NULL DEFAULT 0,
				category_id TEXT NOT NULL DEFAULT '',
				stock INTEGER NOT NULL DEFAULT 0,
				is_active INTEGER NOT NULL DEFAULT 1,
				version INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				sync_status TEXT NOT NULL DEFAULT 'pending'
			);`,
			`CREATE INDEX IF NOT EXISTS idx_products_business ON products(business_id);`,
			`CREATE TABLE IF NOT EXISTS business_categories (
				id TEXT PRIMARY KEY,
				server_id TEXT NOT NULL DEFAULT '',
				business_id TEXT NOT NULL,
				name TEXT NOT NULL,
				icon TEXT NOT NULL DEFAULT '',
				tax_code TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				is_active INTEGER NOT NULL DEFAULT 1,
				version INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				sync_status TEXT NOT NULL DEFAULT 'pending'
			);`,
			`CREATE INDEX IF NOT EXISTS idx_categories_business_active ON business_categories(business_id, is_active);`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				id TEXT PRIMARY KEY,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				action TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue(created_at);`,
			`CREATE TABLE IF NOT EXISTS conflict_log (
				id TEXT PRIMARY KEY,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				local_version INTEGER NOT NULL DEFAULT 0,
				remote_version INTEGER NOT NULL DEFAULT 0,
				local_timestamp INTEGER NOT NULL DEFAULT 0,
				remote_timestamp INTEGER NOT NULL DEFAULT 0,
				resolution TEXT NOT NULL,
				detected_at INTEGER NOT NULL
			);`,
		},
	},
	{
		Version:     2,
		Description: "product_cost_and_tax",
		Statements: []string{
			`ALTER TABLE products ADD COLUMN cost REAL NOT NULL DEFAULT 0;`,
			`ALTER TABLE products ADD COLUMN tax_code TEXT NOT NULL DEFAULT '';`,
			`ALTER TABLE products ADD COLUMN tax_rate REAL NOT NULL DEFAULT 0;`,
		},
	},
}

// Migrator applies registered schema migrations.
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

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return m.UpTo(migrations[len(migrations)-1].Version)
}

// UpTo applies pending migrations up to and including maxVersion.
func (m *Migrator) UpTo(maxVersion int) error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current || mig.Version > maxVersion {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Description, err)
		}
	}

	return nil
}

// apply runs a single migration inside a transaction and records it.
func (m *Migrator) apply(mig migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range mig.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration statement: %w", err)
		}
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description, mig.checksum()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// checksum is the SHA-256 of the migration's SQL, recorded so drift in an
// already-applied migration is detectable.
func (mig migration) checksum() string {
	hash := sha256.Sum256([]byte(strings.Join(mig.Statements, "\n")))
	return hex.EncodeToString(hash[:])
}
