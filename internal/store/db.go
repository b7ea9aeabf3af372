// Package store provides the durable local record store for the PedidoList
// sync core. It survives restarts and functions fully offline; all reads
// reflect the latest local write because this is a single-process cache, not
// a distributed store.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pedidolist/pedidolist-core/internal/errors"
)

// DB wraps sql.DB with PedidoList-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the local SQLite store and applies pending migrations.
// The store is opened with WAL mode and foreign key constraints; SQLite only
// supports one writer, so the pool is capped at a single connection.
//
// Open fails loudly: callers that receive a STORE_UNAVAILABLE error must fall
// back to a "no offline data" mode instead of treating it as an empty store.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "pedidolist.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "failed to open local store", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "failed to enable foreign keys", err)
	}

	m := NewMigrator(db)
	if err := m.Up(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrMigration, "schema migration failed", err)
	}

	return &DB{db}, nil
}

// Close closes the store.
func (db *DB) Close() error {
	return db.DB.Close()
}
