// Package models provides data model definitions for the PedidoList sync core.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// EntityType identifies a syncable record collection.
type EntityType string

const (
	EntityTypeOrder            EntityType = "order"
	EntityTypeProduct          EntityType = "product"
	EntityTypeBusinessCategory EntityType = "business_category"
)

// SyncStatus tracks whether a record has been confirmed by the remote API.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Syncable is implemented by every record collection that participates in
// synchronization. The conflict resolver and sync engine operate on this
// interface so they stay entity-agnostic.
type Syncable interface {
	EntityType() EntityType
	RecordID() UUID
	SyncVersion() int
	ModifiedAt() int64 // unix milliseconds
	SetSyncVersion(v int)
	SetModifiedAt(ms int64)
	SetSyncStatus(s SyncStatus)
	// SetServerID records the remote identifier once the API confirms the
	// record. The client-generated id stays the primary key.
	SetServerID(id string)
	// CloneRecord returns a deep copy so resolution can mutate a winner
	// without aliasing the caller's record.
	CloneRecord() Syncable
}

// NowMillis returns the current time as unix milliseconds.
// Last-modified timestamps are millisecond-granular because the conflict
// tolerance window is 1000ms.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
