// Package models provides data model definitions for the PedidoList sync core.
package models

import "time"

// SyncAction is the kind of pending mutation recorded in the sync queue.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

// SyncQueueEntry is a pending-mutation record awaiting confirmation by the
// remote API. Entries that exceed the retry cap are excluded from draining
// but kept so the failure stays operator-visible.
type SyncQueueEntry struct {
	ID         UUID       `db:"id" json:"id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   UUID       `db:"entity_id" json:"entity_id"`
	Action     SyncAction `db:"action" json:"action"`
	RetryCount int        `db:"retry_count" json:"retry_count"`
	LastError  string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  int64      `db:"created_at" json:"created_at"` // enqueue time, unix ms
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}

// EnqueuedAtTime returns the enqueue timestamp as time.Time.
func (e *SyncQueueEntry) EnqueuedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}
