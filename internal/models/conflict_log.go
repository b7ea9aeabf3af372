// Package models provides data model definitions for the PedidoList sync core.
package models

import "time"

// ConflictLog records a resolved concurrent edit for user awareness.
type ConflictLog struct {
	ID              UUID       `db:"id" json:"id"`
	EntityType      EntityType `db:"entity_type" json:"entity_type"`
	EntityID        UUID       `db:"entity_id" json:"entity_id"`
	LocalVersion    int        `db:"local_version" json:"local_version"`
	RemoteVersion   int        `db:"remote_version" json:"remote_version"`
	LocalTimestamp  int64      `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64      `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string     `db:"resolution" json:"resolution"` // local_wins, server_wins, merged, manual
	DetectedAt      int64      `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
