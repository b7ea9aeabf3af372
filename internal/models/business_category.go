// Package models provides data model definitions for the PedidoList sync core.
package models

// BusinessCategory is a named grouping of products scoped to a business.
// Categories are seeded at business setup and may be customized afterward;
// they are soft-deleted by flipping IsActive, never physically removed.
type BusinessCategory struct {
	ID         UUID       `db:"id" json:"id"`
	ServerID   string     `db:"server_id" json:"server_id,omitempty"`
	BusinessID UUID       `db:"business_id" json:"business_id"`
	Name       string     `db:"name" json:"name"`
	Icon       string     `db:"icon" json:"icon,omitempty"`
	TaxCode    string     `db:"tax_code" json:"tax_code,omitempty"`
	Notes      string     `db:"notes" json:"notes,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	Version    int        `db:"version" json:"version"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for BusinessCategory.
func (BusinessCategory) TableName() string {
	return "business_categories"
}

// Touch bumps the version counter and last-modified timestamp and marks the
// record as awaiting sync.
func (c *BusinessCategory) Touch() {
	c.UpdatedAt = NowMillis()
	c.Version++
	c.SyncStatus = SyncStatusPending
}

// EntityType implements Syncable.
func (c *BusinessCategory) EntityType() EntityType { return EntityTypeBusinessCategory }

// RecordID implements Syncable.
func (c *BusinessCategory) RecordID() UUID { return c.ID }

// SyncVersion implements Syncable.
func (c *BusinessCategory) SyncVersion() int { return c.Version }

// ModifiedAt implements Syncable.
func (c *BusinessCategory) ModifiedAt() int64 { return c.UpdatedAt }

// SetSyncVersion implements Syncable.
func (c *BusinessCategory) SetSyncVersion(v int) { c.Version = v }

// SetModifiedAt implements Syncable.
func (c *BusinessCategory) SetModifiedAt(ms int64) { c.UpdatedAt = ms }

// SetSyncStatus implements Syncable.
func (c *BusinessCategory) SetSyncStatus(s SyncStatus) { c.SyncStatus = s }

// SetServerID implements Syncable.
func (c *BusinessCategory) SetServerID(id string) { c.ServerID = id }

// CloneRecord implements Syncable.
func (c *BusinessCategory) CloneRecord() Syncable {
	clone := *c
	return &clone
}
