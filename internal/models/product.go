// Package models provides data model definitions for the PedidoList sync core.
package models

import "time"

// Product represents a sellable item owned by a business.
type Product struct {
	ID          UUID       `db:"id" json:"id"`
	ServerID    string     `db:"server_id" json:"server_id,omitempty"`
	BusinessID  UUID       `db:"business_id" json:"business_id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description,omitempty"`
	Price       float64    `db:"price" json:"price"`
	Cost        float64    `db:"cost" json:"cost,omitempty"`
	CategoryID  UUID       `db:"category_id" json:"category_id,omitempty"`
	TaxCode     string     `db:"tax_code" json:"tax_code,omitempty"`
	TaxRate     float64    `db:"tax_rate" json:"tax_rate,omitempty"`
	Stock       int        `db:"stock" json:"stock"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	Version     int        `db:"version" json:"version"`
	CreatedAt   int64      `db:"created_at" json:"created_at"`
	UpdatedAt   int64      `db:"updated_at" json:"updated_at"`
	SyncStatus  SyncStatus `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// Touch bumps the version counter and last-modified timestamp and marks the
// record as awaiting sync.
func (p *Product) Touch() {
	p.UpdatedAt = NowMillis()
	p.Version++
	p.SyncStatus = SyncStatusPending
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (p *Product) UpdatedAtTime() time.Time {
	return time.UnixMilli(p.UpdatedAt)
}

// EntityType implements Syncable.
func (p *Product) EntityType() EntityType { return EntityTypeProduct }

// RecordID implements Syncable.
func (p *Product) RecordID() UUID { return p.ID }

// SyncVersion implements Syncable.
func (p *Product) SyncVersion() int { return p.Version }

// ModifiedAt implements Syncable.
func (p *Product) ModifiedAt() int64 { return p.UpdatedAt }

// SetSyncVersion implements Syncable.
func (p *Product) SetSyncVersion(v int) { p.Version = v }

// SetModifiedAt implements Syncable.
func (p *Product) SetModifiedAt(ms int64) { p.UpdatedAt = ms }

// SetSyncStatus implements Syncable.
func (p *Product) SetSyncStatus(s SyncStatus) { p.SyncStatus = s }

// SetServerID implements Syncable.
func (p *Product) SetServerID(id string) { p.ServerID = id }

// CloneRecord implements Syncable.
func (p *Product) CloneRecord() Syncable {
	clone := *p
	return &clone
}
