// Package models provides data model definitions for the PedidoList sync core.
package models

import "time"

// OrderStatus represents the fulfillment state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem is a single line item on an order.
type OrderItem struct {
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

// Order represents a customer purchase request. Orders are created locally
// with a client-generated ID; ServerID is filled in once the remote API has
// confirmed the record.
type Order struct {
	ID            UUID        `db:"id" json:"id"`
	ServerID      string      `db:"server_id" json:"server_id,omitempty"`
	BusinessID    UUID        `db:"business_id" json:"business_id"`
	BranchID      UUID        `db:"branch_id" json:"branch_id,omitempty"`
	EmployeeID    UUID        `db:"employee_id" json:"employee_id,omitempty"`
	CustomerName  string      `db:"customer_name" json:"customer_name"`
	CustomerPhone string      `db:"customer_phone" json:"customer_phone,omitempty"`
	Items         []OrderItem `db:"items" json:"items"`
	Total         float64     `db:"total" json:"total"`
	DeliveryDate  string      `db:"delivery_date" json:"delivery_date"` // YYYY-MM-DD
	DeliveryTime  string      `db:"delivery_time" json:"delivery_time,omitempty"`
	Notes         string      `db:"notes" json:"notes,omitempty"`
	Status        OrderStatus `db:"status" json:"status"`
	Version       int         `db:"version" json:"version"`
	CreatedAt     int64       `db:"created_at" json:"created_at"`
	UpdatedAt     int64       `db:"updated_at" json:"updated_at"`
	SyncStatus    SyncStatus  `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Order.
func (Order) TableName() string {
	return "orders"
}

// Recalculate recomputes every line-item subtotal and the order total.
// Must be called after any mutation of Items so the total invariant holds.
func (o *Order) Recalculate() {
	total := 0.0
	for i := range o.Items {
		o.Items[i].Subtotal = float64(o.Items[i].Quantity) * o.Items[i].UnitPrice
		total += o.Items[i].Subtotal
	}
	o.Total = total
}

// orderTransitions defines the allowed status state machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusDelivered},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// CanTransitionTo reports whether the order may move to the given status.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, s := range orderTransitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Deletable reports whether the order may be physically removed.
// Only pending and cancelled orders can be deleted.
func (o *Order) Deletable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusCancelled
}

// Touch bumps the version counter and last-modified timestamp and marks the
// record as awaiting sync.
func (o *Order) Touch() {
	o.UpdatedAt = NowMillis()
	o.Version++
	o.SyncStatus = SyncStatusPending
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (o *Order) UpdatedAtTime() time.Time {
	return time.UnixMilli(o.UpdatedAt)
}

// EntityType implements Syncable.
func (o *Order) EntityType() EntityType { return EntityTypeOrder }

// RecordID implements Syncable.
func (o *Order) RecordID() UUID { return o.ID }

// SyncVersion implements Syncable.
func (o *Order) SyncVersion() int { return o.Version }

// ModifiedAt implements Syncable.
func (o *Order) ModifiedAt() int64 { return o.UpdatedAt }

// SetSyncVersion implements Syncable.
func (o *Order) SetSyncVersion(v int) { o.Version = v }

// SetModifiedAt implements Syncable.
func (o *Order) SetModifiedAt(ms int64) { o.UpdatedAt = ms }

// SetSyncStatus implements Syncable.
func (o *Order) SetSyncStatus(s SyncStatus) { o.SyncStatus = s }

// SetServerID implements Syncable.
func (o *Order) SetServerID(id string) { o.ServerID = id }

// CloneRecord implements Syncable.
func (o *Order) CloneRecord() Syncable {
	clone := *o
	clone.Items = make([]OrderItem, len(o.Items))
	copy(clone.Items, o.Items)
	return &clone
}
