// Package orchestrator provides the foreground sync surface: local mutations
// that pair a store write with a queue entry, the observable sync state for a
// UI (online, pending count, syncing, last error), and an on-demand drain.
package orchestrator

import (
	"context"
	stdsync "sync"

	"github.com/pedidolist/pedidolist-core/internal/errors"
	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/models"
	"github.com/pedidolist/pedidolist-core/internal/store"
	syncengine "github.com/pedidolist/pedidolist-core/internal/sync"
	"github.com/pedidolist/pedidolist-core/internal/sync/queue"
	"github.com/pedidolist/pedidolist-core/internal/uuid"
)

// TokenSource supplies the current session token. The foreground has direct
// access to the auth session, unlike the background scheduler which must ask
// over the bridge.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Orchestrator coordinates local mutations and on-demand sync for a UI.
type Orchestrator struct {
	repo   *store.Repository
	queue  *queue.Queue
	engine *syncengine.Engine
	tokens TokenSource

	mu      stdsync.Mutex
	online  bool
	pending int
}

// New creates an Orchestrator and primes the pending counter from the store.
// It hooks the engine's drain completion so the counter stays fresh when the
// background scheduler drains the shared engine, not just on foreground syncs.
func New(repo *store.Repository, q *queue.Queue, engine *syncengine.Engine, tokens TokenSource) (*Orchestrator, error) {
	o := &Orchestrator{
		repo:   repo,
		queue:  q,
		engine: engine,
		tokens: tokens,
		online: true,
	}
	engine.OnDrainComplete(func(*syncengine.DrainResult) {
		if _, err := o.RefreshPendingCount(); err != nil {
			logging.Error("Failed to refresh pending count after drain", err, nil)
		}
	})
	if _, err := o.RefreshPendingCount(); err != nil {
		return nil, err
	}
	return o, nil
}

// SetOnline records the connectivity status reported by the platform.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	o.online = online
	o.mu.Unlock()
}

// IsOnline reports the last recorded connectivity status.
func (o *Orchestrator) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// IsSyncing reports whether a drain pass is running right now.
func (o *Orchestrator) IsSyncing() bool {
	return o.engine.IsSyncing()
}

// LastSyncError returns the error from the most recent drain pass, or nil.
func (o *Orchestrator) LastSyncError() error {
	return o.engine.LastError()
}

// LastSyncAt returns the finish time of the most recent drain pass as unix
// milliseconds, or zero.
func (o *Orchestrator) LastSyncAt() int64 {
	return o.engine.LastSyncAt()
}

// PendingCount returns the cached number of mutations awaiting sync. The
// cache is refreshed after every mutation and after every drain pass,
// including background passes on the shared engine.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// RefreshPendingCount re-reads the pending counter from the store.
func (o *Orchestrator) RefreshPendingCount() (int, error) {
	count, err := o.queue.PendingCount()
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.pending = count
	o.mu.Unlock()
	return count, nil
}

// StuckEntries returns queue entries that exhausted their retries. They never
// retry automatically; the UI surfaces them for user action.
func (o *Orchestrator) StuckEntries() ([]*models.SyncQueueEntry, error) {
	return o.queue.ListStuck()
}

// ConflictLogs returns the most recent resolved conflicts, newest first.
func (o *Orchestrator) ConflictLogs(limit int) ([]*models.ConflictLog, error) {
	return o.repo.ListConflictLogs(limit)
}

// SyncPendingChanges drains the queue on demand. It is a guarded no-op while
// offline and while another pass is running.
func (o *Orchestrator) SyncPendingChanges(ctx context.Context) (*syncengine.DrainResult, error) {
	if !o.IsOnline() {
		return nil, errors.New(errors.ErrSyncOffline, "cannot sync while offline")
	}
	if o.engine.IsSyncing() {
		return nil, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuthUnavailable, "no session token available", err)
	}

	// The drain-complete hook registered in New refreshes the pending counter.
	return o.engine.Drain(ctx, token)
}

// =====================================================
// Order Mutations
// =====================================================

// CreateOrder stores a new order and queues its creation. A missing id gets a
// client-generated one so the record can sync before any server round trip.
func (o *Orchestrator) CreateOrder(order *models.Order) error {
	if order.ID == "" {
		order.ID = models.UUID(uuid.New())
	}
	order.SyncStatus = models.SyncStatusPending

	if err := o.repo.UpsertOrder(order); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeOrder, order.ID, models.SyncActionCreate)
}

// UpdateOrder stores an edited order and queues the update.
func (o *Orchestrator) UpdateOrder(order *models.Order) error {
	order.Touch()
	if err := o.repo.UpsertOrder(order); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeOrder, order.ID, models.SyncActionUpdate)
}

// UpdateOrderStatus moves an order through its status state machine.
func (o *Orchestrator) UpdateOrderStatus(id models.UUID, next models.OrderStatus) error {
	order, err := o.repo.GetOrder(id)
	if err != nil {
		return err
	}
	if !order.CanTransitionTo(next) {
		return errors.New(errors.ErrInvalid,
			"order cannot move from "+string(order.Status)+" to "+string(next))
	}
	order.Status = next
	return o.UpdateOrder(order)
}

// DeleteOrder removes a deletable order locally and queues the remote delete.
func (o *Orchestrator) DeleteOrder(id models.UUID) error {
	if err := o.repo.DeleteOrder(id); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeOrder, id, models.SyncActionDelete)
}

// =====================================================
// Product Mutations
// =====================================================

// CreateProduct stores a new product and queues its creation.
func (o *Orchestrator) CreateProduct(p *models.Product) error {
	if p.ID == "" {
		p.ID = models.UUID(uuid.New())
	}
	p.SyncStatus = models.SyncStatusPending

	if err := o.repo.UpsertProduct(p); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeProduct, p.ID, models.SyncActionCreate)
}

// UpdateProduct stores an edited product and queues the update.
func (o *Orchestrator) UpdateProduct(p *models.Product) error {
	p.Touch()
	if err := o.repo.UpsertProduct(p); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeProduct, p.ID, models.SyncActionUpdate)
}

// =====================================================
// Category Mutations
// =====================================================

// CreateCategory stores a new category and queues its creation.
func (o *Orchestrator) CreateCategory(c *models.BusinessCategory) error {
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
	}
	c.SyncStatus = models.SyncStatusPending

	if err := o.repo.UpsertCategory(c); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeBusinessCategory, c.ID, models.SyncActionCreate)
}

// UpdateCategory stores an edited category and queues the update.
func (o *Orchestrator) UpdateCategory(c *models.BusinessCategory) error {
	c.Touch()
	if err := o.repo.UpsertCategory(c); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeBusinessCategory, c.ID, models.SyncActionUpdate)
}

// DeactivateCategory soft-deletes a category. The record survives, so the
// remote side sees it as an update.
func (o *Orchestrator) DeactivateCategory(id models.UUID) error {
	if err := o.repo.SoftDeleteCategory(id); err != nil {
		return err
	}
	return o.enqueue(models.EntityTypeBusinessCategory, id, models.SyncActionUpdate)
}

// =====================================================
// Read Helpers
// =====================================================

// OrdersForDate returns a business's orders for one delivery date.
func (o *Orchestrator) OrdersForDate(businessID models.UUID, date string) ([]*models.Order, error) {
	return o.repo.GetOrdersByBusinessAndDate(businessID, date)
}

// OrdersByStatus returns a business's orders in one status.
func (o *Orchestrator) OrdersByStatus(businessID models.UUID, status models.OrderStatus) ([]*models.Order, error) {
	return o.repo.GetOrdersByBusinessAndStatus(businessID, status)
}

// Products returns a business's products.
func (o *Orchestrator) Products(businessID models.UUID) ([]*models.Product, error) {
	return o.repo.GetProductsByBusiness(businessID)
}

// ActiveCategories returns a business's active categories.
func (o *Orchestrator) ActiveCategories(businessID models.UUID) ([]*models.BusinessCategory, error) {
	return o.repo.GetActiveCategories(businessID)
}

// enqueue records a pending mutation and refreshes the counter.
func (o *Orchestrator) enqueue(entityType models.EntityType, id models.UUID, action models.SyncAction) error {
	if _, err := o.queue.Enqueue(entityType, id, action); err != nil {
		return err
	}
	if _, err := o.RefreshPendingCount(); err != nil {
		return err
	}
	return nil
}
