// Package store provides CRUD repository operations for PedidoList records.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pedidolist/pedidolist-core/internal/models"
	"github.com/pedidolist/pedidolist-core/internal/uuid"
)

// Repository provides record operations for all collections. All collections
// are partitioned by business id (multi-tenant partition key).
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Order Operations
// =====================================================

const orderColumns = `id, server_id, business_id, branch_id, employee_id, customer_name,
	customer_phone, items, total, delivery_date, delivery_time, notes, status,
	version, created_at, updated_at, sync_status`

// UpsertOrder inserts or replaces an order. New orders get a client-generated
// id, version 1 and sync status pending; the line-item total invariant is
// re-established on every write.
func (r *Repository) UpsertOrder(o *models.Order) error {
	normalizeRecord(&o.ID, &o.CreatedAt, &o.Version, &o.SyncStatus)
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.UpdatedAt == 0 {
		o.UpdatedAt = o.CreatedAt
	}
	o.Recalculate()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `
	INSERT INTO orders (` + orderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		server_id = excluded.server_id,
		business_id = excluded.business_id,
		branch_id = excluded.branch_id,
		employee_id = excluded.employee_id,
		customer_name = excluded.customer_name,
		customer_phone = excluded.customer_phone,
		items = excluded.items,
		total = excluded.total,
		delivery_date = excluded.delivery_date,
		delivery_time = excluded.delivery_time,
		notes = excluded.notes,
		status = excluded.status,
		version = excluded.version,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	`
	_, err = r.db.Exec(query, o.ID, o.ServerID, o.BusinessID, o.BranchID, o.EmployeeID,
		o.CustomerName, o.CustomerPhone, string(items), o.Total, o.DeliveryDate,
		o.DeliveryTime, o.Notes, o.Status, o.Version, o.CreatedAt, o.UpdatedAt, o.SyncStatus)
	return err
}

// GetOrder retrieves an order by id.
func (r *Repository) GetOrder(id models.UUID) (*models.Order, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + orderColumns + ` FROM orders WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	return scanOrder(stmt.QueryRow(id))
}

// GetOrdersByBusinessAndDate returns all orders for a business on a delivery
// date (YYYY-MM-DD), oldest first.
func (r *Repository) GetOrdersByBusinessAndDate(businessID models.UUID, date string) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE business_id = ? AND delivery_date = ? ORDER BY created_at ASC`
	rows, err := r.db.Query(query, businessID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetOrdersByBusinessAndStatus returns all orders for a business in a given
// status, oldest first.
func (r *Repository) GetOrdersByBusinessAndStatus(businessID models.UUID, status models.OrderStatus) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE business_id = ? AND status = ? ORDER BY created_at ASC`
	rows, err := r.db.Query(query, businessID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// DeleteOrder physically removes an order. Only pending and cancelled orders
// may be deleted.
func (r *Repository) DeleteOrder(id models.UUID) error {
	order, err := r.GetOrder(id)
	if err != nil {
		return err
	}
	if !order.Deletable() {
		return fmt.Errorf("order %s cannot be deleted in status %s", id, order.Status)
	}
	_, err = r.db.Exec(`DELETE FROM orders WHERE id = ?`, id)
	return err
}

// PurgeOrdersOlderThan removes delivered and cancelled orders whose last
// modification is older than the retention window. Unsynced orders are never
// purged.
func (r *Repository) PurgeOrdersOlderThan(days int) (int64, error) {
	cutoff := models.NowMillis() - int64(days)*24*60*60*1000
	res, err := r.db.Exec(`
		DELETE FROM orders
		WHERE status IN (?, ?) AND sync_status = ? AND updated_at < ?`,
		models.OrderStatusDelivered, models.OrderStatusCancelled,
		models.SyncStatusSynced, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	var items string
	err := row.Scan(&o.ID, &o.ServerID, &o.BusinessID, &o.BranchID, &o.EmployeeID,
		&o.CustomerName, &o.CustomerPhone, &items, &o.Total, &o.DeliveryDate,
		&o.DeliveryTime, &o.Notes, &o.Status, &o.Version, &o.CreatedAt,
		&o.UpdatedAt, &o.SyncStatus)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		var o models.Order
		var items string
		err := rows.Scan(&o.ID, &o.ServerID, &o.BusinessID, &o.BranchID, &o.EmployeeID,
			&o.CustomerName, &o.CustomerPhone, &items, &o.Total, &o.DeliveryDate,
			&o.DeliveryTime, &o.Notes, &o.Status, &o.Version, &o.CreatedAt,
			&o.UpdatedAt, &o.SyncStatus)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// =====================================================
// Product Operations
// =====================================================

const productColumns = `id, server_id, business_id, name, description, price, cost,
	category_id, tax_code, tax_rate, stock, is_active, version, created_at,
	updated_at, sync_status`

// UpsertProduct inserts or replaces a product.
func (r *Repository) UpsertProduct(p *models.Product) error {
	normalizeRecord(&p.ID, &p.CreatedAt, &p.Version, &p.SyncStatus)
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.CreatedAt
	}

	query := `
	INSERT INTO products (` + productColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		server_id = excluded.server_id,
		business_id = excluded.business_id,
		name = excluded.name,
		description = excluded.description,
		price = excluded.price,
		cost = excluded.cost,
		category_id = excluded.category_id,
		tax_code = excluded.tax_code,
		tax_rate = excluded.tax_rate,
		stock = excluded.stock,
		is_active = excluded.is_active,
		version = excluded.version,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	`
	_, err := r.db.Exec(query, p.ID, p.ServerID, p.BusinessID, p.Name, p.Description,
		p.Price, p.Cost, p.CategoryID, p.TaxCode, p.TaxRate, p.Stock, p.IsActive,
		p.Version, p.CreatedAt, p.UpdatedAt, p.SyncStatus)
	return err
}

// GetProduct retrieves a product by id.
func (r *Repository) GetProduct(id models.UUID) (*models.Product, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + productColumns + ` FROM products WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	var p models.Product
	err = stmt.QueryRow(id).Scan(&p.ID, &p.ServerID, &p.BusinessID, &p.Name,
		&p.Description, &p.Price, &p.Cost, &p.CategoryID, &p.TaxCode, &p.TaxRate,
		&p.Stock, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductsByBusiness returns all products owned by a business.
func (r *Repository) GetProductsByBusiness(businessID models.UUID) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE business_id = ? ORDER BY name ASC`
	rows, err := r.db.Query(query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var p models.Product
		err := rows.Scan(&p.ID, &p.ServerID, &p.BusinessID, &p.Name, &p.Description,
			&p.Price, &p.Cost, &p.CategoryID, &p.TaxCode, &p.TaxRate, &p.Stock,
			&p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.SyncStatus)
		if err != nil {
			return nil, err
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

// =====================================================
// BusinessCategory Operations
// =====================================================

const categoryColumns = `id, server_id, business_id, name, icon, tax_code, notes,
	is_active, version, created_at, updated_at, sync_status`

// UpsertCategory inserts or replaces a business category.
func (r *Repository) UpsertCategory(c *models.BusinessCategory) error {
	normalizeRecord(&c.ID, &c.CreatedAt, &c.Version, &c.SyncStatus)
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}

	query := `
	INSERT INTO business_categories (` + categoryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		server_id = excluded.server_id,
		business_id = excluded.business_id,
		name = excluded.name,
		icon = excluded.icon,
		tax_code = excluded.tax_code,
		notes = excluded.notes,
		is_active = excluded.is_active,
		version = excluded.version,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	`
	_, err := r.db.Exec(query, c.ID, c.ServerID, c.BusinessID, c.Name, c.Icon,
		c.TaxCode, c.Notes, c.IsActive, c.Version, c.CreatedAt, c.UpdatedAt, c.SyncStatus)
	return err
}

// GetCategory retrieves a business category by id.
func (r *Repository) GetCategory(id models.UUID) (*models.BusinessCategory, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + categoryColumns + ` FROM business_categories WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	var c models.BusinessCategory
	err = stmt.QueryRow(id).Scan(&c.ID, &c.ServerID, &c.BusinessID, &c.Name, &c.Icon,
		&c.TaxCode, &c.Notes, &c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		&c.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActiveCategories returns active categories for a business.
func (r *Repository) GetActiveCategories(businessID models.UUID) ([]*models.BusinessCategory, error) {
	query := `SELECT ` + categoryColumns + ` FROM business_categories
		WHERE business_id = ? AND is_active = 1 ORDER BY name ASC`
	rows, err := r.db.Query(query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*models.BusinessCategory
	for rows.Next() {
		var c models.BusinessCategory
		err := rows.Scan(&c.ID, &c.ServerID, &c.BusinessID, &c.Name, &c.Icon,
			&c.TaxCode, &c.Notes, &c.IsActive, &c.Version, &c.CreatedAt,
			&c.UpdatedAt, &c.SyncStatus)
		if err != nil {
			return nil, err
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// SoftDeleteCategory flips the active flag instead of physically removing the
// row, and marks the record as awaiting sync.
func (r *Repository) SoftDeleteCategory(id models.UUID) error {
	c, err := r.GetCategory(id)
	if err != nil {
		return err
	}
	c.IsActive = false
	c.Touch()
	return r.UpsertCategory(c)
}

// =====================================================
// Syncable dispatch
// =====================================================

// GetSyncable loads an entity of the given type by id.
func (r *Repository) GetSyncable(entityType models.EntityType, id models.UUID) (models.Syncable, error) {
	switch entityType {
	case models.EntityTypeOrder:
		return r.GetOrder(id)
	case models.EntityTypeProduct:
		return r.GetProduct(id)
	case models.EntityTypeBusinessCategory:
		return r.GetCategory(id)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// UpsertSyncable writes an entity of any syncable type.
func (r *Repository) UpsertSyncable(rec models.Syncable) error {
	switch v := rec.(type) {
	case *models.Order:
		return r.UpsertOrder(v)
	case *models.Product:
		return r.UpsertProduct(v)
	case *models.BusinessCategory:
		return r.UpsertCategory(v)
	default:
		return fmt.Errorf("unknown syncable type %T", rec)
	}
}

// normalizeRecord fills defaults for newly created records.
func normalizeRecord(id *models.UUID, createdAt *int64, version *int, syncStatus *models.SyncStatus) {
	if *id == "" {
		*id = models.UUID(uuid.New())
	}
	if *createdAt == 0 {
		*createdAt = models.NowMillis()
	}
	if *version == 0 {
		*version = 1
	}
	if *syncStatus == "" {
		*syncStatus = models.SyncStatusPending
	}
}

// =====================================================
// Sync Queue Operations
// =====================================================

const queueColumns = `id, entity_type, entity_id, action, retry_count, last_error, created_at, updated_at`

// InsertQueueEntry appends a pending-mutation entry to the queue ledger.
func (r *Repository) InsertQueueEntry(e *models.SyncQueueEntry) error {
	if e.ID == "" {
		e.ID = models.UUID(uuid.New())
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = models.NowMillis()
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = e.CreatedAt
	}

	query := `INSERT INTO sync_queue (` + queueColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query, e.ID, e.EntityType, e.EntityID, e.Action,
		e.RetryCount, e.LastError, e.CreatedAt, e.UpdatedAt)
	return err
}

// ListQueuePending returns entries below the retry cap, oldest first, so
// mutations to the same entity drain in causal order.
func (r *Repository) ListQueuePending(maxRetries int) ([]*models.SyncQueueEntry, error) {
	// rowid breaks same-millisecond ties in insertion order.
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE retry_count < ? ORDER BY created_at ASC, rowid ASC`
	return r.queryQueue(query, maxRetries)
}

// ListQueueStuck returns entries at or over the retry cap. These are excluded
// from draining but kept so the failure is operator-visible.
func (r *Repository) ListQueueStuck(maxRetries int) ([]*models.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE retry_count >= ? ORDER BY created_at ASC, rowid ASC`
	return r.queryQueue(query, maxRetries)
}

func (r *Repository) queryQueue(query string, args ...interface{}) ([]*models.SyncQueueEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		var e models.SyncQueueEntry
		err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&e.RetryCount, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetQueueEntry retrieves a queue entry by id.
func (r *Repository) GetQueueEntry(id models.UUID) (*models.SyncQueueEntry, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	var e models.SyncQueueEntry
	err = stmt.QueryRow(id).Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action,
		&e.RetryCount, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteQueueEntriesForEntity removes every queue entry for an entity. A
// successful push clears all outstanding attempts, not just the oldest, and
// calling this on an already-cleared entity is a no-op.
func (r *Repository) DeleteQueueEntriesForEntity(entityType models.EntityType, entityID models.UUID) error {
	_, err := r.db.Exec(`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)
	return err
}

// IncrementQueueRetry bumps the retry counter and records the last error.
// The entry is never deleted here.
func (r *Repository) IncrementQueueRetry(entryID models.UUID, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, lastError, models.NowMillis(), entryID)
	return err
}

// SetQueueRetryCount forces the retry counter to a specific value. Used to
// park an entry at the cap immediately when the remote rejection is terminal.
func (r *Repository) SetQueueRetryCount(entryID models.UUID, count int, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE sync_queue SET retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?`, count, lastError, models.NowMillis(), entryID)
	return err
}

// CountQueuePending returns the number of entries below the retry cap.
func (r *Repository) CountQueuePending(maxRetries int) (int, error) {
	stmt, err := r.PrepareStmt(`SELECT COUNT(*) FROM sync_queue WHERE retry_count < ?`)
	if err != nil {
		return 0, err
	}
	var count int
	err = stmt.QueryRow(maxRetries).Scan(&count)
	return count, err
}

// =====================================================
// Conflict Log Operations
// =====================================================

// InsertConflictLog records a resolved conflict for user awareness.
func (r *Repository) InsertConflictLog(c *models.ConflictLog) error {
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
	}
	if c.DetectedAt == 0 {
		c.DetectedAt = models.NowMillis()
	}

	query := `INSERT INTO conflict_log (id, entity_type, entity_id, local_version,
		remote_version, local_timestamp, remote_timestamp, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query, c.ID, c.EntityType, c.EntityID, c.LocalVersion,
		c.RemoteVersion, c.LocalTimestamp, c.RemoteTimestamp, c.Resolution, c.DetectedAt)
	return err
}

// ListConflictLogs returns the most recent conflict log entries.
func (r *Repository) ListConflictLogs(limit int) ([]*models.ConflictLog, error) {
	rows, err := r.db.Query(`SELECT id, entity_type, entity_id, local_version,
		remote_version, local_timestamp, remote_timestamp, resolution, detected_at
		FROM conflict_log ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.LocalVersion,
			&c.RemoteVersion, &c.LocalTimestamp, &c.RemoteTimestamp,
			&c.Resolution, &c.DetectedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &c)
	}
	return logs, rows.Err()
}
