// Package queue provides the pending-mutation ledger for offline operation.
// Every local mutation enqueues an entry here; entries are drained against
// the remote API and deleted once the corresponding call succeeds.
package queue

import (
	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/models"
	"github.com/pedidolist/pedidolist-core/internal/store"
)

// DefaultMaxRetries is the retry cap. Entries at or over the cap are excluded
// from draining but kept so the failure stays visible to the user instead of
// burning battery and network forever.
const DefaultMaxRetries = 3

// Queue is the durable sync queue backed by the local record store.
type Queue struct {
	repo       *store.Repository
	maxRetries int
}

// New creates a Queue over the given repository.
func New(repo *store.Repository, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		repo:       repo,
		maxRetries: maxRetries,
	}
}

// MaxRetries returns the configured retry cap.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends a pending mutation for an entity. Multiple updates to the
// same entity may produce multiple entries; deduplication happens at drain
// time, not here.
func (q *Queue) Enqueue(entityType models.EntityType, entityID models.UUID, action models.SyncAction) (*models.SyncQueueEntry, error) {
	entry := &models.SyncQueueEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
	}
	if err := q.repo.InsertQueueEntry(entry); err != nil {
		return nil, err
	}

	logging.Debug("Enqueued pending mutation",
		map[string]interface{}{
			"entity_type": entityType,
			"entity_id":   entityID,
			"action":      action,
		})

	return entry, nil
}

// ListPending returns entries below the retry cap, oldest first, preserving
// causal order of mutations to the same entity.
func (q *Queue) ListPending() ([]*models.SyncQueueEntry, error) {
	return q.repo.ListQueuePending(q.maxRetries)
}

// ListStuck returns entries at or over the retry cap. Stuck entries must be
// surfaced to the user; they are never retried automatically.
func (q *Queue) ListStuck() ([]*models.SyncQueueEntry, error) {
	return q.repo.ListQueueStuck(q.maxRetries)
}

// PendingCount returns the number of entries below the retry cap.
func (q *Queue) PendingCount() (int, error) {
	return q.repo.CountQueuePending(q.maxRetries)
}

// MarkSynced deletes all queue entries for an entity. A successful push
// clears every outstanding attempt for it. Calling this on an already-cleared
// entity is a no-op.
func (q *Queue) MarkSynced(entityType models.EntityType, entityID models.UUID) error {
	return q.repo.DeleteQueueEntriesForEntity(entityType, entityID)
}

// IncrementRetry bumps the retry counter and records the error. The entry is
// kept; once it reaches the cap it drops out of ListPending.
func (q *Queue) IncrementRetry(entryID models.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.repo.IncrementQueueRetry(entryID, msg)
}

// MarkTerminal parks an entry at the retry cap immediately. Used when the
// remote rejection is permanent (validation failure) and retrying cannot
// succeed.
func (q *Queue) MarkTerminal(entryID models.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	logging.Warn("Queue entry parked as terminal",
		map[string]interface{}{"entry_id": entryID, "error": msg})
	return q.repo.SetQueueRetryCount(entryID, q.maxRetries, msg)
}

// DrainPlan is the per-entity work list computed from raw queue entries.
type DrainPlan struct {
	// Entries holds one representative entry per entity, in enqueue order.
	// The representative carries the action to execute remotely; entity data
	// is always loaded fresh from the store at push time.
	Entries []*models.SyncQueueEntry

	// AutoClear holds entities whose queued mutations cancel out (created and
	// deleted while offline). They never reach the server; their queue
	// entries are cleared directly.
	AutoClear []*models.SyncQueueEntry
}

// PlanDrain collapses raw entries into one action per entity:
//   - a delete entry supersedes earlier creates/updates
//   - a create followed by a delete cancels out entirely
//   - otherwise the oldest entry's action wins (a create covers later
//     updates because the push always sends current local data)
func PlanDrain(entries []*models.SyncQueueEntry) DrainPlan {
	type entityState struct {
		first      *models.SyncQueueEntry
		hasCreate  bool
		deleteSeen *models.SyncQueueEntry
	}

	order := make([]string, 0, len(entries))
	states := make(map[string]*entityState)

	for _, e := range entries {
		key := string(e.EntityType) + "/" + string(e.EntityID)
		st, ok := states[key]
		if !ok {
			st = &entityState{first: e}
			states[key] = st
			order = append(order, key)
		}
		if e.Action == models.SyncActionCreate {
			st.hasCreate = true
		}
		if e.Action == models.SyncActionDelete {
			st.deleteSeen = e
		}
	}

	var plan DrainPlan
	for _, key := range order {
		st := states[key]
		switch {
		case st.deleteSeen != nil && st.hasCreate:
			plan.AutoClear = append(plan.AutoClear, st.first)
		case st.deleteSeen != nil:
			plan.Entries = append(plan.Entries, st.deleteSeen)
		default:
			plan.Entries = append(plan.Entries, st.first)
		}
	}
	return plan
}
