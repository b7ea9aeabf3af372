// Package sync implements the queue-draining engine that pushes pending
// local mutations to the remote API and reconciles conflicts.
package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/pedidolist/pedidolist-core/internal/errors"
	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/models"
	"github.com/pedidolist/pedidolist-core/internal/store"
	"github.com/pedidolist/pedidolist-core/internal/sync/api"
	"github.com/pedidolist/pedidolist-core/internal/sync/conflict"
	"github.com/pedidolist/pedidolist-core/internal/sync/queue"
)

// RemoteAPI is the remote call surface the engine drains against.
// *api.Client is the production implementation.
type RemoteAPI interface {
	Create(ctx context.Context, token string, rec models.Syncable) (string, error)
	Update(ctx context.Context, token string, rec models.Syncable) error
	Delete(ctx context.Context, token string, entityType models.EntityType, id models.UUID) error
}

// Engine drains the sync queue against the remote API. At most one drain pass
// runs at a time; concurrent callers get ErrSyncInProgress instead of a
// second pass.
type Engine struct {
	repo     *store.Repository
	queue    *queue.Queue
	api      RemoteAPI
	strategy conflict.Strategy

	drainHook func(*DrainResult)

	mu         sync.Mutex
	syncing    bool
	lastErr    error
	lastSyncAt int64
}

// NewEngine creates an Engine. An empty strategy defaults to last-write-wins.
func NewEngine(repo *store.Repository, q *queue.Queue, remote RemoteAPI, strategy conflict.Strategy) *Engine {
	if strategy == "" {
		strategy = conflict.StrategyLastWriteWins
	}
	return &Engine{
		repo:     repo,
		queue:    q,
		api:      remote,
		strategy: strategy,
	}
}

// OnDrainComplete registers a callback invoked after every drain pass,
// including passes started by the background scheduler. Register before the
// first drain; the hook runs outside the engine lock.
func (e *Engine) OnDrainComplete(fn func(*DrainResult)) {
	e.drainHook = fn
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Synced      int
	Failed      int
	Conflicts   int
	AutoCleared int
	StartedAt   int64
	FinishedAt  int64
}

// Processed returns the number of entities the pass disposed of.
func (r *DrainResult) Processed() int {
	return r.Synced + r.Conflicts + r.AutoCleared
}

// IsSyncing reports whether a drain pass is currently running.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastError returns the error recorded by the most recent drain pass, or nil
// if it fully succeeded.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// LastSyncAt returns the finish time of the most recent drain pass as unix
// milliseconds, or zero if none has run.
func (e *Engine) LastSyncAt() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// PendingCount returns the number of queue entries awaiting a push.
func (e *Engine) PendingCount() (int, error) {
	return e.queue.PendingCount()
}

// pushOutcome classifies the disposition of one drained entity.
type pushOutcome int

const (
	outcomeSynced pushOutcome = iota
	outcomeConflict
	outcomeFailed
)

// Drain pushes every pending mutation to the remote API. Entries for the same
// entity are collapsed into one action first. One entity's failure never
// aborts the batch; it consumes a retry and the pass moves on.
func (e *Engine) Drain(ctx context.Context, token string) (*DrainResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}
	e.syncing = true
	e.mu.Unlock()

	result := &DrainResult{StartedAt: models.NowMillis()}
	defer func() {
		result.FinishedAt = models.NowMillis()
		e.mu.Lock()
		e.syncing = false
		e.lastSyncAt = result.FinishedAt
		if result.Failed > 0 {
			e.lastErr = errors.New(errors.ErrSyncFailed,
				fmt.Sprintf("%d of %d entities failed to sync", result.Failed, result.Failed+result.Processed()))
		} else {
			e.lastErr = nil
		}
		e.mu.Unlock()
		if e.drainHook != nil {
			e.drainHook(result)
		}
	}()

	entries, err := e.queue.ListPending()
	if err != nil {
		result.Failed++
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	plan := queue.PlanDrain(entries)

	logging.Info("Sync drain started",
		map[string]interface{}{
			"queued":     len(entries),
			"entities":   len(plan.Entries),
			"auto_clear": len(plan.AutoClear),
		})

	for _, entry := range plan.AutoClear {
		if err := e.queue.MarkSynced(entry.EntityType, entry.EntityID); err != nil {
			logging.Error("Failed to auto-clear cancelled mutations", err,
				map[string]interface{}{"entity_id": entry.EntityID})
			result.Failed++
			continue
		}
		result.AutoCleared++
	}

	for _, entry := range plan.Entries {
		if ctx.Err() != nil {
			return result, errors.Wrap(errors.ErrSyncFailed, "sync pass cancelled", ctx.Err())
		}

		outcome, err := e.push(ctx, token, entry)
		switch outcome {
		case outcomeSynced:
			result.Synced++
		case outcomeConflict:
			result.Conflicts++
		case outcomeFailed:
			result.Failed++
			logging.Error("Failed to push entity", err,
				map[string]interface{}{
					"entity_type": entry.EntityType,
					"entity_id":   entry.EntityID,
					"action":      entry.Action,
				})
		}
	}

	logging.Info("Sync drain finished",
		map[string]interface{}{
			"synced":       result.Synced,
			"conflicts":    result.Conflicts,
			"auto_cleared": result.AutoCleared,
			"failed":       result.Failed,
		})

	return result, nil
}

// bumpRetry consumes one retry on the entry. A bookkeeping failure here must
// not go unnoticed: an entry whose retry count never moves would retry past
// the cap, so the failure is logged alongside the cause that triggered it.
func (e *Engine) bumpRetry(entry *models.SyncQueueEntry, cause error) {
	if err := e.queue.IncrementRetry(entry.ID, cause); err != nil {
		logging.Error("Failed to record retry on queue entry", err,
			map[string]interface{}{
				"entry_id":  entry.ID,
				"entity_id": entry.EntityID,
				"cause":     cause.Error(),
			})
	}
}

// parkTerminal pushes the entry to the retry cap. Logged on failure for the
// same reason as bumpRetry.
func (e *Engine) parkTerminal(entry *models.SyncQueueEntry, cause error) {
	if err := e.queue.MarkTerminal(entry.ID, cause); err != nil {
		logging.Error("Failed to park queue entry at retry cap", err,
			map[string]interface{}{
				"entry_id":  entry.ID,
				"entity_id": entry.EntityID,
				"cause":     cause.Error(),
			})
	}
}

// push executes one collapsed queue entry against the remote API.
func (e *Engine) push(ctx context.Context, token string, entry *models.SyncQueueEntry) (pushOutcome, error) {
	if entry.Action == models.SyncActionDelete {
		if err := e.api.Delete(ctx, token, entry.EntityType, entry.EntityID); err != nil {
			return e.handlePushError(entry, nil, err)
		}
		if err := e.queue.MarkSynced(entry.EntityType, entry.EntityID); err != nil {
			return outcomeFailed, err
		}
		return outcomeSynced, nil
	}

	// Entity data is always loaded fresh at push time so a collapsed entry
	// carries the latest local state, not the state at enqueue time.
	rec, err := e.repo.GetSyncable(entry.EntityType, entry.EntityID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			// The record vanished locally without a queued delete. Nothing
			// remains to push; clear the orphaned entries.
			logging.Warn("Queued entity no longer exists locally",
				map[string]interface{}{"entity_type": entry.EntityType, "entity_id": entry.EntityID})
			if err := e.queue.MarkSynced(entry.EntityType, entry.EntityID); err != nil {
				return outcomeFailed, err
			}
			return outcomeSynced, nil
		}
		// Store failure: do not consume a retry, the entry itself is fine.
		return outcomeFailed, err
	}

	switch entry.Action {
	case models.SyncActionCreate:
		serverID, err := e.api.Create(ctx, token, rec)
		if err != nil {
			return e.handlePushError(entry, rec, err)
		}
		if serverID != "" {
			rec.SetServerID(serverID)
		}

	case models.SyncActionUpdate:
		if err := e.api.Update(ctx, token, rec); err != nil {
			return e.handlePushError(entry, rec, err)
		}

	default:
		err := errors.New(errors.ErrInvalid, fmt.Sprintf("unknown sync action %q", entry.Action))
		e.parkTerminal(entry, err)
		return outcomeFailed, err
	}

	rec.SetSyncStatus(models.SyncStatusSynced)
	if err := e.repo.UpsertSyncable(rec); err != nil {
		return outcomeFailed, err
	}
	if err := e.queue.MarkSynced(entry.EntityType, entry.EntityID); err != nil {
		return outcomeFailed, err
	}
	return outcomeSynced, nil
}

// handlePushError classifies a failed push. Conflicts go through resolution,
// transient failures consume a retry, permanent rejections park the entry at
// the cap so it stops consuming network.
func (e *Engine) handlePushError(entry *models.SyncQueueEntry, local models.Syncable, err error) (pushOutcome, error) {
	var apiErr *api.APIError
	if !stderrors.As(err, &apiErr) {
		e.bumpRetry(entry, err)
		return outcomeFailed, err
	}

	if apiErr.IsConflict() && apiErr.ServerRecord != nil && local != nil {
		return e.resolveConflict(entry, local, apiErr.ServerRecord)
	}

	if apiErr.Retryable() {
		e.bumpRetry(entry, err)
	} else {
		e.parkTerminal(entry, err)
	}

	if local != nil {
		local.SetSyncStatus(models.SyncStatusError)
		if upsertErr := e.repo.UpsertSyncable(local); upsertErr != nil {
			logging.Error("Failed to flag record sync error", upsertErr,
				map[string]interface{}{"entity_id": entry.EntityID})
		}
	}
	return outcomeFailed, err
}

// resolveConflict reconciles a 409 using the configured strategy.
//
// When the server side wins, its copy replaces the local record verbatim and
// the queue is cleared; both sides now agree, so version and timestamp are
// kept as the server reported them. When the local or merged side wins, the
// resolved record is stored as pending and the entry stays queued for a
// re-push on a later pass.
func (e *Engine) resolveConflict(entry *models.SyncQueueEntry, local, server models.Syncable) (pushOutcome, error) {
	res, err := conflict.ResolveWithStrategy(local, server, e.strategy)
	if err != nil {
		e.bumpRetry(entry, err)
		return outcomeFailed, err
	}

	if res.Log != nil {
		if logErr := e.repo.InsertConflictLog(res.Log); logErr != nil {
			logging.Error("Failed to record conflict log", logErr,
				map[string]interface{}{"entity_id": entry.EntityID})
		}
	}

	if res.Manual != nil {
		cause := errors.New(errors.ErrSyncConflict, "conflict requires manual resolution")
		e.parkTerminal(entry, cause)
		local.SetSyncStatus(models.SyncStatusError)
		if err := e.repo.UpsertSyncable(local); err != nil {
			return outcomeFailed, err
		}
		return outcomeConflict, nil
	}

	if res.Winner == conflict.WinnerServer {
		adopted := server.CloneRecord()
		adopted.SetSyncStatus(models.SyncStatusSynced)
		if err := e.repo.UpsertSyncable(adopted); err != nil {
			return outcomeFailed, err
		}
		if err := e.queue.MarkSynced(entry.EntityType, entry.EntityID); err != nil {
			return outcomeFailed, err
		}
		return outcomeConflict, nil
	}

	resolved := res.Resolved.CloneRecord()
	resolved.SetSyncStatus(models.SyncStatusPending)
	if err := e.repo.UpsertSyncable(resolved); err != nil {
		return outcomeFailed, err
	}
	e.bumpRetry(entry,
		errors.New(errors.ErrSyncConflict, "conflict resolved locally, re-push queued"))
	return outcomeConflict, nil
}
