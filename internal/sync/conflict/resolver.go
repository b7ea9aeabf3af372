// Package conflict provides conflict detection and resolution between
// locally-mutated and server-mutated copies of the same record.
package conflict

import (
	"fmt"

	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/models"
)

// ToleranceWindowMillis is the timestamp tolerance below which two writes are
// treated as the same write. It absorbs clock skew and near-simultaneous
// writes that are not truly contended.
const ToleranceWindowMillis = 1000

// Strategy defines how a detected conflict is resolved.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyServerWins    Strategy = "server_wins"
	StrategyLocalWins     Strategy = "local_wins"
	StrategyMerge         Strategy = "merge"
	StrategyManual        Strategy = "manual"
)

// Winner identifies which side survived a resolution.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerServer Winner = "server"
	WinnerMerged Winner = "merged"
)

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	Winner   Winner
	Resolved models.Syncable
	// Manual is set instead of Resolved when the strategy defers to the user.
	Manual *Descriptor
	Log    *models.ConflictLog
}

// Descriptor carries both sides of an unresolved conflict for UI-driven
// resolution.
type Descriptor struct {
	EntityType      models.EntityType
	EntityID        models.UUID
	Local           models.Syncable
	Server          models.Syncable
	LocalTimestamp  int64
	RemoteTimestamp int64
	DetectedAt      int64
}

// DetectConflict reports whether the local and server copies of a record
// disagree: the version counters differ, or the last-modified timestamps are
// more than the tolerance window apart.
func DetectConflict(local, server models.Syncable) bool {
	if local == nil || server == nil {
		return false
	}
	if local.RecordID() != server.RecordID() {
		return false
	}
	if local.SyncVersion() != server.SyncVersion() {
		return true
	}
	return absDiff(local.ModifiedAt(), server.ModifiedAt()) > ToleranceWindowMillis
}

// ResolveLastWriteWins picks the chronologically newer side. Timestamps within
// the tolerance window are not a real conflict: local wins untouched, with no
// version bump. A real resolution stamps the winner with
// max(local.version, server.version)+1 and the resolution time, so versions
// are strictly increasing across any resolution and future conflicts stay
// detectable.
func ResolveLastWriteWins(local, server models.Syncable) (*Resolution, error) {
	if err := validatePair(local, server); err != nil {
		return nil, err
	}

	if absDiff(local.ModifiedAt(), server.ModifiedAt()) <= ToleranceWindowMillis {
		return &Resolution{
			Winner:   WinnerLocal,
			Resolved: local,
			Log:      newLog(local, server, string(WinnerLocal)+"_no_conflict"),
		}, nil
	}

	winner := WinnerLocal
	source := local
	if server.ModifiedAt() > local.ModifiedAt() {
		winner = WinnerServer
		source = server
	}

	resolved := stampWinner(source, local, server)

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"entity_type":      local.EntityType(),
			"entity_id":        local.RecordID(),
			"winner":           winner,
			"local_timestamp":  local.ModifiedAt(),
			"remote_timestamp": server.ModifiedAt(),
		})

	return &Resolution{
		Winner:   winner,
		Resolved: resolved,
		Log:      newLog(local, server, string(winner)+"_wins"),
	}, nil
}

// ResolveWithStrategy resolves a conflict with an explicit strategy. The
// manual strategy does not resolve: it returns a Descriptor for UI-driven
// resolution.
func ResolveWithStrategy(local, server models.Syncable, strategy Strategy) (*Resolution, error) {
	if err := validatePair(local, server); err != nil {
		return nil, err
	}

	switch strategy {
	case StrategyLastWriteWins, "":
		return ResolveLastWriteWins(local, server)

	case StrategyServerWins:
		return &Resolution{
			Winner:   WinnerServer,
			Resolved: stampWinner(server, local, server),
			Log:      newLog(local, server, "server_wins_forced"),
		}, nil

	case StrategyLocalWins:
		return &Resolution{
			Winner:   WinnerLocal,
			Resolved: stampWinner(local, local, server),
			Log:      newLog(local, server, "local_wins_forced"),
		}, nil

	case StrategyMerge:
		merged, err := MergeData(local, server)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Winner:   WinnerMerged,
			Resolved: merged,
			Log:      newLog(local, server, "merged"),
		}, nil

	case StrategyManual:
		logging.Warn("Conflict queued for manual resolution",
			map[string]interface{}{
				"entity_type": local.EntityType(),
				"entity_id":   local.RecordID(),
			})
		return &Resolution{
			Manual: &Descriptor{
				EntityType:      local.EntityType(),
				EntityID:        local.RecordID(),
				Local:           local,
				Server:          server,
				LocalTimestamp:  local.ModifiedAt(),
				RemoteTimestamp: server.ModifiedAt(),
				DetectedAt:      models.NowMillis(),
			},
			Log: newLog(local, server, "manual_review_required"),
		}, nil

	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// MergeData performs a narrow field-level merge. Only free-text fields are
// merged: order and category notes are concatenated when both sides differ
// and neither is empty, and the longer of two differing product descriptions
// is kept as a completeness heuristic. Every other field takes the value of
// the chronologically newer side; numeric and status fields are never merged
// so the result cannot be an invalid state (for example a total that does not
// match its line items).
func MergeData(local, server models.Syncable) (models.Syncable, error) {
	if err := validatePair(local, server); err != nil {
		return nil, err
	}

	newer, older := local, server
	if server.ModifiedAt() > local.ModifiedAt() {
		newer, older = server, local
	}

	merged := newer.CloneRecord()

	switch m := merged.(type) {
	case *models.Order:
		m.Notes = mergeNotes(older.(*models.Order).Notes, newer.(*models.Order).Notes)
	case *models.Product:
		oldDesc := older.(*models.Product).Description
		if len(oldDesc) > len(m.Description) {
			m.Description = oldDesc
		}
	case *models.BusinessCategory:
		m.Notes = mergeNotes(older.(*models.BusinessCategory).Notes, newer.(*models.BusinessCategory).Notes)
	default:
		return nil, fmt.Errorf("unsupported merge type %T", merged)
	}

	merged.SetSyncVersion(maxInt(local.SyncVersion(), server.SyncVersion()) + 1)
	merged.SetModifiedAt(models.NowMillis())
	merged.SetSyncStatus(models.SyncStatusPending)
	return merged, nil
}

// mergeNotes concatenates two note fields when they differ and neither side
// is empty; otherwise the non-empty side wins.
func mergeNotes(older, newer string) string {
	if older == "" {
		return newer
	}
	if newer == "" {
		return older
	}
	if older == newer {
		return newer
	}
	return older + "\n" + newer
}

// stampWinner clones the winning side, bumps it past both versions and stamps
// the resolution time.
func stampWinner(source, local, server models.Syncable) models.Syncable {
	resolved := source.CloneRecord()
	resolved.SetSyncVersion(maxInt(local.SyncVersion(), server.SyncVersion()) + 1)
	resolved.SetModifiedAt(models.NowMillis())
	resolved.SetSyncStatus(models.SyncStatusPending)
	return resolved
}

func newLog(local, server models.Syncable, resolution string) *models.ConflictLog {
	return &models.ConflictLog{
		EntityType:      local.EntityType(),
		EntityID:        local.RecordID(),
		LocalVersion:    local.SyncVersion(),
		RemoteVersion:   server.SyncVersion(),
		LocalTimestamp:  local.ModifiedAt(),
		RemoteTimestamp: server.ModifiedAt(),
		Resolution:      resolution,
		DetectedAt:      models.NowMillis(),
	}
}

func validatePair(local, server models.Syncable) error {
	if local == nil || server == nil {
		return fmt.Errorf("both local and server records are required")
	}
	if local.RecordID() != server.RecordID() {
		return fmt.Errorf("record id mismatch: %s vs %s", local.RecordID(), server.RecordID())
	}
	if local.EntityType() != server.EntityType() {
		return fmt.Errorf("entity type mismatch: %s vs %s", local.EntityType(), server.EntityType())
	}
	return nil
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
