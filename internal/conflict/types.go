// Package conflict implements conflict detection (comparing local and
// remote snapshot bags for the same entity family) and resolution (strategy
// dispatch, batching, auto/manual partitioning, and a bounded history log).
package conflict

import (
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
)

// Type classifies the kind of disagreement between a local and remote
// snapshot sharing one sync_id.
type Type string

const (
	TypeData       Type = "data"
	TypeDelete     Type = "delete"
	TypeVersion    Type = "version"
	TypeSchema     Type = "schema"
	TypePermission Type = "permission"
)

// Priority ranks a conflict for resolution ordering and auto-resolve
// eligibility.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// rank gives Priority a total order for sorting, high value first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// SyncConflict is a detected disagreement between a local and remote
// snapshot for the same sync_id.
type SyncConflict struct {
	SyncID          string
	Family          string
	Local           snapshot.Snapshot
	Remote          snapshot.Snapshot
	ConflictType    Type
	ConflictedFields map[string]struct{}
	Priority        Priority
	DetectedAt      time.Time
}

// ChosenVersion names which side's content a resolution adopted.
type ChosenVersion string

const (
	ChosenLocal  ChosenVersion = "local"
	ChosenRemote ChosenVersion = "remote"
	ChosenMerged ChosenVersion = "merged"
)

// Strategy is a resolution policy applied to one or more conflicts.
type Strategy string

const (
	StrategyLocalWins      Strategy = "local_wins"
	StrategyRemoteWins     Strategy = "remote_wins"
	StrategyLastWriteWins  Strategy = "last_write_wins"
	StrategyMerge          Strategy = "merge"
	StrategyManual         Strategy = "manual"
)

// Resolution is the outcome of applying a Strategy to one SyncConflict. The
// Resolved* fields carry the winning side's full record metadata (not just
// its payload) so a caller applying the resolution can build a complete
// Snapshot instead of one with zeroed version/last_modified/is_deleted.
type Resolution struct {
	SyncID               string
	Strategy             Strategy
	ResolvedPayload      map[string]any
	ResolvedVersion      int64
	ResolvedLastModified time.Time
	ResolvedIsDeleted    bool
	ChosenVersion        ChosenVersion
	Confidence           float64
	WasAutomatic         bool
	Explanation          string
}

// ResolutionRecord is one append-only history entry: every resolution
// attempt, success or failure, produces exactly one. ChosenVersion is empty
// for failed attempts.
type ResolutionRecord struct {
	Family        string
	SyncID        string
	Strategy      Strategy
	Succeeded     bool
	Error         string
	ChosenVersion ChosenVersion
	ResolvedAt    time.Time
}

// ResolutionValidationFailed reports that a manual resolution's
// resolved_payload referenced a property the family does not declare.
type ResolutionValidationFailed struct {
	Family   string
	SyncID   string
	Property string
}

func (e *ResolutionValidationFailed) Error() string {
	return "conflict: resolution for " + e.Family + "/" + e.SyncID + " references unknown property " + e.Property
}
