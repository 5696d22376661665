// Package integrity implements the Integrity Validator (C7): read-only,
// report-don't-fix invariant checking across the local store, the metadata
// store, and the durable conflict history, grounded on the teacher's
// VerifyBaseline/verifyEntry pattern (one result per violation, aggregated
// into a report, never auto-fixes).
package integrity

import (
	"context"
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
	"github.com/brightloom/syncengine/internal/store"
)

// Violation kinds.
const (
	KindSyncedAfterModified     = "synced_after_modified"
	KindStaleContentHash        = "stale_content_hash"
	KindDuplicateSyncID         = "duplicate_sync_id"
	KindPendingCountMismatch    = "pending_count_mismatch"
	KindResolvedConflictDrifted = "resolved_conflict_drifted"
)

// IntegrityViolation is one failed invariant for a single snapshot (or, for
// family-scoped checks like KindPendingCountMismatch, the family as a
// whole — SyncID is empty in that case).
type IntegrityViolation struct {
	Family string
	SyncID string
	Kind   string
	Detail string
}

// Result is the aggregated outcome of a Validate run.
type Result struct {
	Checked    int
	Violations []IntegrityViolation
	CheckedAt  time.Time
}

// LocalReader is the subset of LocalStore the validator reads.
type LocalReader interface {
	FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error)
}

// StatusReader is the subset of the Sync Metadata Store the validator cross-
// checks pending_count against.
type StatusReader interface {
	GetStatus(ctx context.Context, family string) (snapshot.EntitySyncStatus, error)
}

// ConflictHistoryReader is the subset of the Sync Metadata Store the
// validator reads resolved-conflict history from.
type ConflictHistoryReader interface {
	ConflictHistory(ctx context.Context, family string, limit int) ([]store.ConflictHistoryEntry, error)
}

// Validator checks Snapshot invariants for a family against the local
// store's live rows, the recorded status, and resolved conflict history.
type Validator struct {
	local     LocalReader
	status    StatusReader
	history   ConflictHistoryReader
	retention time.Duration
	now       func() time.Time
}

// New builds a Validator. status and history may be nil, in which case the
// pending_count and resolved-conflict-drift checks are skipped. retention is
// the conflict history retention window (spec's "resolved conflicts older
// than retention window"); zero disables the resolved-conflict-drift check.
func New(local LocalReader, status StatusReader, history ConflictHistoryReader, retention time.Duration) *Validator {
	return &Validator{local: local, status: status, history: history, retention: retention, now: time.Now}
}

// Validate checks every snapshot of family against the Snapshot invariants:
//   - last_synced is absent, or <= now and <= last_modified
//   - no two records share a sync_id
//   - content_hash matches the recomputed hash
//   - metadata's pending_count equals the number of records NeedsSync reports
//     pending, if a StatusReader is configured
//   - no record resolved by a conflict older than the retention window still
//     diverges from its recorded chosen resolution, if a ConflictHistoryReader
//     is configured
//
// created_at is not a field the Snapshot model carries (see DESIGN.md's Open
// Question decisions), so the "no tombstone has last_modified < created_at"
// invariant has no record to check against and is intentionally not
// evaluated here.
func (v *Validator) Validate(ctx context.Context, family string) (Result, error) {
	rows, err := v.local.FetchModifiedAfter(ctx, family, time.Time{}, 0)
	if err != nil {
		return Result{}, err
	}

	res := Result{Checked: len(rows), CheckedAt: v.now()}

	now := v.now()
	seen := make(map[string]struct{}, len(rows))
	bySyncID := make(map[string]snapshot.Snapshot, len(rows))
	pending := 0

	for _, s := range rows {
		bySyncID[s.SyncID] = s

		if _, dup := seen[s.SyncID]; dup {
			res.Violations = append(res.Violations, IntegrityViolation{
				Family: family, SyncID: s.SyncID, Kind: KindDuplicateSyncID,
				Detail: "more than one local record shares this sync_id",
			})
		}
		seen[s.SyncID] = struct{}{}

		if !s.LastSynced.IsZero() {
			if s.LastSynced.After(now) {
				res.Violations = append(res.Violations, IntegrityViolation{
					Family: family, SyncID: s.SyncID, Kind: KindSyncedAfterModified,
					Detail: "last_synced is in the future",
				})
			}

			if s.LastSynced.After(s.LastModified) {
				res.Violations = append(res.Violations, IntegrityViolation{
					Family: family, SyncID: s.SyncID, Kind: KindSyncedAfterModified,
					Detail: "last_synced is after last_modified",
				})
			}
		}

		recomputed, err := snapshot.ContentHash(s.Payload, s.IsDeleted)
		if err != nil {
			res.Violations = append(res.Violations, IntegrityViolation{
				Family: family, SyncID: s.SyncID, Kind: KindStaleContentHash,
				Detail: err.Error(),
			})
		} else if recomputed != s.ContentHash {
			res.Violations = append(res.Violations, IntegrityViolation{
				Family: family, SyncID: s.SyncID, Kind: KindStaleContentHash,
				Detail: "stored content_hash does not match recomputed hash",
			})
		}

		if snapshot.NeedsSync(s) {
			pending++
		}
	}

	if v.status != nil {
		status, err := v.status.GetStatus(ctx, family)
		if err != nil {
			return Result{}, err
		}

		if status.PendingCount != pending {
			res.Violations = append(res.Violations, IntegrityViolation{
				Family: family, Kind: KindPendingCountMismatch,
				Detail: "recorded pending_count does not equal the number of records NeedsSync reports pending",
			})
		}
	}

	if v.history != nil && v.retention > 0 {
		cutoff := now.Add(-v.retention)

		entries, err := v.history.ConflictHistory(ctx, family, 0)
		if err != nil {
			return Result{}, err
		}

		for _, e := range entries {
			if !e.Succeeded || e.ResolvedAt.After(cutoff) {
				continue
			}

			current, ok := bySyncID[e.SyncID]
			if !ok {
				continue
			}

			if current.ContentHash != e.ResolvedContentHash {
				res.Violations = append(res.Violations, IntegrityViolation{
					Family: family, SyncID: e.SyncID, Kind: KindResolvedConflictDrifted,
					Detail: "record content diverges from the hash recorded for its resolved conflict",
				})
			}
		}
	}

	return res, nil
}
