package conflict

import (
	"reflect"
	"sort"
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
)

// Detector compares a bag of local snapshots against a bag of remote
// snapshots for one family and emits the conflicts between them.
type Detector struct {
	now func() time.Time
}

// NewDetector builds a Detector. now defaults to time.Now when nil, but
// tests can inject a fixed clock.
func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}

	return &Detector{now: now}
}

// Detect implements the pairwise comparison algorithm: index remote by
// sync_id, then classify each local snapshot against its remote counterpart.
// versionAligned carries sync_ids whose version should be silently bumped to
// max(local, remote) with no remote write — a side effect of step 2 of the
// algorithm that callers apply to the local store themselves.
func (d *Detector) Detect(local, remote []snapshot.Snapshot) (conflicts []SyncConflict, versionAligned map[string]int64) {
	byID := make(map[string]snapshot.Snapshot, len(remote))
	for _, r := range remote {
		byID[r.SyncID] = r
	}

	versionAligned = make(map[string]int64)
	detectedAt := d.now()

	for _, l := range local {
		r, ok := byID[l.SyncID]
		if !ok {
			continue // pure local change, no conflict
		}

		if l.ContentHash == r.ContentHash && l.IsDeleted == r.IsDeleted {
			versionAligned[l.SyncID] = maxInt64(l.Version, r.Version)
			continue
		}

		if l.IsDeleted != r.IsDeleted {
			conflicts = append(conflicts, SyncConflict{
				SyncID:       l.SyncID,
				Family:       l.Family,
				Local:        l,
				Remote:       r,
				ConflictType: TypeDelete,
				Priority:     PriorityHigh,
				DetectedAt:   detectedAt,
			})

			continue
		}

		if l.Version != r.Version && !l.LastModified.Equal(r.LastModified) {
			conflicts = append(conflicts, SyncConflict{
				SyncID:           l.SyncID,
				Family:           l.Family,
				Local:            l,
				Remote:           r,
				ConflictType:     TypeData,
				ConflictedFields: diffFields(l.Payload, r.Payload),
				Priority:         PriorityNormal,
				DetectedAt:       detectedAt,
			})

			continue
		}

		if l.Version == r.Version && l.ContentHash != r.ContentHash {
			conflicts = append(conflicts, SyncConflict{
				SyncID:       l.SyncID,
				Family:       l.Family,
				Local:        l,
				Remote:       r,
				ConflictType: TypeVersion,
				Priority:     PriorityHigh,
				DetectedAt:   detectedAt,
			})
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		pi, pj := conflicts[i].Priority.rank(), conflicts[j].Priority.rank()
		if pi != pj {
			return pi > pj
		}

		return conflicts[i].DetectedAt.Before(conflicts[j].DetectedAt)
	})

	return conflicts, versionAligned
}

// diffFields returns the set of payload keys whose values differ between a
// and b, compared with reflect.DeepEqual. A cheap, direct equality check suffices here
// since both payloads are already decoded maps; full canonicalization is
// the Content Hash's job, not the detector's.
func diffFields(a, b map[string]any) map[string]struct{} {
	fields := make(map[string]struct{})

	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}

	for k := range seen {
		av, aok := a[k]
		bv, bok := b[k]

		if aok != bok || !reflect.DeepEqual(av, bv) {
			fields[k] = struct{}{}
		}
	}

	return fields
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
