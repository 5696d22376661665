package syncengine

import (
	"sort"

	"github.com/brightloom/syncengine/internal/snapshot"
)

// orderByLastModifiedAsc sorts snapshots ascending by last_modified, the
// ordering guarantee §5 requires for uploads and downloads within one
// operation on one family.
func orderByLastModifiedAsc(rows []snapshot.Snapshot) []snapshot.Snapshot {
	out := append([]snapshot.Snapshot{}, rows...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.Before(out[j].LastModified)
	})

	return out
}
