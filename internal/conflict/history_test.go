package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_QueryNewestFirst(t *testing.T) {
	h := NewHistory(30)

	base := time.Now()
	h.Append(ResolutionRecord{Family: "contacts", SyncID: "a", ResolvedAt: base})
	h.Append(ResolutionRecord{Family: "contacts", SyncID: "b", ResolvedAt: base.Add(time.Minute)})

	recs := h.Query("contacts", 10)

	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].SyncID)
	assert.Equal(t, "a", recs[1].SyncID)
}

func TestHistory_EvictsEntriesOlderThanRetention(t *testing.T) {
	h := NewHistory(1) // 1 day retention

	old := time.Now().Add(-48 * time.Hour)
	h.Append(ResolutionRecord{Family: "contacts", SyncID: "old", ResolvedAt: old})
	h.Append(ResolutionRecord{Family: "contacts", SyncID: "new", ResolvedAt: time.Now()})

	recs := h.Query("contacts", 10)

	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].SyncID)
}

func TestHistory_QueryRespectsLimit(t *testing.T) {
	h := NewHistory(30)

	base := time.Now()
	for i := 0; i < 5; i++ {
		h.Append(ResolutionRecord{Family: "contacts", SyncID: string(rune('a' + i)), ResolvedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	recs := h.Query("contacts", 2)

	assert.Len(t, recs, 2)
}

func TestHistory_QueryFiltersByFamily(t *testing.T) {
	h := NewHistory(30)

	h.Append(ResolutionRecord{Family: "contacts", SyncID: "a", ResolvedAt: time.Now()})
	h.Append(ResolutionRecord{Family: "notes", SyncID: "b", ResolvedAt: time.Now()})

	recs := h.Query("notes", 10)

	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].SyncID)
}
