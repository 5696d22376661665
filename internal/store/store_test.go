package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/syncengine/internal/snapshot"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestUpsertLocalThenFetchBySyncID_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	snap := snapshot.Snapshot{
		SyncID: "a", Family: "contacts", Version: 1,
		LastModified: now, ContentHash: "h1", Payload: map[string]any{"name": "alice"},
	}

	require.NoError(t, s.UpsertLocal(ctx, snap))

	got, found, err := s.FetchBySyncID(ctx, "contacts", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.Payload["name"])
	assert.Equal(t, int64(1), got.Version)
}

func TestFetchBySyncID_MissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.FetchBySyncID(context.Background(), "contacts", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchPending_OnlyReturnsUnsyncedOrStaleRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	synced := snapshot.Snapshot{SyncID: "synced", Family: "contacts", Version: 1, LastModified: now.Add(-time.Hour), ContentHash: "h", Payload: map[string]any{}}
	require.NoError(t, s.UpsertLocal(ctx, synced))
	require.NoError(t, s.MarkSynced(ctx, "contacts", []string{"synced"}, now))

	pending := snapshot.Snapshot{SyncID: "pending", Family: "contacts", Version: 1, LastModified: now, ContentHash: "h", Payload: map[string]any{}}
	require.NoError(t, s.UpsertLocal(ctx, pending))

	rows, err := s.FetchPending(ctx, "contacts", 0)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "pending", rows[0].SyncID)
}

func TestApplyRemote_SkipsWriteWhenContentHashAndDeleteStateUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	snap := snapshot.Snapshot{SyncID: "a", Family: "contacts", Version: 1, LastModified: now, ContentHash: "h1", Payload: map[string]any{"name": "alice"}}
	require.NoError(t, s.UpsertLocal(ctx, snap))

	results, err := s.ApplyRemote(ctx, []snapshot.Snapshot{snap})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.False(t, results[0].Applied)
}

func TestApplyRemote_AppliesWhenContentHashDiffers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	snap := snapshot.Snapshot{SyncID: "a", Family: "contacts", Version: 1, LastModified: now, ContentHash: "h1", Payload: map[string]any{"name": "alice"}}
	require.NoError(t, s.UpsertLocal(ctx, snap))

	updated := snap
	updated.ContentHash = "h2"
	updated.Version = 2
	updated.Payload = map[string]any{"name": "alicia"}

	results, err := s.ApplyRemote(ctx, []snapshot.Snapshot{updated})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)

	got, found, err := s.FetchBySyncID(ctx, "contacts", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alicia", got.Payload["name"])
}

func TestFetchDeleted_ReturnsOnlyTombstonesAfterCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tombstone := snapshot.Snapshot{SyncID: "a", Family: "contacts", Version: 2, LastModified: now, IsDeleted: true, ContentHash: "h", Payload: map[string]any{}}
	require.NoError(t, s.UpsertLocal(ctx, tombstone))

	rows, err := s.FetchDeleted(ctx, "contacts", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted)
}

func TestGetStatus_ReturnsIdleWhenNoRowExists(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetStatus(context.Background(), "contacts")
	require.NoError(t, err)
	assert.Equal(t, snapshot.StateIdle, st.State)
}

func TestSetStatusThenGetStatus_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := snapshot.EntitySyncStatus{Family: "contacts", State: snapshot.StateCompleted, PendingCount: 0}
	require.NoError(t, s.SetStatus(ctx, in))

	out, err := s.GetStatus(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, snapshot.StateCompleted, out.State)
}

func TestMarkAllSyncedForFamily_ClearsPendingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	snap := snapshot.Snapshot{SyncID: "a", Family: "contacts", Version: 1, LastModified: now, ContentHash: "h", Payload: map[string]any{}}
	require.NoError(t, s.UpsertLocal(ctx, snap))

	require.NoError(t, s.MarkAllSyncedForFamily(ctx, "contacts", now.Add(time.Second)))

	rows, err := s.FetchPending(ctx, "contacts", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
