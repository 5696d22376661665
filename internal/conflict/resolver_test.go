package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/syncengine/internal/snapshot"
)

func TestPartition_CriticalGoesManual(t *testing.T) {
	r := NewResolver(nil, 0, 0, nil, nil)

	conflicts := []SyncConflict{{SyncID: "a", ConflictType: TypeData, Priority: PriorityCritical}}

	auto, manual := r.Partition(conflicts, nil)

	assert.Empty(t, auto)
	require.Len(t, manual, 1)
}

func TestPartition_SchemaAndPermissionAreManualOnly(t *testing.T) {
	r := NewResolver(nil, 0, 0, nil, nil)

	conflicts := []SyncConflict{
		{SyncID: "a", ConflictType: TypeSchema, Priority: PriorityNormal},
		{SyncID: "b", ConflictType: TypePermission, Priority: PriorityNormal},
	}

	auto, manual := r.Partition(conflicts, nil)

	assert.Empty(t, auto)
	assert.Len(t, manual, 2)
}

func TestPartition_ManualOnlyFieldForcesManual(t *testing.T) {
	r := NewResolver(nil, 0, 0, nil, nil)

	conflicts := []SyncConflict{{
		SyncID:           "a",
		ConflictType:     TypeData,
		Priority:         PriorityNormal,
		ConflictedFields: map[string]struct{}{"owner": {}},
	}}

	manualOnly := map[string]struct{}{"owner": {}}

	auto, manual := r.Partition(conflicts, manualOnly)

	assert.Empty(t, auto)
	require.Len(t, manual, 1)
}

func TestPartition_EligibleDataConflictIsAuto(t *testing.T) {
	r := NewResolver(nil, 0, 0, nil, nil)

	conflicts := []SyncConflict{{SyncID: "a", ConflictType: TypeData, Priority: PriorityNormal}}

	auto, manual := r.Partition(conflicts, nil)

	require.Len(t, auto, 1)
	assert.Empty(t, manual)
}

func TestAutoResolve_LastWriteWinsPicksLaterSide(t *testing.T) {
	now := time.Now()
	r := NewResolver(nil, 0, 0, nil, nil)

	c := SyncConflict{
		SyncID: "a",
		Local:  snapshot.Snapshot{SyncID: "a", LastModified: now, Payload: map[string]any{"name": "alice"}},
		Remote: snapshot.Snapshot{SyncID: "a", LastModified: now.Add(time.Hour), Payload: map[string]any{"name": "bob"}},
	}

	results := r.AutoResolve(context.Background(), []SyncConflict{c})

	require.Len(t, results, 1)
	assert.Equal(t, ChosenRemote, results[0].ChosenVersion)
	assert.Equal(t, "bob", results[0].ResolvedPayload["name"])
	assert.Equal(t, now.Add(time.Hour), results[0].ResolvedLastModified)

	recs := r.History().Query("", 10)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Succeeded)
	assert.Equal(t, ChosenRemote, recs[0].ChosenVersion)
}

func TestResolveBatch_MergeUnionsSetsAndPicksNewerScalar(t *testing.T) {
	now := time.Now()
	r := NewResolver(nil, 0, 0, nil, nil)

	c := SyncConflict{
		SyncID: "a",
		Local: snapshot.Snapshot{
			SyncID: "a", LastModified: now.Add(time.Hour),
			Payload: map[string]any{"name": "alice", "tags": []any{"x"}},
		},
		Remote: snapshot.Snapshot{
			SyncID: "a", LastModified: now,
			Payload: map[string]any{"name": "bob", "tags": []any{"y"}},
		},
	}

	results := r.ResolveBatch(context.Background(), []SyncConflict{c}, StrategyMerge, nil)

	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].ResolvedPayload["name"])
	assert.ElementsMatch(t, []any{"x", "y"}, results[0].ResolvedPayload["tags"])
}

type fakeSchema struct {
	props map[string]struct{}
}

func (f fakeSchema) Properties(family string) (map[string]struct{}, bool) {
	return f.props, true
}

func TestResolveBatch_ManualRejectsUnknownProperty(t *testing.T) {
	r := NewResolver(fakeSchema{props: map[string]struct{}{"name": {}}}, 0, 0, nil, nil)

	c := SyncConflict{SyncID: "a", Family: "contacts"}

	results := r.ResolveBatch(context.Background(), []SyncConflict{c}, StrategyManual, map[string]map[string]any{
		"a": {"unknown_field": "x"},
	})

	assert.Empty(t, results)

	recs := r.History().Query("contacts", 10)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Succeeded)
	assert.NotEmpty(t, recs[0].Error)
}

func TestResolveBatch_IsolatesPerConflictFailure(t *testing.T) {
	r := NewResolver(fakeSchema{props: map[string]struct{}{"name": {}}}, 0, 0, nil, nil)

	good := SyncConflict{SyncID: "good", Family: "contacts"}
	bad := SyncConflict{SyncID: "bad", Family: "contacts"}

	results := r.ResolveBatch(context.Background(), []SyncConflict{good, bad}, StrategyManual, map[string]map[string]any{
		"good": {"name": "alice"},
		"bad":  {"unknown": "x"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].SyncID)
}

func TestResolveBatch_ChunksByMaxBatchSize(t *testing.T) {
	r := NewResolver(nil, 2, 0, nil, nil)

	conflicts := make([]SyncConflict, 5)
	for i := range conflicts {
		conflicts[i] = SyncConflict{SyncID: string(rune('a' + i))}
	}

	results := r.ResolveBatch(context.Background(), conflicts, StrategyLocalWins, nil)

	assert.Len(t, results, 5)
}

type fakeRecorder struct {
	calls int
}

func (f *fakeRecorder) RecordConflictResolution(ctx context.Context, family, syncID, strategy string, succeeded bool, errMsg, chosenVersion, resolvedContentHash string, resolvedAt time.Time) error {
	f.calls++
	return nil
}

func TestResolveBatch_PersistsToRecorderWhenConfigured(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewResolver(nil, 0, 0, rec, nil)

	c := SyncConflict{SyncID: "a", Family: "contacts"}

	r.ResolveBatch(context.Background(), []SyncConflict{c}, StrategyLocalWins, nil)

	assert.Equal(t, 1, rec.calls)
}
