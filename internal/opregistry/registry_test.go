package opregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/syncerrors"
)

func TestRegister_AdmitsWithinCapacity(t *testing.T) {
	r := New(2)

	op, opCtx, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	assert.NotNil(t, op)
	assert.NotNil(t, opCtx)
	assert.Equal(t, 1, r.ActiveCount())
}

func TestRegister_RejectsDuplicateFingerprint(t *testing.T) {
	r := New(5)

	_, _, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	_, _, err = r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	assert.ErrorIs(t, err, syncerrors.ErrDuplicateOperation)
}

func TestRegister_RejectsOverCapacity(t *testing.T) {
	r := New(1)

	_, _, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	_, _, err = r.Register(context.Background(), "notes", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	assert.ErrorIs(t, err, syncerrors.ErrTooManyConcurrentOps)
}

func TestUnregister_FreesCapacityForSameFingerprint(t *testing.T) {
	r := New(1)

	_, _, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	r.Unregister("contacts", syncengine.OpFull, syncengine.OpStatusCompleted)

	assert.Equal(t, 0, r.ActiveCount())

	_, _, err = r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	assert.NoError(t, err)
}

func TestCancel_InvokesStoredCancelFunc(t *testing.T) {
	r := New(1)

	op, opCtx, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	ok := r.Cancel("contacts", syncengine.OpFull)
	assert.True(t, ok)
	assert.Error(t, opCtx.Err())
	assert.Equal(t, syncengine.OpStatusRunning, op.Status) // Cancel doesn't itself transition status
}

func TestGet_ReturnsActiveOperation(t *testing.T) {
	r := New(1)

	_, _, err := r.Register(context.Background(), "contacts", syncengine.OpFull, "user-1", syncengine.SyncPolicy{})
	require.NoError(t, err)

	op, ok := r.Get("contacts", syncengine.OpFull)
	require.True(t, ok)
	assert.Equal(t, "contacts", op.EntityFamily)
}
