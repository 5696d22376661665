package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"name": "alice", "age": float64(30)}
	b := map[string]any{"age": float64(30), "name": "alice"}

	ha, err := ContentHash(a, false)
	require.NoError(t, err)

	hb, err := ContentHash(b, false)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestContentHash_NullAndAbsentEquivalent(t *testing.T) {
	withNull := map[string]any{"name": "alice", "nickname": nil}
	withoutKey := map[string]any{"name": "alice"}

	eq, err := EqualContent(withNull, false, withoutKey, false)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestContentHash_FloatRoundingToleratesNoise(t *testing.T) {
	a := map[string]any{"score": 1.0000000001}
	b := map[string]any{"score": 1.0}

	eq, err := EqualContent(a, false, b, false)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestContentHash_UnicodeNormalized(t *testing.T) {
	// the same name, one composed as a single codepoint, one decomposed
	// into base letter plus combining accent.
	decomposed := map[string]any{"name": "café"}
	composed := map[string]any{"name": "café"}

	eq, err := EqualContent(composed, false, decomposed, false)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestContentHash_DateTruncatedToMillis(t *testing.T) {
	a := map[string]any{"created": time.Date(2026, 1, 1, 0, 0, 0, 500_000, time.UTC)}
	b := map[string]any{"created": time.Date(2026, 1, 1, 0, 0, 0, 999_999, time.UTC)}

	eq, err := EqualContent(a, false, b, false)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestContentHash_DifferentContentDiffers(t *testing.T) {
	a := map[string]any{"name": "alice"}
	b := map[string]any{"name": "bob"}

	eq, err := EqualContent(a, false, b, false)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestContentHash_IsDeletedAffectsHash(t *testing.T) {
	payload := map[string]any{"name": "alice"}

	eq, err := EqualContent(payload, false, payload, true)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestContentHash_RejectsUnsupportedType(t *testing.T) {
	_, err := ContentHash(map[string]any{"fn": func() {}}, false)
	require.Error(t, err)

	var invalid *InvalidPayload
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "fn", invalid.Property)
}
