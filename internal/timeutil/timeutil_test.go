package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToUnixNano_ZeroTimeMapsToZero(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixNano(time.Time{}))
}

func TestUnixNanoRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 0, 123456789, time.UTC)

	got := FromUnixNano(ToUnixNano(now))

	assert.True(t, now.Equal(got))
}

func TestFromUnixNano_ZeroMapsToZeroTime(t *testing.T) {
	assert.True(t, FromUnixNano(0).IsZero())
}

func TestTruncateToMillis_DropsSubMillisecondPrecision(t *testing.T) {
	in := time.Date(2026, 3, 5, 12, 30, 0, 999999, time.UTC)

	got := TruncateToMillis(in)

	assert.Equal(t, 0, got.Nanosecond()%int(time.Millisecond))
}

func TestTruncateToMillis_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	in := time.Date(2026, 3, 5, 12, 0, 0, 0, loc)

	got := TruncateToMillis(in)

	assert.Equal(t, time.UTC, got.Location())
}

func TestInt64Ptr(t *testing.T) {
	p := Int64Ptr(42)

	assert.Equal(t, int64(42), *p)
}
