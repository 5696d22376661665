// Package timeutil collects the small set of time conventions shared across
// the sync engine: internal comparisons happen in Unix nanoseconds, the wire
// boundary uses UTC millisecond-truncated time.Time.
package timeutil

import "time"

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds. The zero time maps to 0.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// FromUnixNano converts Unix nanoseconds back to a UTC time.Time.
func FromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns).UTC()
}

// TruncateToMillis canonicalizes a timestamp to UTC, millisecond precision —
// the content-hash and wire-format convention for all date-valued properties.
func TruncateToMillis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Int64Ptr returns a pointer to v, for optional int64 fields in wire types.
func Int64Ptr(v int64) *int64 {
	return &v
}
