package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/brightloom/syncengine/internal/timeutil"
)

// sigFigs is the number of significant digits floats are rounded to before
// hashing, so that remote services re-serializing a float with extra trailing
// noise don't register as a spurious content change.
const sigFigs = 9

// InvalidPayload reports that a payload property could not be canonicalized
// for hashing (e.g. a function, channel, or other non-JSON-safe value).
type InvalidPayload struct {
	Property string
	Reason   string
}

func (e *InvalidPayload) Error() string {
	return fmt.Sprintf("snapshot: invalid payload property %q: %s", e.Property, e.Reason)
}

// contentHashEnvelope is the value actually hashed: the canonicalized payload
// plus is_deleted, so a tombstone transition always changes content_hash even
// when payload is left untouched (or emptied).
type contentHashEnvelope struct {
	Payload   orderedMap `json:"payload"`
	IsDeleted bool       `json:"is_deleted"`
}

// ContentHash computes a stable hash over a record's payload and its
// is_deleted flag. Two records that are equivalent after canonicalization
// (key order, null/absent equivalence, date precision, float rounding,
// Unicode normalization) and share the same is_deleted value hash
// identically.
func ContentHash(payload map[string]any, isDeleted bool) (string, error) {
	canon, err := canonicalizeValue(payload)
	if err != nil {
		return "", err
	}

	// canonicalizeValue on a map always returns a map or nil.
	m, _ := canon.(orderedMap)

	enc, err := json.Marshal(contentHashEnvelope{Payload: m, IsDeleted: isDeleted})
	if err != nil {
		return "", fmt.Errorf("snapshot: encode canonical payload: %w", err)
	}

	sum := sha256.Sum256(enc)

	return hex.EncodeToString(sum[:]), nil
}

// EqualContent reports whether two records canonicalize to the same hash,
// including their is_deleted flags.
func EqualContent(a map[string]any, aDeleted bool, b map[string]any, bDeleted bool) (bool, error) {
	ha, err := ContentHash(a, aDeleted)
	if err != nil {
		return false, err
	}

	hb, err := ContentHash(b, bDeleted)
	if err != nil {
		return false, err
	}

	return ha == hb, nil
}

// orderedMap marshals as a JSON object with keys in sorted order, giving
// json.Marshal a deterministic byte sequence for otherwise-identical maps.
type orderedMap []kv

type kv struct {
	Key string
	Val any
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}

	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}

		key, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}

		val, err := json.Marshal(pair.Val)
		if err != nil {
			return nil, err
		}

		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}

	buf = append(buf, '}')

	return buf, nil
}

// canonicalizeValue recursively normalizes a decoded JSON-ish value: maps
// drop null/absent entries and sort keys, floats round to sigFigs, times
// truncate to UTC milliseconds, strings NFC-normalize.
func canonicalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k, vv := range val {
			if vv == nil {
				continue // null and absent are equivalent
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			cv, err := canonicalizeValue(val[k])
			if err != nil {
				return nil, &InvalidPayload{Property: k, Reason: err.Error()}
			}
			out = append(out, kv{Key: k, Val: cv})
		}

		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cv, err := canonicalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}

		return out, nil
	case string:
		return norm.NFC.String(val), nil
	case float64:
		return roundSigFigs(val, sigFigs), nil
	case int, int32, int64, bool:
		return val, nil
	case time.Time:
		return timeutil.TruncateToMillis(val).Format(time.RFC3339Nano), nil
	default:
		return nil, fmt.Errorf("unsupported payload value type %T", v)
	}
}

// roundSigFigs rounds f to the given number of significant decimal digits.
func roundSigFigs(f float64, digits int) float64 {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}

	mag := math.Ceil(math.Log10(math.Abs(f)))
	power := float64(digits) - mag
	shift := math.Pow(10, power)

	return math.Round(f*shift) / shift
}
