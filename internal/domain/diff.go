package domain

import (
	"reflect"
	"time"
)

var bookkeepingFields = map[string]bool{
	FieldUpdatedAt:        true,
	FieldNetworkUpdatedAt: true,
}

// HasChanged reports whether writing candidate over existing would change
// the stored record.
//
// A source-reported networkUpdatedAt on both sides short-circuits: if the
// stored one is not older, the candidate is unchanged. Otherwise every
// non-bookkeeping candidate field is compared structurally, with date-like
// values compared by instant. A candidate field the stored record lacks
// counts as a change. Stored-only fields are kept by the merge and are not
// compared.
func HasChanged(candidate, existing Document) bool {
	if existing == nil {
		return true
	}

	if incoming, ok := asInstant(candidate[FieldNetworkUpdatedAt]); ok {
		if stored, ok := asInstant(existing[FieldNetworkUpdatedAt]); ok && !stored.Before(incoming) {
			return false
		}
	}

	for field, value := range candidate {
		if bookkeepingFields[field] {
			continue
		}
		stored, ok := existing[field]
		if !ok {
			return true
		}
		if !ValuesEqual(value, stored) {
			return true
		}
	}
	return false
}

// ValuesEqual compares two document values structurally
func ValuesEqual(a, b any) bool {
	if ta, ok := asInstant(a); ok {
		if tb, ok := asInstant(b); ok {
			return ta.Equal(tb)
		}
	}
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			return fa == fb
		}
		return false
	}

	switch av := a.(type) {
	case Document:
		return mapsEqual(av, b)
	case map[string]any:
		return mapsEqual(av, b)
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return sliceEqual(av, NormalizeValue(b))
		}
		return sliceEqual(av, bv)
	case []string:
		na, ok := NormalizeValue(av).([]any)
		if !ok {
			return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
		}
		return sliceEqual(na, NormalizeValue(b))
	}
	return reflect.DeepEqual(a, b)
}

func mapsEqual(a map[string]any, b any) bool {
	var bm map[string]any
	switch v := b.(type) {
	case Document:
		bm = v
	case map[string]any:
		bm = v
	default:
		return false
	}
	if len(a) != len(bm) {
		return false
	}
	for k, v := range a {
		w, ok := bm[k]
		if !ok || !ValuesEqual(v, w) {
			return false
		}
	}
	return true
}

func sliceEqual(a []any, b any) bool {
	bv, ok := b.([]any)
	if !ok || len(a) != len(bv) {
		return false
	}
	for i := range a {
		if !ValuesEqual(a[i], bv[i]) {
			return false
		}
	}
	return true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// asInstant interprets timestamps and RFC3339 strings. Plain dates and other
// strings are left to ordinary string comparison.
func asInstant(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if len(t) < len("2006-01-02T15:04:05") || t[4] != '-' || t[10] != 'T' {
			return time.Time{}, false
		}
		for _, layout := range instantLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
