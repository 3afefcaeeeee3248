// Package filter implements the filter language and evaluator (component E):
// the $-prefixed operator set, deep equality, ordered comparison, and safe
// regex compilation.
package filter

import (
	"sort"
	"time"

	"github.com/riftdb/riftdb/document"
)

// Result is the outcome of comparing two values for ordering.
type Result int

const (
	Less          Result = -1
	Equal         Result = 0
	Greater       Result = 1
	Incomparable  Result = 2 // cross-type comparisons that are never ordered
)

// IsMissing reports whether v represents "no value" — either a genuinely
// absent field (nil interface) or an explicit JSON null.
func IsMissing(v any) bool {
	return v == nil
}

// CompareOrdered orders two values under $gt/$gte/$lt/$lte semantics:
// numbers, strings (lexicographic), and timestamps (by instant) are
// ordered; everything else, including any cross-type pair, is
// Incomparable, which operators must treat as "comparison fails".
func CompareOrdered(a, b any) Result {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return compareFloat(af, bf)
		}
		return Incomparable
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return compareString(as, bs)
		}
		return Incomparable
	}
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			switch {
			case at.Before(bt):
				return Less
			case at.After(bt):
				return Greater
			default:
				return Equal
			}
		}
		return Incomparable
	}
	return Incomparable
}

func compareFloat(a, b float64) Result {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareString(a, b string) Result {
	// Lexicographic byte-wise compare. A full locale-aware collation would
	// need golang.org/x/text/collate, which nothing in the example corpus
	// imports; byte order is used instead.
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// SortLess implements the stable comparator chain's per-field ordering,
// including the "missing/null sorts last regardless of direction" rule.
func SortLess(a, b any, descending bool) bool {
	aMissing, bMissing := IsMissing(a), IsMissing(b)
	if aMissing && bMissing {
		return false
	}
	if aMissing {
		return false // a (missing) never sorts before b
	}
	if bMissing {
		return true // a (present) always sorts before missing b
	}
	cmp := CompareOrdered(a, b)
	if cmp == Incomparable {
		// Stable, deterministic fallback for values the ordering operators
		// can't compare (e.g. bool vs bool): compare their canonical
		// string form so the sort is still total.
		cmp = compareString(canonicalString(a), canonicalString(b))
	}
	if descending {
		return cmp == Greater
	}
	return cmp == Less
}

func canonicalString(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// DeepEqual implements $eq scalar/array/object equality: primitives compare
// by value, timestamps by instant, arrays order-sensitively, objects by
// recursive key/value equality regardless of key order.
func DeepEqual(a, b any) bool {
	if IsMissing(a) && IsMissing(b) {
		return true
	}
	if IsMissing(a) != IsMissing(b) {
		return false
	}
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Equal(bt)
		}
		return false
	}
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case document.Document:
		return deepEqualObject(av, b)
	case map[string]any:
		return deepEqualObject(document.Document(av), b)
	default:
		return false
	}
}

func deepEqualObject(a document.Document, b any) bool {
	var bo document.Document
	switch t := b.(type) {
	case document.Document:
		bo = t
	case map[string]any:
		bo = document.Document(t)
	default:
		return false
	}
	if len(a) != len(bo) {
		return false
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bv, ok := bo[k]
		if !ok || !DeepEqual(a[k], bv) {
			return false
		}
	}
	return true
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
