package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Ordering is the result of comparing two revisions.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// NewRevision formats a revision string from a monotonic per-document
// counter and a digest of the body: "<counter>-<hash>". The hash gives
// CompareRevisions a deterministic tie-break when two peers independently
// produce the same counter for diverging bodies (the common case right
// after an offline replication conflict).
func NewRevision(counter int64, body Document) string {
	return fmt.Sprintf("%d-%s", counter, digest(body))
}

// RevisionCounter extracts the counter component of a revision string.
// Malformed revisions (never produced by this package) report counter 0.
func RevisionCounter(rev string) int64 {
	idx := strings.IndexByte(rev, '-')
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseInt(rev[:idx], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// CompareRevisions orders two revisions by counter first, then by the hash
// component lexicographically, per the data model's tie-break rule.
func CompareRevisions(a, b string) Ordering {
	ca, cb := RevisionCounter(a), RevisionCounter(b)
	if ca != cb {
		if ca < cb {
			return Less
		}
		return Greater
	}
	ha, hb := hashPart(a), hashPart(b)
	switch {
	case ha < hb:
		return Less
	case ha > hb:
		return Greater
	default:
		return Equal
	}
}

func hashPart(rev string) string {
	idx := strings.IndexByte(rev, '-')
	if idx < 0 || idx+1 >= len(rev) {
		return ""
	}
	return rev[idx+1:]
}

// digest produces a short, stable hex digest of a document body. Keys are
// sorted before hashing so that two maps with identical content but
// different iteration order hash identically.
func digest(body Document) string {
	var sb strings.Builder
	writeCanonical(&sb, body)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:12]
}

func writeCanonical(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case Document:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeCanonical(sb, t[k])
		}
		sb.WriteByte('}')
	case map[string]any:
		writeCanonical(sb, Document(t))
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case string:
		sb.WriteString(strconv.Quote(t))
	case nil:
		sb.WriteString("null")
	default:
		sb.WriteString(fmt.Sprintf("%v", t))
	}
}
