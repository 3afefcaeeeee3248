// Package document implements the document and revision model described by
// the engine's data model: identity, revisions, timestamps, and deletion
// tombstones (component A).
//
// A Document is a plain map from string keys to dynamic JSON-like values,
// mirroring how the teacher's nodestorage/v2 treated a Cachable document as
// an opaque, copyable value — except here there is no fixed Go struct per
// collection, since collections are schema-on-write rather than
// schema-on-compile.
package document

import (
	"time"
)

// Reserved top-level keys. Any other key beginning with an underscore is
// reserved for engine internals and exempt from the schema validator's
// unknown-key check when additional_properties is false.
const (
	FieldID        = "id"
	FieldRev       = "rev"
	FieldUpdatedAt = "updated_at"
	FieldDeleted   = "deleted"
)

// Document is a mapping from string keys to dynamic values: string, float64
// or int64 (number), bool, nil, time.Time (timestamp), []any (array), or
// Document (nested object). Numbers and timestamps are never collapsed into
// each other — see filter.Compare.
type Document map[string]any

// ID returns the document's id, or "" if unset.
func (d Document) ID() string {
	v, _ := d[FieldID].(string)
	return v
}

// Rev returns the document's revision string, or "" if unset.
func (d Document) Rev() string {
	v, _ := d[FieldRev].(string)
	return v
}

// UpdatedAt returns the wall-clock milliseconds of the last write, or 0.
func (d Document) UpdatedAt() int64 {
	switch v := d[FieldUpdatedAt].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Deleted reports whether the document is a tombstone.
func (d Document) Deleted() bool {
	v, _ := d[FieldDeleted].(bool)
	return v
}

// Clone returns a deep copy so callers never observe aliased mutation
// between a stored document and one in flight through hooks or the cache.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return Document(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// strings, numbers, bools, nil, time.Time are all copied by value.
		return t
	}
}

// Get resolves a dot-delimited field path against the document. A path that
// traverses through a missing key, a non-object value, or a nil returns
// (nil, false) rather than panicking — "a path through null/missing yields
// missing".
func (d Document) Get(path string) (any, bool) {
	return getPath(any(d), splitPath(path))
}

func getPath(cur any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return cur, cur != nil
	}
	switch v := cur.(type) {
	case Document:
		next, ok := v[parts[0]]
		if !ok {
			return nil, false
		}
		return getPath(next, parts[1:])
	case map[string]any:
		return getPath(Document(v), parts)
	case []any:
		idx, ok := parseIndex(parts[0])
		if !ok || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return getPath(v[idx], parts[1:])
	default:
		return nil, false
	}
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// NowMillis returns the current wall clock in epoch milliseconds, the unit
// used for updated_at and change event timestamps throughout the engine.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
