// Package index implements secondary index management (component D): an
// index is an ordered sequence of (key_tuple, doc_id) entries maintained
// incrementally as documents are written.
package index

import (
	"sort"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
)

// Direction is the sort direction of one indexed field.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// FieldSpec is one (field-path, direction) pair of an index definition.
type FieldSpec struct {
	Path      string
	Direction Direction
}

// Definition is the normalized form of an index: it always carries an
// explicit name.
type Definition struct {
	Name   string
	Fields []FieldSpec
	Unique bool
}

// entry is one (key_tuple, doc_id) pair.
type entry struct {
	key   []any
	docID string
}

// Index is a single ordered index over one collection.
type Index struct {
	Def     Definition
	entries []entry // kept sorted by compareKeys, then by docID
}

func newIndex(def Definition) *Index {
	return &Index{Def: def}
}

// KeyTuple extracts the values at the index's declared paths from doc, in
// declared order. Missing fields contribute a nil element, which sorts
// last in both directions per compareKeys.
func (ix *Index) KeyTuple(doc document.Document) []any {
	tuple := make([]any, len(ix.Def.Fields))
	for i, f := range ix.Def.Fields {
		v, _ := doc.Get(f.Path)
		tuple[i] = v
	}
	return tuple
}

// compareKeys orders two key tuples field by field according to the
// index's declared directions, with missing values always sorting last
// regardless of direction.
func (ix *Index) compareKeys(a, b []any) int {
	for i, f := range ix.Def.Fields {
		desc := f.Direction == Desc
		if filter.SortLess(a[i], b[i], desc) {
			return -1
		}
		if filter.SortLess(b[i], a[i], desc) {
			return 1
		}
	}
	return 0
}

func (ix *Index) less(e1, e2 entry) bool {
	c := ix.compareKeys(e1.key, e2.key)
	if c != 0 {
		return c < 0
	}
	return e1.docID < e2.docID
}

func (ix *Index) insertEntry(e entry) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return !ix.less(ix.entries[i], e)
	})
	ix.entries = append(ix.entries, entry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = e
}

func (ix *Index) removeDoc(docID string) {
	for i, ent := range ix.entries {
		if ent.docID == docID {
			ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
			return
		}
	}
}

// hasCollision reports whether key collides with an existing entry for a
// document other than excludeDocID. Used to enforce uniqueness.
func (ix *Index) hasCollision(key []any, excludeDocID string) bool {
	for _, ent := range ix.entries {
		if ent.docID == excludeDocID {
			continue
		}
		if ix.compareKeys(ent.key, key) == 0 && !anyMissing(key) {
			return true
		}
	}
	return false
}

func anyMissing(key []any) bool {
	for _, v := range key {
		if filter.IsMissing(v) {
			return true
		}
	}
	return false
}

// ScanAll returns every doc id currently in the index, in index order.
func (ix *Index) ScanAll() []string {
	ids := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		ids[i] = e.docID
	}
	return ids
}

// ScanEqual returns the doc ids whose key tuple's leading fields equal the
// given prefix values, in index order (a prefix scan when len(values) <
// len(Def.Fields), an equality scan when they match exactly).
func (ix *Index) ScanEqual(values []any) []string {
	var ids []string
	for _, e := range ix.entries {
		if prefixEqual(e.key, values, ix.Def.Fields) {
			ids = append(ids, e.docID)
		}
	}
	return ids
}

func prefixEqual(key []any, values []any, fields []FieldSpec) bool {
	if len(values) > len(key) {
		return false
	}
	for i, v := range values {
		if !filter.DeepEqual(key[i], v) {
			return false
		}
		_ = fields
	}
	return true
}
