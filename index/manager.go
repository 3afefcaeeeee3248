package index

import (
	"sync"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

// Manager owns the set of indexes declared on one collection and keeps
// their entries consistent with the collection's documents.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager returns an empty index manager.
func NewManager() *Manager {
	return &Manager{indexes: make(map[string]*Index)}
}

// Create declares a new index. Rebuilding its entries from existing
// documents is the caller's responsibility (via Rebuild), matching the
// storage contract's "indexes... rebuilt on backing-store open if missing".
func (m *Manager) Create(def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[def.Name]; exists {
		return &errs.InternalError{Description: "index " + def.Name + " already exists"}
	}
	m.indexes[def.Name] = newIndex(def)
	return nil
}

// Drop removes an index definition and its entries.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[name]; !exists {
		return &errs.InternalError{Description: "index " + name + " does not exist"}
	}
	delete(m.indexes, name)
	return nil
}

// Get returns the named index.
func (m *Manager) Get(name string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix, ok := m.indexes[name]
	return ix, ok
}

// Definitions returns every declared index definition.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]Definition, 0, len(m.indexes))
	for _, ix := range m.indexes {
		defs = append(defs, ix.Def)
	}
	return defs
}

// CheckUnique reports the first unique index that newDoc's key tuple would
// collide with, excluding the document's own prior entry (so updates that
// don't change the unique field succeed). Returns nil when there is no
// collision.
func (m *Manager) CheckUnique(newDoc document.Document) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ix := range m.indexes {
		if !ix.Def.Unique {
			continue
		}
		key := ix.KeyTuple(newDoc)
		if ix.hasCollision(key, newDoc.ID()) {
			return &errs.UniqueConstraintError{Index: ix.Def.Name, Values: key}
		}
	}
	return nil
}

// Apply removes oldDoc's entries (if not nil) and inserts newDoc's entries
// (if not nil) across every index, atomically with respect to other Manager
// calls. Callers must run CheckUnique first within the same write's
// transaction boundary; Apply itself does not re-check uniqueness, since by
// the time it runs the storage write has already been validated to
// succeed.
func (m *Manager) Apply(oldDoc, newDoc document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ix := range m.indexes {
		if oldDoc != nil {
			ix.removeDoc(oldDoc.ID())
		}
		if newDoc != nil {
			ix.insertEntry(entry{key: ix.KeyTuple(newDoc), docID: newDoc.ID()})
		}
	}
}

// Rebuild discards and recomputes one index's entries from the full
// document set, used when a backing store reopens and finds the index
// definition but no persisted entries.
func (m *Manager) Rebuild(name string, docs []document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix, ok := m.indexes[name]
	if !ok {
		return &errs.InternalError{Description: "index " + name + " does not exist"}
	}
	ix.entries = ix.entries[:0]
	for _, doc := range docs {
		if doc.Deleted() {
			continue
		}
		ix.insertEntry(entry{key: ix.KeyTuple(doc), docID: doc.ID()})
	}
	return nil
}
