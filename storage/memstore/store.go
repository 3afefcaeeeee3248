// Package memstore is the in-memory storage.Adapter, used for tests and
// ephemeral (non-durable) databases. It mirrors the shape of the teacher's
// cache.MemoryCache but stores full documents rather than a cache tier in
// front of another store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/internal/rlog"
	"github.com/riftdb/riftdb/storage"

	"go.uber.org/zap"
)

// Adapter is the in-memory storage.Adapter implementation.
type Adapter struct {
	mu     sync.Mutex
	stores map[string]*store
	nodeID int64
}

// New returns an empty in-memory adapter. nodeID seeds the per-store
// sequence generators (see document.SequenceGenerator); distinct adapters
// in the same process should use distinct node ids.
func New(nodeID int64) *Adapter {
	return &Adapter{stores: make(map[string]*store), nodeID: nodeID}
}

func (a *Adapter) Initialize(ctx context.Context, config storage.Config) error {
	return nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) GetStore(name string) (storage.DocumentStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stores[name]
	if !ok {
		s = newStore(name, a.nodeID)
		a.stores[name] = s
	}
	return s, nil
}

func (a *Adapter) HasStore(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.stores[name]
	return ok
}

func (a *Adapter) ListStores() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.stores))
	for n := range a.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *Adapter) DeleteStore(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stores, name)
	return nil
}

// Transaction locks every named store (in sorted order, to avoid lock-order
// deadlocks between concurrent transactions naming overlapping store sets)
// for the duration of fn, buffering writes so an error rolls back cleanly.
func (a *Adapter) Transaction(ctx context.Context, storeNames []string, mode storage.Mode, fn func(tx storage.Tx) error) error {
	sorted := append([]string(nil), storeNames...)
	sort.Strings(sorted)

	stores := make(map[string]*store, len(sorted))
	for _, name := range sorted {
		s, err := a.GetStore(name)
		if err != nil {
			return err
		}
		stores[name] = s.(*store)
	}
	for _, name := range sorted {
		stores[name].mu.Lock()
	}
	defer func() {
		for _, name := range sorted {
			stores[name].mu.Unlock()
		}
	}()

	tx := &txn{stores: stores}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (a *Adapter) Stats(ctx context.Context) (storage.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := storage.Stats{StoreCount: len(a.stores)}
	for _, s := range a.stores {
		s.mu.RLock()
		stats.DocumentCount += len(s.docs)
		s.mu.RUnlock()
	}
	return stats, nil
}

// txn buffers pending mutations per store and applies them only on commit,
// so a failing write function leaves every participating store unchanged.
type txn struct {
	stores  map[string]*store
	pending []func()
}

func (t *txn) Store(name string) (storage.DocumentStore, error) {
	s, ok := t.stores[name]
	if !ok {
		return nil, &errs.InternalError{Description: "store " + name + " not named in transaction"}
	}
	return &txStore{store: s, tx: t}, nil
}

func (t *txn) commit() {
	for _, fn := range t.pending {
		fn()
	}
}

func (t *txn) rollback() {
	t.pending = nil
}

// txStore wraps a store so writes issued during a transaction are deferred
// until the transaction function returns successfully. Reads pass through
// directly (already-committed state) since memstore transactions are
// single-writer already under the held mutex.
type txStore struct {
	*store
	tx *txn
}

func (s *txStore) Put(ctx context.Context, doc document.Document) error {
	return s.put(doc, false)
}

func (s *txStore) PutFromSync(ctx context.Context, doc document.Document) error {
	return s.put(doc, true)
}

func (s *txStore) put(doc document.Document, fromSync bool) error {
	prepared, err := s.store.prepare(doc, fromSync)
	if err != nil {
		return err
	}
	s.tx.pending = append(s.tx.pending, func() { s.store.commitPut(prepared) })
	return nil
}

func (s *txStore) BulkPut(ctx context.Context, docs []document.Document) error {
	for _, d := range docs {
		if err := s.Put(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStore) Delete(ctx context.Context, id string) error {
	prepared, err := s.store.prepareHardDelete(id)
	if err != nil {
		return err
	}
	s.tx.pending = append(s.tx.pending, func() { s.store.commitHardDelete(prepared) })
	return nil
}

func (s *txStore) BulkDelete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// store is one in-memory document collection, with its own documents,
// index manager, sequence generator, and change-feed log.
type store struct {
	name string
	mu   sync.RWMutex

	docs map[string]document.Document
	idx  *index.Manager
	seq  *document.SequenceGenerator

	history []document.ChangeEvent
	subs    map[int]chan document.ChangeEvent
	nextSub int
}

func newStore(name string, nodeID int64) *store {
	gen, err := document.NewSequenceGenerator(nodeID)
	if err != nil {
		// A bad node id (out of snowflake's 10-bit range) is a caller
		// programming error; node 0 always succeeds, so fall back to it
		// rather than propagating a constructor error everywhere.
		gen, _ = document.NewSequenceGenerator(0)
	}
	return &store{
		name: name,
		docs: make(map[string]document.Document),
		idx:  index.NewManager(),
		seq:  gen,
		subs: make(map[int]chan document.ChangeEvent),
	}
}

type preparedPut struct {
	prior document.Document
	next  document.Document
	event document.ChangeEvent
}

func (s *store) prepare(doc document.Document, fromSync bool) (*preparedPut, error) {
	s.mu.RLock()
	prior := s.docs[doc.ID()]
	s.mu.RUnlock()

	if err := s.idx.CheckUnique(doc); err != nil {
		return nil, err
	}

	op := document.OpInsert
	switch {
	case prior == nil:
		if doc.Deleted() {
			op = document.OpDelete
		}
	case doc.Deleted() && !prior.Deleted():
		op = document.OpDelete
	default:
		op = document.OpUpdate
	}

	var diff *document.Diff
	if op == document.OpUpdate {
		d, err := document.DiffDocuments(prior, doc)
		if err == nil {
			diff = d
		}
	}

	return &preparedPut{
		prior: prior,
		next:  doc,
		event: document.ChangeEvent{
			Op:               op,
			DocID:            doc.ID(),
			Document:         doc,
			PreviousDocument: prior,
			FromSync:         fromSync,
			Timestamp:        document.NowMillis(),
			Diff:             diff,
		},
	}, nil
}

func (s *store) commitPut(p *preparedPut) {
	s.mu.Lock()
	s.idx.Apply(p.prior, p.next)
	s.docs[p.next.ID()] = p.next
	p.event.Seq = uint64(s.seq.Next())
	s.history = append(s.history, p.event)
	subs := make([]chan document.ChangeEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p.event.Clone():
		default:
			rlog.Warn("dropping change event for slow subscriber", zap.String("store", s.name))
		}
	}
}

type preparedDelete struct {
	doc   document.Document
	event document.ChangeEvent
}

func (s *store) prepareHardDelete(id string) (*preparedDelete, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &errs.NotFoundError{Collection: s.name, ID: id}
	}
	return &preparedDelete{
		doc: doc,
		event: document.ChangeEvent{
			Op:               document.OpDelete,
			DocID:            id,
			PreviousDocument: doc,
			Timestamp:        document.NowMillis(),
		},
	}, nil
}

func (s *store) commitHardDelete(p *preparedDelete) {
	s.mu.Lock()
	s.idx.Apply(p.doc, nil)
	delete(s.docs, p.doc.ID())
	p.event.Seq = uint64(s.seq.Next())
	s.history = append(s.history, p.event)
	subs := make([]chan document.ChangeEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p.event.Clone():
		default:
		}
	}
}

func (s *store) Get(ctx context.Context, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, &errs.NotFoundError{Collection: s.name, ID: id}
	}
	return doc.Clone(), nil
}

func (s *store) GetMany(ctx context.Context, ids []string) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *store) GetAll(ctx context.Context) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (s *store) Put(ctx context.Context, doc document.Document) error {
	return s.put(doc, false)
}

func (s *store) PutFromSync(ctx context.Context, doc document.Document) error {
	return s.put(doc, true)
}

func (s *store) put(doc document.Document, fromSync bool) error {
	p, err := s.prepare(doc, fromSync)
	if err != nil {
		return err
	}
	s.commitPut(p)
	return nil
}

func (s *store) BulkPut(ctx context.Context, docs []document.Document) error {
	for _, d := range docs {
		if err := s.Put(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Delete performs a hard delete: the document and its index entries are
// removed outright. The collection write path does not call this for a
// user-facing delete (that produces a tombstone via Put, per the "writes
// are replace-after-merge" lifecycle rule); Delete exists for compaction
// and for adapters/tests that want to reclaim space immediately.
func (s *store) Delete(ctx context.Context, id string) error {
	p, err := s.prepareHardDelete(id)
	if err != nil {
		return err
	}
	s.commitHardDelete(p)
	return nil
}

func (s *store) BulkDelete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) CreateIndex(def index.Definition) error {
	if err := s.idx.Create(def); err != nil {
		return err
	}
	docs, _ := s.GetAll(context.Background())
	return s.idx.Rebuild(def.Name, docs)
}

func (s *store) DropIndex(name string) error { return s.idx.Drop(name) }

func (s *store) Indexes() []index.Definition { return s.idx.Definitions() }

func (s *store) IndexManager() *index.Manager { return s.idx }

func (s *store) History(ctx context.Context, afterSeq uint64) ([]document.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.ChangeEvent, 0, len(s.history))
	for _, ev := range s.history {
		if ev.Seq > afterSeq {
			out = append(out, ev.Clone())
		}
	}
	return out, nil
}

func (s *store) Changes(ctx context.Context, afterSeq uint64) (<-chan document.ChangeEvent, error) {
	out := make(chan document.ChangeEvent, 64)

	backlog, _ := s.History(ctx, afterSeq)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	live := make(chan document.ChangeEvent, 64)
	s.subs[id] = live
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		for _, ev := range backlog {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case ev := <-live:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]document.Document)
	s.idx = index.NewManager()
	return nil
}
