// Package badgerstore is the durable storage.Adapter, backed by BadgerDB —
// the embedded KV engine the teacher's nodestorage/v2/cache package used
// for its persistent cache tier. Here it is the primary durable store, not
// a cache: every "store" (one per collection) is a key prefix within a
// single shared *badger.DB, so one badger transaction spans any set of
// named stores atomically for free.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/internal/rlog"
	"github.com/riftdb/riftdb/storage"

	"go.uber.org/zap"
)

const (
	docPrefix = "d:"
	hisPrefix = "h:"
	idxPrefix = "x:"
)

func docKey(store, id string) []byte  { return []byte(fmt.Sprintf("%s%s:%s", docPrefix, store, id)) }
func docScan(store string) []byte     { return []byte(fmt.Sprintf("%s%s:", docPrefix, store)) }
func hisKey(store string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", hisPrefix, store, seq))
}
func hisScan(store string) []byte { return []byte(fmt.Sprintf("%s%s:", hisPrefix, store)) }
func idxKey(store, name string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxPrefix, store, name))
}
func idxScan(store string) []byte { return []byte(fmt.Sprintf("%s%s:", idxPrefix, store)) }

// Adapter is the BadgerDB-backed storage.Adapter.
type Adapter struct {
	mu     sync.Mutex
	db     *badger.DB
	stores map[string]*store
	nodeID int64
}

// New returns an uninitialized adapter; call Initialize before use.
func New(nodeID int64) *Adapter {
	return &Adapter{stores: make(map[string]*store), nodeID: nodeID}
}

func (a *Adapter) Initialize(ctx context.Context, config storage.Config) error {
	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return &errs.InternalError{Description: "opening badger store: " + err.Error()}
	}
	a.db = db
	return nil
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) GetStore(name string) (storage.DocumentStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stores[name]; ok {
		return s, nil
	}
	s, err := a.openStore(name)
	if err != nil {
		return nil, err
	}
	a.stores[name] = s
	return s, nil
}

func (a *Adapter) openStore(name string) (*store, error) {
	gen, err := document.NewSequenceGenerator(a.nodeID)
	if err != nil {
		gen, _ = document.NewSequenceGenerator(0)
	}
	s := &store{
		name:  name,
		db:    a.db,
		idx:   index.NewManager(),
		seq:   gen,
		subs:  make(map[int]chan document.ChangeEvent),
		nodeID: a.nodeID,
	}

	var defs []index.Definition
	err = a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := idxScan(name)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var def index.Definition
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &def) }); err != nil {
				return err
			}
			defs = append(defs, def)
		}
		return nil
	})
	if err != nil {
		return nil, &errs.InternalError{Description: "loading index definitions: " + err.Error()}
	}
	for _, def := range defs {
		_ = s.idx.Create(def)
	}
	docs, err := s.GetAll(context.Background())
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		_ = s.idx.Rebuild(def.Name, docs)
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
	delete(a.stores, name)
	a.mu.Unlock()
	return a.db.DropPrefix(docScan(name), hisScan(name), idxScan(name))
}

// Transaction runs fn within a single badger transaction spanning every
// named store, so the underlying writes either all land or none do. Each
// store buffers its in-memory index and change-feed updates until the
// badger transaction itself has committed successfully.
func (a *Adapter) Transaction(ctx context.Context, storeNames []string, mode storage.Mode, fn func(tx storage.Tx) error) error {
	a.mu.Lock()
	stores := make(map[string]*store, len(storeNames))
	for _, name := range storeNames {
		s, ok := a.stores[name]
		if !ok {
			var err error
			s, err = a.openStore(name)
			if err != nil {
				a.mu.Unlock()
				return err
			}
			a.stores[name] = s
		}
		stores[name] = s
	}
	a.mu.Unlock()

	update := a.db.Update
	if mode == storage.ReadOnly {
		update = func(f func(*badger.Txn) error) error { return a.db.View(f) }
	}

	tx := &txn{btxn: nil, stores: stores}
	err := update(func(btxn *badger.Txn) error {
		tx.btxn = btxn
		return fn(tx)
	})
	if err != nil {
		return err
	}
	for _, post := range tx.postCommit {
		post()
	}
	return nil
}

func (a *Adapter) Stats(ctx context.Context) (storage.Stats, error) {
	a.mu.Lock()
	names := make([]string, 0, len(a.stores))
	for n := range a.stores {
		names = append(names, n)
	}
	a.mu.Unlock()

	stats := storage.Stats{StoreCount: len(names)}
	for _, n := range names {
		s, _ := a.GetStore(n)
		docs, err := s.GetAll(context.Background())
		if err != nil {
			return stats, err
		}
		stats.DocumentCount += len(docs)
	}
	return stats, nil
}

type txn struct {
	btxn       *badger.Txn
	stores     map[string]*store
	postCommit []func()
}

func (t *txn) Store(name string) (storage.DocumentStore, error) {
	s, ok := t.stores[name]
	if !ok {
		return nil, &errs.InternalError{Description: "store " + name + " not named in transaction"}
	}
	return &txStore{store: s, tx: t}, nil
}

// txStore performs writes against the shared badger.Txn and defers
// in-memory index/change-feed updates to txn.postCommit.
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
	prior, err := s.store.getWithin(s.tx.btxn, doc.ID())
	if err != nil {
		if _, ok := err.(*errs.NotFoundError); !ok {
			return err
		}
		prior = nil
	}
	if cerr := s.store.idx.CheckUnique(doc); cerr != nil {
		return cerr
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &errs.InternalError{Description: "marshaling document: " + err.Error()}
	}
	if err := s.tx.btxn.Set(docKey(s.store.name, doc.ID()), raw); err != nil {
		return &errs.InternalError{Description: "writing document: " + err.Error()}
	}
	ev := s.store.buildChangeEvent(prior, doc)
	ev.FromSync = fromSync
	s.tx.postCommit = append(s.tx.postCommit, func() {
		s.store.applyCommitted(prior, doc, ev)
	})
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
	prior, err := s.store.getWithin(s.tx.btxn, id)
	if err != nil {
		return &errs.NotFoundError{Collection: s.store.name, ID: id}
	}
	if err := s.tx.btxn.Delete(docKey(s.store.name, id)); err != nil {
		return &errs.InternalError{Description: "deleting document: " + err.Error()}
	}
	ev := document.ChangeEvent{Op: document.OpDelete, DocID: id, PreviousDocument: prior}
	s.tx.postCommit = append(s.tx.postCommit, func() {
		s.store.applyHardDeleteCommitted(prior, ev)
	})
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

// store is one durable document collection within the shared badger.DB.
type store struct {
	name   string
	db     *badger.DB
	nodeID int64

	mu   sync.RWMutex
	idx  *index.Manager
	seq  *document.SequenceGenerator

	subs    map[int]chan document.ChangeEvent
	nextSub int
}

func (s *store) buildChangeEvent(prior, next document.Document) document.ChangeEvent {
	op := document.OpInsert
	switch {
	case prior == nil:
		if next.Deleted() {
			op = document.OpDelete
		}
	case next.Deleted() && !prior.Deleted():
		op = document.OpDelete
	default:
		op = document.OpUpdate
	}
	var diff *document.Diff
	if op == document.OpUpdate {
		if d, err := document.DiffDocuments(prior, next); err == nil {
			diff = d
		}
	}
	return document.ChangeEvent{
		Op:               op,
		DocID:            next.ID(),
		Document:         next,
		PreviousDocument: prior,
		Timestamp:        document.NowMillis(),
		Diff:             diff,
	}
}

func (s *store) applyCommitted(prior, next document.Document, ev document.ChangeEvent) {
	s.mu.Lock()
	s.idx.Apply(prior, next)
	ev.Seq = uint64(s.seq.Next())
	s.persistHistory(ev)
	subs := s.subSnapshot()
	s.mu.Unlock()
	s.broadcast(subs, ev)
}

func (s *store) applyHardDeleteCommitted(prior document.Document, ev document.ChangeEvent) {
	s.mu.Lock()
	s.idx.Apply(prior, nil)
	ev.Seq = uint64(s.seq.Next())
	s.persistHistory(ev)
	subs := s.subSnapshot()
	s.mu.Unlock()
	s.broadcast(subs, ev)
}

func (s *store) persistHistory(ev document.ChangeEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		rlog.Warn("failed to marshal change event for history", zap.Error(err))
		return
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(hisKey(s.name, ev.Seq), raw)
	}); err != nil {
		rlog.Warn("failed to persist change history", zap.Error(err))
	}
}

func (s *store) subSnapshot() []chan document.ChangeEvent {
	subs := make([]chan document.ChangeEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	return subs
}

func (s *store) broadcast(subs []chan document.ChangeEvent, ev document.ChangeEvent) {
	for _, ch := range subs {
		select {
		case ch <- ev.Clone():
		default:
			rlog.Warn("dropping change event for slow subscriber", zap.String("store", s.name))
		}
	}
}

func (s *store) getWithin(btxn *badger.Txn, id string) (document.Document, error) {
	item, err := btxn.Get(docKey(s.name, id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &errs.NotFoundError{Collection: s.name, ID: id}
		}
		return nil, &errs.InternalError{Description: "reading document: " + err.Error()}
	}
	var doc document.Document
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
		return nil, &errs.InternalError{Description: "decoding document: " + err.Error()}
	}
	return doc, nil
}

func (s *store) Get(ctx context.Context, id string) (document.Document, error) {
	var doc document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		d, err := s.getWithin(txn, id)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

func (s *store) GetMany(ctx context.Context, ids []string) ([]document.Document, error) {
	out := make([]document.Document, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			d, err := s.getWithin(txn, id)
			if err != nil {
				if _, ok := err.(*errs.NotFoundError); ok {
					continue
				}
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func (s *store) GetAll(ctx context.Context) ([]document.Document, error) {
	var out []document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := docScan(s.name)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc document.Document
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
				return err
			}
			out = append(out, doc)
		}
		return nil
	})
	return out, err
}

func (s *store) withSingleTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return (&Adapter{db: s.db, stores: map[string]*store{s.name: s}, nodeID: s.nodeID}).Transaction(ctx, []string{s.name}, storage.ReadWrite, fn)
}

func (s *store) Put(ctx context.Context, doc document.Document) error {
	return s.withSingleTx(ctx, func(tx storage.Tx) error {
		ts, err := tx.Store(s.name)
		if err != nil {
			return err
		}
		return ts.Put(ctx, doc)
	})
}

func (s *store) PutFromSync(ctx context.Context, doc document.Document) error {
	return s.withSingleTx(ctx, func(tx storage.Tx) error {
		ts, err := tx.Store(s.name)
		if err != nil {
			return err
		}
		return ts.PutFromSync(ctx, doc)
	})
}

func (s *store) BulkPut(ctx context.Context, docs []document.Document) error {
	return s.withSingleTx(ctx, func(tx storage.Tx) error {
		ts, err := tx.Store(s.name)
		if err != nil {
			return err
		}
		return ts.BulkPut(ctx, docs)
	})
}

// Delete performs a hard delete, removing the document and its index
// entries outright. As with memstore, the collection write path produces
// tombstones via Put for a user-facing delete; this exists for compaction
// and standalone adapter use.
func (s *store) Delete(ctx context.Context, id string) error {
	return s.withSingleTx(ctx, func(tx storage.Tx) error {
		ts, err := tx.Store(s.name)
		if err != nil {
			return err
		}
		return ts.Delete(ctx, id)
	})
}

func (s *store) BulkDelete(ctx context.Context, ids []string) error {
	return s.withSingleTx(ctx, func(tx storage.Tx) error {
		ts, err := tx.Store(s.name)
		if err != nil {
			return err
		}
		return ts.BulkDelete(ctx, ids)
	})
}

func (s *store) CreateIndex(def index.Definition) error {
	s.mu.Lock()
	if err := s.idx.Create(def); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	raw, err := json.Marshal(def)
	if err != nil {
		return &errs.InternalError{Description: "marshaling index definition: " + err.Error()}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(idxKey(s.name, def.Name), raw)
	}); err != nil {
		return &errs.InternalError{Description: "persisting index definition: " + err.Error()}
	}

	docs, err := s.GetAll(context.Background())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Rebuild(def.Name, docs)
}

func (s *store) DropIndex(name string) error {
	s.mu.Lock()
	if err := s.idx.Drop(name); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(idxKey(s.name, name))
	})
}

func (s *store) Indexes() []index.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Definitions()
}

func (s *store) IndexManager() *index.Manager { return s.idx }

func (s *store) History(ctx context.Context, afterSeq uint64) ([]document.ChangeEvent, error) {
	var backlog []document.ChangeEvent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := hisScan(s.name)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev document.ChangeEvent
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &ev) }); err != nil {
				return err
			}
			if ev.Seq > afterSeq {
				backlog = append(backlog, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &errs.InternalError{Description: "replaying change history: " + err.Error()}
	}
	return backlog, nil
}

func (s *store) Changes(ctx context.Context, afterSeq uint64) (<-chan document.ChangeEvent, error) {
	out := make(chan document.ChangeEvent, 64)

	backlog, err := s.History(ctx, afterSeq)
	if err != nil {
		return nil, err
	}

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
	if err := s.db.DropPrefix(docScan(s.name), hisScan(s.name)); err != nil {
		return &errs.InternalError{Description: "clearing store: " + err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range s.idx.Definitions() {
		_ = s.idx.Rebuild(def.Name, nil)
	}
	return nil
}
