// Package collection implements the write path (component H): the single
// choke point every insert/update/replace/delete goes through, so schema
// validation, indexing, revisioning, and change-event emission stay
// consistent regardless of caller.
package collection

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/query"
	"github.com/riftdb/riftdb/schema"
	"github.com/riftdb/riftdb/storage"
)

// Collection is one named document collection: a storage.DocumentStore
// fronted by optional schema validation and a hook chain.
type Collection struct {
	Name string

	store  storage.DocumentStore
	schema *schema.Schema
	seq    *document.SequenceGenerator

	mu sync.Mutex // serializes the write pipeline for this collection

	hooks struct {
		insert, update, delete hookSet
	}
}

// Options configures a new Collection.
type Options struct {
	Schema *schema.Schema
	// NodeID seeds the revision counter's sequence generator; distinct
	// collections sharing a process should use distinct node ids to keep
	// revision counters from colliding under concurrent writers.
	NodeID int64
}

// New returns a Collection backed by store.
func New(name string, store storage.DocumentStore, opts Options) (*Collection, error) {
	gen, err := document.NewSequenceGenerator(opts.NodeID)
	if err != nil {
		return nil, err
	}
	return &Collection{Name: name, store: store, schema: opts.Schema, seq: gen}, nil
}

// BeforeInsert/BeforeUpdate/BeforeDelete register a before-write hook.
// AfterInsert/AfterUpdate/AfterDelete register an after-write hook.
func (c *Collection) BeforeInsert(fn BeforeHook, priority int) { c.hooks.insert.addBefore(fn, priority) }
func (c *Collection) BeforeUpdate(fn BeforeHook, priority int) { c.hooks.update.addBefore(fn, priority) }
func (c *Collection) BeforeDelete(fn BeforeHook, priority int) { c.hooks.delete.addBefore(fn, priority) }
func (c *Collection) AfterInsert(fn AfterHook, priority int)   { c.hooks.insert.addAfter(fn, priority) }
func (c *Collection) AfterUpdate(fn AfterHook, priority int)   { c.hooks.update.addAfter(fn, priority) }
func (c *Collection) AfterDelete(fn AfterHook, priority int)   { c.hooks.delete.addAfter(fn, priority) }

// Insert validates and writes a new document, assigning an id if absent.
func (c *Collection) Insert(ctx context.Context, doc document.Document) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prepared := doc.Clone()
	if prepared.ID() == "" {
		prepared[document.FieldID] = uuid.NewString()
	}
	if c.schema != nil {
		prepared = c.schema.ApplyDefaults(prepared)
	}

	prepared, err := c.hooks.insert.runBefore(ctx, prepared)
	if err != nil {
		return nil, err
	}

	if c.schema != nil {
		if res := c.schema.Validate(prepared); !res.OK() {
			return nil, res.AsError()
		}
	}

	prepared[document.FieldUpdatedAt] = document.NowMillis()
	prepared[document.FieldRev] = document.NewRevision(c.seq.Next(), prepared)

	if err := c.store.Put(ctx, prepared); err != nil {
		return nil, err
	}

	c.hooks.insert.runAfter(ctx, prepared, nil)
	return prepared, nil
}

// InsertMany inserts every document, stopping at the first failure; any
// documents inserted before the failure remain committed (there is no
// whole-batch rollback, matching the per-document write pipeline).
func (c *Collection) InsertMany(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	out := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		inserted, err := c.Insert(ctx, d)
		if err != nil {
			return out, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

// Update merges patch's top-level fields into the existing document,
// validates, revisions, and commits the result.
func (c *Collection) Update(ctx context.Context, id string, patch document.Document) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := existing.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	merged[document.FieldID] = id

	return c.commitWrite(ctx, existing, merged, &c.hooks.update)
}

// UpdateSection re-applies patch only if the document's revision has not
// moved since readRev was observed, an optimistic-concurrency variant
// generalized from the teacher's section-scoped UpdateSection/EditOptions
// pattern: a caller that read one revision and computed a targeted patch
// can commit it without re-reading, and gets errs.ErrConflict instead of a
// silent lost update if someone else wrote in between.
func (c *Collection) UpdateSection(ctx context.Context, id string, readRev string, patch document.Document) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Rev() != readRev {
		return nil, &errs.ConflictError{DocID: id, ServerRev: existing.Rev(), LocalRev: readRev}
	}

	merged := existing.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	merged[document.FieldID] = id

	return c.commitWrite(ctx, existing, merged, &c.hooks.update)
}

// Replace overwrites the document at id entirely (defaults are re-applied,
// as for an insert).
func (c *Collection) Replace(ctx context.Context, id string, doc document.Document) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	replacement := doc.Clone()
	replacement[document.FieldID] = id
	if c.schema != nil {
		replacement = c.schema.ApplyDefaults(replacement)
	}

	return c.commitWrite(ctx, existing, replacement, &c.hooks.update)
}

func (c *Collection) commitWrite(ctx context.Context, existing, next document.Document, hooks *hookSet) (document.Document, error) {
	next, err := hooks.runBefore(ctx, next)
	if err != nil {
		return nil, err
	}

	if c.schema != nil {
		if res := c.schema.Validate(next); !res.OK() {
			return nil, res.AsError()
		}
	}

	next[document.FieldUpdatedAt] = document.NowMillis()
	next[document.FieldRev] = document.NewRevision(c.seq.Next(), next)

	if err := c.store.Put(ctx, next); err != nil {
		return nil, err
	}

	hooks.runAfter(ctx, next, existing)
	return next, nil
}

// Delete writes a tombstone for id: the document is retained (per the data
// model's tombstone-until-compaction rule) with deleted=true rather than
// physically removed.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.getLocked(ctx, id)
	if err != nil {
		return err
	}

	tombstone, err := c.hooks.delete.runBefore(ctx, existing.Clone())
	if err != nil {
		return err
	}
	tombstone[document.FieldID] = id
	tombstone[document.FieldDeleted] = true
	tombstone[document.FieldUpdatedAt] = document.NowMillis()
	tombstone[document.FieldRev] = document.NewRevision(c.seq.Next(), tombstone)

	if err := c.store.Put(ctx, tombstone); err != nil {
		return err
	}

	c.hooks.delete.runAfter(ctx, tombstone, existing)
	return nil
}

// Get returns the live (non-tombstoned) document for id.
func (c *Collection) Get(ctx context.Context, id string) (document.Document, error) {
	return c.getLocked(ctx, id)
}

// getLocked performs the read shared by Get and the write-path pre-reads;
// it does not itself acquire c.mu since every write-path caller already
// holds it.
func (c *Collection) getLocked(ctx context.Context, id string) (document.Document, error) {
	doc, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, &errs.NotFoundError{Collection: c.Name, ID: id}
	}
	return doc, nil
}

// Find runs a query against the collection via the planner/executor.
func (c *Collection) Find(ctx context.Context, opts query.Options) (*query.Result, error) {
	stats, err := storeSize(ctx, c.store)
	if err != nil {
		return nil, err
	}
	plan := query.Plan(opts.Filter, opts.Sort, opts.Skip, opts.Limit, c.store.Indexes(), stats)
	return query.Execute(ctx, c.store, plan, opts)
}

// Count returns the number of live documents matching expr (nil matches
// every live document).
func (c *Collection) Count(ctx context.Context, expr filter.Expr) (int, error) {
	res, err := c.Find(ctx, query.Options{Filter: expr})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// ApplyRemoteChange applies a change event received from replication. It
// bypasses the before/after hook chains (those express local write-path
// policy, e.g. request-scoped authorization, that doesn't apply to a
// change the server has already accepted) but still goes through
// PutFromSync so the document store's own unique-index bookkeeping stays
// correct and local subscribers observe FromSync=true.
func (c *Collection) ApplyRemoteChange(ctx context.Context, ev document.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Document == nil {
		return &errs.InternalError{Description: "remote change event missing document"}
	}
	return c.store.PutFromSync(ctx, ev.Document)
}

// Changes exposes the collection's underlying change feed for reactive
// subscribers and the replication engine.
func (c *Collection) Changes(ctx context.Context, afterSeq uint64) (<-chan document.ChangeEvent, error) {
	return c.store.Changes(ctx, afterSeq)
}

// History returns every committed change with seq > afterSeq as a bounded
// slice, used by the replication engine's push path to read pending local
// changes without holding a live subscription open.
func (c *Collection) History(ctx context.Context, afterSeq uint64) ([]document.ChangeEvent, error) {
	return c.store.History(ctx, afterSeq)
}

// CreateIndex/DropIndex/Indexes delegate to the backing store.
func (c *Collection) CreateIndex(def index.Definition) error { return c.store.CreateIndex(def) }
func (c *Collection) DropIndex(name string) error             { return c.store.DropIndex(name) }
func (c *Collection) Indexes() []index.Definition             { return c.store.Indexes() }

func storeSize(ctx context.Context, store storage.DocumentStore) (int, error) {
	docs, err := store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
