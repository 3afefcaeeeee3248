// Package storage defines the pluggable storage adapter contract (component
// C) that the rest of the engine is built against. Two reference adapters
// satisfy it: memstore (in-process, for tests and ephemeral databases) and
// badgerstore (durable, backed by BadgerDB — the same embedded KV engine
// the teacher's nodestorage/v2/cache package used for its persistent cache
// tier, repurposed here as the primary durable store rather than a cache).
package storage

import (
	"context"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/index"
)

// Mode selects whether a Transaction only reads or also writes.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Config carries adapter-specific initialization options. Adapters ignore
// fields they don't understand; Path is the only one every adapter must
// honor (memstore ignores it, badgerstore treats it as the data directory).
type Config struct {
	Path string
}

// Stats summarizes an adapter's stores for diagnostics.
type Stats struct {
	StoreCount    int
	DocumentCount int
}

// Adapter is the top-level storage contract a Database is built on.
type Adapter interface {
	Initialize(ctx context.Context, config Config) error
	Close() error

	GetStore(name string) (DocumentStore, error)
	HasStore(name string) bool
	ListStores() []string
	DeleteStore(name string) error

	// Transaction runs fn with exclusive access to the named stores.
	// If fn returns a non-nil error, every Put/Delete performed through
	// the stores obtained via tx during fn is rolled back and that error
	// is returned; otherwise all of them commit together.
	Transaction(ctx context.Context, stores []string, mode Mode, fn func(tx Tx) error) error

	Stats(ctx context.Context) (Stats, error)
}

// Tx scopes DocumentStore access to one Transaction call.
type Tx interface {
	Store(name string) (DocumentStore, error)
}

// DocumentStore is the per-collection storage surface: CRUD, bulk
// variants, index bookkeeping, and a resumable change feed.
type DocumentStore interface {
	Get(ctx context.Context, id string) (document.Document, error)
	GetMany(ctx context.Context, ids []string) ([]document.Document, error)
	GetAll(ctx context.Context) ([]document.Document, error)

	Put(ctx context.Context, doc document.Document) error
	BulkPut(ctx context.Context, docs []document.Document) error
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) error

	// PutFromSync behaves like Put but tags the resulting change event's
	// FromSync flag, so reactive subscribers and the replication engine
	// itself can distinguish a locally authored write from one applied by
	// Collection.ApplyRemoteChange and avoid re-pushing it.
	PutFromSync(ctx context.Context, doc document.Document) error

	CreateIndex(def index.Definition) error
	DropIndex(name string) error
	Indexes() []index.Definition

	// IndexManager exposes the store's live index manager so the query
	// planner/executor (layered above storage) can use it for index
	// scans without the adapter duplicating filter or planning logic.
	IndexManager() *index.Manager

	// History returns every committed change event with seq > afterSeq, as
	// a bounded slice — the synchronous counterpart to Changes, used by
	// replication's push path to read a batch of pending local changes
	// without holding a live subscription open.
	History(ctx context.Context, afterSeq uint64) ([]document.ChangeEvent, error)

	// Changes returns a channel of change events starting strictly after
	// afterSeq (0 to replay from the beginning). The channel is closed
	// when ctx is cancelled.
	Changes(ctx context.Context, afterSeq uint64) (<-chan document.ChangeEvent, error)

	Clear(ctx context.Context) error
}
