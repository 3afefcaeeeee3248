// Package riftdb is the embedded, local-first document database engine's
// public entry point: Open a Database, get named Collections off it,
// subscribe to change events, and start/stop multi-device replication.
package riftdb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/riftdb/riftdb/collection"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/internal/rlog"
	"github.com/riftdb/riftdb/replication"
	"github.com/riftdb/riftdb/replication/wire"
	"github.com/riftdb/riftdb/schema"
	"github.com/riftdb/riftdb/storage"
)

// CollectionConfig declares one collection's shape at open time.
type CollectionConfig struct {
	Name   string
	Schema *schema.Schema
	// NodeID seeds this collection's revision-counter sequence
	// generator; leave zero to let Config.NodeID (the database-wide
	// default) apply.
	NodeID int64
}

// Config configures Open.
type Config struct {
	Adapter     storage.Adapter
	StorageConf storage.Config
	Collections []CollectionConfig
	// NodeID is the database-wide default for collections that don't
	// specify their own, and for the replication engine's peer identity.
	NodeID int64
}

// Database is the top-level façade: every collection, the change-event
// broadcast, and the optional replication engine live under it.
type Database struct {
	adapter storage.Adapter
	nodeID  int64

	mu          sync.Mutex
	collections map[string]*collection.Collection

	repl *replication.Engine
}

// Open initializes the storage adapter and every declared collection.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("riftdb: Config.Adapter is required")
	}
	if err := cfg.Adapter.Initialize(ctx, cfg.StorageConf); err != nil {
		return nil, err
	}

	db := &Database{adapter: cfg.Adapter, nodeID: cfg.NodeID, collections: make(map[string]*collection.Collection)}

	for _, cc := range cfg.Collections {
		if _, err := db.openCollection(cc); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func (db *Database) openCollection(cc CollectionConfig) (*collection.Collection, error) {
	store, err := db.adapter.GetStore(cc.Name)
	if err != nil {
		return nil, err
	}
	nodeID := cc.NodeID
	if nodeID == 0 {
		nodeID = db.nodeID
	}
	col, err := collection.New(cc.Name, store, collection.Options{Schema: cc.Schema, NodeID: nodeID})
	if err != nil {
		return nil, err
	}
	db.collections[cc.Name] = col
	return col, nil
}

// Collection returns the named collection, opening it on first use against
// the same schema-less default if it wasn't declared at Open time.
func (db *Database) Collection(name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if col, ok := db.collections[name]; ok {
		return col, nil
	}
	return db.openCollection(CollectionConfig{Name: name})
}

// OnChange returns a channel of change events merged across every open
// collection. The channel is closed when ctx is cancelled.
func (db *Database) OnChange(ctx context.Context) (<-chan document.ChangeEvent, error) {
	db.mu.Lock()
	cols := make(map[string]*collection.Collection, len(db.collections))
	for name, col := range db.collections {
		cols[name] = col
	}
	db.mu.Unlock()

	out := make(chan document.ChangeEvent, 64)
	var wg sync.WaitGroup
	for _, col := range cols {
		ch, err := col.Changes(ctx, 0)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(ch <-chan document.ChangeEvent) {
			defer wg.Done()
			for ev := range ch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// SyncConfig configures StartSync.
type SyncConfig struct {
	Transport  replication.Transport
	Bindings   []replication.Binding
	Checkpoint wire.Checkpoint
	Persist    func(wire.Checkpoint) error
}

// StartSync builds and starts a replication engine bound to cfg.Bindings
// (or, if empty, every currently open collection with ServerWins as the
// default conflict strategy). Only one sync session may be active at a
// time; call StopSync before starting another.
func (db *Database) StartSync(ctx context.Context, cfg SyncConfig) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.repl != nil {
		return fmt.Errorf("riftdb: sync already started")
	}

	bindings := cfg.Bindings
	if len(bindings) == 0 {
		for name, col := range db.collections {
			bindings = append(bindings, replication.Binding{Name: name, Collection: col, Strategy: replication.ServerWins})
		}
	}

	db.repl = replication.New(replication.Config{
		NodeID:            fmt.Sprintf("node-%d", db.nodeID),
		Transport:         cfg.Transport,
		Bindings:          bindings,
		Checkpoint:        cfg.Checkpoint,
		PersistCheckpoint: cfg.Persist,
	})
	db.repl.Start(ctx)
	rlog.Info("replication started", zap.Int("bindings", len(bindings)))
	return nil
}

// StopSync stops the replication engine started by StartSync, if any.
func (db *Database) StopSync() {
	db.mu.Lock()
	repl := db.repl
	db.repl = nil
	db.mu.Unlock()

	if repl != nil {
		repl.Stop()
	}
}

// SyncStatus returns the replication engine's current status, or
// (StatusIdle, nil) if sync was never started.
func (db *Database) SyncStatus() (replication.Status, error) {
	db.mu.Lock()
	repl := db.repl
	db.mu.Unlock()

	if repl == nil {
		return replication.StatusIdle, nil
	}
	return repl.Status()
}

// Close releases the underlying storage adapter, stopping replication
// first if it is running.
func (db *Database) Close() error {
	db.StopSync()
	return db.adapter.Close()
}
