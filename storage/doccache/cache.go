// Package doccache is an optional standalone document cache keyed by
// document id. It holds no reference to a storage.DocumentStore and does
// not load on a miss: callers fill it with Set. Adapted from the teacher's generic
// cache.Cache[T]/MemoryCache[T] (keyed there by a Mongo ObjectID; riftdb
// documents are keyed by their string id instead, so the cache is
// specialized to document.Document rather than kept generic).
package doccache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

// Options configures a Cache's capacity and default TTL.
type Options struct {
	// MaxItems caps the number of cached documents; 0 means unbounded.
	MaxItems int
	// DefaultTTL applies to Set calls that pass ttl <= 0; 0 means no expiry.
	DefaultTTL time.Duration
}

func (o Options) orDefault() Options {
	if o.MaxItems == 0 && o.DefaultTTL == 0 {
		return Options{MaxItems: 10000, DefaultTTL: 5 * time.Minute}
	}
	return o
}

type item struct {
	doc       document.Document
	expiresAt time.Time
	elem      *list.Element
}

// Cache is an in-memory, TTL-aware, size-bounded document cache with
// least-recently-used eviction once MaxItems is reached. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	items   map[string]*item
	lru     *list.List // front = most recently used
	tracker *AccessTracker
}

// New returns an empty cache. A nil-valued Options (or the zero value)
// falls back to sensible defaults (10k items, 5 minute TTL).
func New(opts Options) *Cache {
	opts = opts.orDefault()
	return &Cache{
		opts:    opts,
		items:   make(map[string]*item),
		lru:     list.New(),
		tracker: NewAccessTracker(256, 0.98),
	}
}

// Get returns the cached document, or errs.ErrNotFound on a miss or expiry.
func (c *Cache) Get(ctx context.Context, id string) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.removeLocked(id)
		return nil, errs.ErrNotFound
	}
	c.lru.MoveToFront(it.elem)
	c.tracker.RecordAccess(id)
	return it.doc.Clone(), nil
}

// Set stores doc under id with ttl (0 uses the cache's DefaultTTL).
func (c *Cache) Set(ctx context.Context, id string, doc document.Document, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[id]; ok {
		existing.doc = doc.Clone()
		existing.expiresAt = expiresAt
		c.lru.MoveToFront(existing.elem)
		return nil
	}

	if c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictLRU()
	}

	elem := c.lru.PushFront(id)
	c.items[id] = &item{doc: doc.Clone(), expiresAt: expiresAt, elem: elem}
	return nil
}

// Delete removes id from the cache. Deleting an absent id is not an error.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
	return nil
}

// Clear empties the cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item)
	c.lru.Init()
	return nil
}

// Len reports how many documents are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HotIDs returns the ids the access tracker currently considers hottest,
// most recently/frequently accessed first. Useful for a warm-on-open pass.
func (c *Cache) HotIDs(n int) []string {
	return c.tracker.Top(n)
}

func (c *Cache) removeLocked(id string) {
	it, ok := c.items[id]
	if !ok {
		return
	}
	c.lru.Remove(it.elem)
	delete(c.items, id)
}

// evictLRU discards the least-recently-used entry, but never one the
// access tracker currently considers hot — hot documents are evicted only
// when every remaining entry is hot, matching the teacher's
// hot_data_watcher intent of shielding frequently-read documents from a
// size-bounded LRU.
func (c *Cache) evictLRU() {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(string)
		if !c.tracker.IsHot(id) {
			c.lru.Remove(e)
			delete(c.items, id)
			return
		}
	}
	// everything is hot: fall back to evicting the strict LRU tail anyway.
	if e := c.lru.Back(); e != nil {
		id := e.Value.(string)
		c.lru.Remove(e)
		delete(c.items, id)
	}
}
