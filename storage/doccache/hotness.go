package doccache

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// accessRecord tracks one document's access history, adapted from the
// teacher's AccessRecord (there keyed by Mongo ObjectID, here by the
// document's own string id).
type accessRecord struct {
	id           string
	accessCount  int64
	lastAccessed time.Time
	score        float64
	index        int // heap.Interface bookkeeping
}

// accessHeap is a min-heap on score, so the lowest-scoring (coldest) hot
// record sits at the root and is the cheap one to evict when the hot set
// is full.
type accessHeap []*accessRecord

func (h accessHeap) Len() int            { return len(h) }
func (h accessHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h accessHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *accessHeap) Push(x any) {
	r := x.(*accessRecord)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *accessHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// AccessTracker scores documents by access recency and frequency to
// identify "hot" documents worth shielding from LRU eviction.
type AccessTracker struct {
	mu          sync.Mutex
	records     map[string]*accessRecord
	hot         *accessHeap
	maxHotItems int
	decayFactor float64
}

// NewAccessTracker returns a tracker that keeps at most maxHotItems
// records in its hot set, decaying each record's score by decayFactor
// (0..1) on every subsequent access so stale hotness fades out.
func NewAccessTracker(maxHotItems int, decayFactor float64) *AccessTracker {
	h := &accessHeap{}
	heap.Init(h)
	return &AccessTracker{
		records:     make(map[string]*accessRecord),
		hot:         h,
		maxHotItems: maxHotItems,
		decayFactor: decayFactor,
	}
}

// RecordAccess registers one access to id, updating its recency/frequency
// score and promoting it into the hot set if there is room or it outranks
// the current coldest hot record.
func (t *AccessTracker) RecordAccess(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	r, ok := t.records[id]
	if !ok {
		r = &accessRecord{id: id, index: -1}
		t.records[id] = r
	}
	r.accessCount++
	r.lastAccessed = now
	r.score = r.score*t.decayFactor + 1.0

	if r.index >= 0 {
		heap.Fix(t.hot, r.index)
		return
	}
	if t.hot.Len() < t.maxHotItems {
		heap.Push(t.hot, r)
		return
	}
	if t.hot.Len() > 0 && r.score > (*t.hot)[0].score {
		evicted := heap.Pop(t.hot).(*accessRecord)
		evicted.index = -1
		heap.Push(t.hot, r)
	}
}

// IsHot reports whether id is currently in the tracked hot set.
func (t *AccessTracker) IsHot(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	return ok && r.index >= 0
}

// Top returns up to n hot ids, hottest first. It reads a snapshot of the
// hot set's scores without mutating the live heap (the heap's own index
// bookkeeping is shared by pointer and must stay untouched outside
// RecordAccess).
func (t *AccessTracker) Top(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := append([]*accessRecord(nil), (*t.hot)...)
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].score > snapshot[j].score })
	if n > len(snapshot) {
		n = len(snapshot)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = snapshot[i].id
	}
	return out
}
