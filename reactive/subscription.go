// Package reactive implements the reactive query subscriber (component I):
// a live-updating QueryResult view over a (query, collection) pair, fed by
// the collection's change feed.
package reactive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/query"
)

// Source is the slice of collection.Collection a Subscription needs; kept
// narrow so tests and alternative data sources don't need a full
// collection.Collection.
type Source interface {
	Find(ctx context.Context, opts query.Options) (*query.Result, error)
	Changes(ctx context.Context, afterSeq uint64) (<-chan document.ChangeEvent, error)
}

// EventKind enumerates the working-set deltas a Subscription emits.
type EventKind string

const (
	EventAdded    EventKind = "added"
	EventModified EventKind = "modified"
	EventRemoved  EventKind = "removed"
	EventReset    EventKind = "reset"
)

// Event is one working-set delta, delivered alongside the refreshed
// snapshot that produced it.
type Event struct {
	Kind     EventKind
	DocID    string
	Snapshot *query.Result
}

// DefaultDebounce is the default window a burst of change events is
// coalesced over before the query re-runs.
const DefaultDebounce = 50 * time.Millisecond

// Subscription is a live view of one query's result set.
type Subscription struct {
	source Source
	opts   query.Options
	events chan Event

	debounce time.Duration

	mu      sync.Mutex
	working map[string]document.Document // doc id -> last-seen live document
	last    *query.Result

	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Subscription.
type Options struct {
	Debounce time.Duration // 0 uses DefaultDebounce
}

// Subscribe runs opts once against source, then follows its change feed,
// emitting an Event (with a refreshed Snapshot) whenever the projected
// result actually changes. Call Destroy to stop.
func Subscribe(ctx context.Context, source Source, opts query.Options, subOpts Options) (*Subscription, error) {
	debounce := subOpts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	initial, err := source.Find(ctx, opts)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		source:   source,
		opts:     opts,
		events:   make(chan Event, 16),
		debounce: debounce,
		working:  make(map[string]document.Document, len(initial.Data)),
		last:     initial,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, d := range initial.Data {
		s.working[d.ID()] = d
	}

	changes, err := source.Changes(subCtx, 0)
	if err != nil {
		cancel()
		return nil, err
	}

	s.events <- Event{Kind: EventReset, Snapshot: initial}
	go s.run(subCtx, changes)
	return s, nil
}

// Events returns the channel of working-set deltas. It is closed once
// Destroy completes the stream.
func (s *Subscription) Events() <-chan Event { return s.events }

// Snapshot returns the most recently emitted QueryResult.
func (s *Subscription) Snapshot() *query.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Destroy unsubscribes and completes the event stream. Safe to call more
// than once; destroying one Subscription never affects any other.
func (s *Subscription) Destroy() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, changes <-chan document.ChangeEvent) {
	defer close(s.events)
	defer close(s.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	var pendingKind EventKind // zero value means "no pending kind yet"

	resetTimer := func(kind EventKind) {
		pendingKind = mergeKind(pendingKind, kind)
		if timer == nil {
			timer = time.NewTimer(s.debounce)
			timerC = timer.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			kind := EventModified
			switch ev.Op {
			case document.OpInsert:
				kind = EventAdded
			case document.OpDelete:
				kind = EventRemoved
			}
			s.applyToWorkingSet(ev)
			resetTimer(kind)
		case <-timerC:
			timer = nil
			timerC = nil
			kind := pendingKind
			pendingKind = ""
			s.reevaluate(ctx, kind)
		}
	}
}

// applyToWorkingSet maintains the subscriber's view of which documents are
// currently live, incrementally, between debounced re-evaluations;
// reevaluate re-runs the full query on every debounce tick and replaces
// the working set when the result changed.
func (s *Subscription) applyToWorkingSet(ev document.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Op {
	case document.OpDelete:
		delete(s.working, ev.DocID)
	default:
		if ev.Document != nil {
			s.working[ev.DocID] = ev.Document
		}
	}
}

func (s *Subscription) reevaluate(ctx context.Context, kind EventKind) {
	result, err := s.source.Find(ctx, s.opts)
	if err != nil {
		return
	}

	s.mu.Lock()
	changed := !resultsEqual(s.last, result)
	if changed {
		s.last = result
		s.working = make(map[string]document.Document, len(result.Data))
		for _, d := range result.Data {
			s.working[d.ID()] = d
		}
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	select {
	case s.events <- Event{Kind: kind, Snapshot: result}:
	case <-ctx.Done():
	}
}

func mergeKind(a, b EventKind) EventKind {
	if a == "" || a == b {
		return b
	}
	// a burst mixing distinct kinds is reported as a reset, since the
	// working set changed in more than one way and the snapshot is what
	// matters more than the label.
	return EventReset
}

func resultsEqual(a, b *query.Result) bool {
	if a == nil || b == nil {
		return a == b
	}
	// Timing differs on every run and is not part of the result's data.
	ac, bc := *a, *b
	ac.ExecutionTimeMs, bc.ExecutionTimeMs = 0, 0
	aj, err1 := json.Marshal(ac)
	bj, err2 := json.Marshal(bc)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}
