package collection

import (
	"context"
	"sort"

	"github.com/riftdb/riftdb/document"
)

// BeforeHook runs ahead of a write. It may mutate and return a modified
// document, or reject the write by returning a non-nil error (typically an
// *errs.ValidationError or another typed error from the errs package).
type BeforeHook func(ctx context.Context, doc document.Document) (document.Document, error)

// AfterHook runs once a write has committed. It is side-effect only: its
// return value, if any, is ignored by the write pipeline. previous is nil
// for inserts.
type AfterHook func(ctx context.Context, doc document.Document, previous document.Document)

type beforeEntry struct {
	fn       BeforeHook
	priority int
}

type afterEntry struct {
	fn       AfterHook
	priority int
}

// hookSet holds one operation's before/after hook chains, run in priority
// order: higher priority first, lower priority later (ties broken by
// registration order, via a stable sort).
type hookSet struct {
	before []beforeEntry
	after  []afterEntry
}

func (h *hookSet) addBefore(fn BeforeHook, priority int) {
	h.before = append(h.before, beforeEntry{fn, priority})
	sort.SliceStable(h.before, func(i, j int) bool { return h.before[i].priority > h.before[j].priority })
}

func (h *hookSet) addAfter(fn AfterHook, priority int) {
	h.after = append(h.after, afterEntry{fn, priority})
	sort.SliceStable(h.after, func(i, j int) bool { return h.after[i].priority > h.after[j].priority })
}

func (h *hookSet) runBefore(ctx context.Context, doc document.Document) (document.Document, error) {
	cur := doc
	for _, e := range h.before {
		next, err := e.fn(ctx, cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

func (h *hookSet) runAfter(ctx context.Context, doc, previous document.Document) {
	for _, e := range h.after {
		e.fn(ctx, doc, previous)
	}
}

// HookPriority is the default priority new hooks are registered with when
// the caller doesn't care about ordering relative to others.
const HookPriority = 0
