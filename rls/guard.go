package rls

import (
	"context"

	"github.com/riftdb/riftdb/collection"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/query"
)

// Guard wraps a collection.Collection with row-level security, composed by
// wrapping rather than by modifying Collection itself: every method either
// narrows the underlying query's filter or evaluates the policy against the
// document before/after delegating, and never touches Collection's
// exported surface.
type Guard struct {
	name   string
	col    *collection.Collection
	policy PolicySet
	ctx    Context
}

// AttachPolicies returns a Guard enforcing policy for ctx over col, named
// collectionName for rule matching.
func AttachPolicies(collectionName string, col *collection.Collection, policy PolicySet, ctx Context) *Guard {
	return &Guard{name: collectionName, col: col, policy: policy, ctx: ctx}
}

// Get returns the document at id if ctx is allowed to read it.
func (g *Guard) Get(ctx context.Context, id string) (document.Document, error) {
	doc, err := g.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.policy.Evaluate(ActionRead, g.name, doc, g.ctx) != Allow {
		return nil, &errs.NotFoundError{Collection: g.name, ID: id}
	}
	return doc, nil
}

// Find runs opts narrowed by the policy's lowered read filter, then drops
// any remaining row a non-lowerable condition would have excluded.
func (g *Guard) Find(ctx context.Context, opts query.Options) (*query.Result, error) {
	policyFilter, needsPostEval := GenerateQueryFilter(g.policy, ActionRead, g.name, g.ctx)
	opts.Filter = WithPolicyFilter(opts.Filter, policyFilter)

	res, err := g.col.Find(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !needsPostEval {
		return res, nil
	}

	filtered := res.Data[:0]
	for _, d := range res.Data {
		if g.policy.Evaluate(ActionRead, g.name, d, g.ctx) == Allow {
			filtered = append(filtered, d)
		}
	}
	res.Data = filtered
	res.Total = len(filtered)
	return res, nil
}

// Insert evaluates the insert action against the prepared document before
// delegating; Collection.Insert fills in id/defaults, so the policy check
// runs against what the caller supplied (fields a default would add are
// not policy-visible at insert time, matching the evaluator's
// field-presence semantics for $exists).
func (g *Guard) Insert(ctx context.Context, doc document.Document) (document.Document, error) {
	if g.policy.Evaluate(ActionInsert, g.name, doc, g.ctx) != Allow {
		return nil, &errs.InternalError{Description: "insert denied by policy"}
	}
	return g.col.Insert(ctx, doc)
}

// Update checks the existing document for update access before merging
// patch in, so a caller cannot probe for a row's existence via the error
// shape of a denied update.
func (g *Guard) Update(ctx context.Context, id string, patch document.Document) (document.Document, error) {
	existing, err := g.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.policy.Evaluate(ActionUpdate, g.name, existing, g.ctx) != Allow {
		return nil, &errs.NotFoundError{Collection: g.name, ID: id}
	}
	return g.col.Update(ctx, id, patch)
}

// Delete checks delete access against the existing document before
// delegating.
func (g *Guard) Delete(ctx context.Context, id string) error {
	existing, err := g.col.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.policy.Evaluate(ActionDelete, g.name, existing, g.ctx) != Allow {
		return &errs.NotFoundError{Collection: g.name, ID: id}
	}
	return g.col.Delete(ctx, id)
}

// Count returns the number of documents matching expr that ctx may read.
func (g *Guard) Count(ctx context.Context, expr filter.Expr) (int, error) {
	res, err := g.Find(ctx, query.Options{Filter: expr})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}
