package rls

import (
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
)

// lowerableOps are the operators conditionHolds's $and-composed filter can
// express directly; a condition using anything else (e.g. $regex, which
// spec.md calls out as not safely lowerable into a pre-scan filter for a
// deny-by-construction row) cannot be folded into the generated filter and
// must instead be checked by post-evaluation against Evaluate.
var lowerableOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$exists": true, "$contains": true, "$startsWith": true, "$endsWith": true,
}

// GenerateQueryFilter walks every enabled, matching allow rule for
// (action, collection, ctx), $and-composes each rule's conditions (context
// references resolved to literals) and $or-composes the rules, so a row
// passes if any one lowerable allow rule admits it. The result narrows a
// query before it runs; when some rule could not be lowered (a condition
// used a non-lowerable operator, or the rule is a deny rule), or no allow
// rule was lowered and the default effect is not Allow, the second result
// is true so the caller can still exclude denied rows from the final
// result set by per-row evaluation.
//
// This only composes rules whose effect is Allow: a deny rule's
// conditions describe when access is refused, which does not translate
// into a positive filter predicate without negation semantics the filter
// language does not support for arbitrary operators, so deny rules always
// fall back to post-evaluation.
func GenerateQueryFilter(p PolicySet, action Action, collection string, ctx Context) (filter.Expr, bool) {
	var clauses []any
	needsPostEval := false

	for _, r := range p.sortedRules() {
		if !r.matchesAction(action) || !r.matchesCollection(collection) || !r.matchesRoles(ctx) {
			continue
		}
		if r.Effect != Allow {
			needsPostEval = true
			continue
		}
		clause, ok := lowerConditions(r.Conditions, ctx)
		if !ok {
			needsPostEval = true
			continue
		}
		if clause != nil {
			clauses = append(clauses, clause)
		}
	}

	if len(clauses) == 0 {
		return filter.Expr{}, needsPostEval || p.DefaultEffect != Allow
	}
	if len(clauses) == 1 {
		if e, ok := clauses[0].(filter.Expr); ok {
			return e, needsPostEval
		}
	}
	return filter.Expr{"$or": clauses}, needsPostEval
}

// lowerConditions $and-composes conds into one clause, resolving context
// references to literals. ok is false if any condition used an operator
// this function cannot express.
func lowerConditions(conds []Condition, ctx Context) (filter.Expr, bool) {
	if len(conds) == 0 {
		return filter.Expr{}, true
	}
	clause := filter.Expr{}
	for _, c := range conds {
		if !lowerableOps[c.Operator] {
			return nil, false
		}
		want := c.Value
		if c.ContextRefPath != "" {
			want = resolveContextRef(c.ContextRefPath, ctx)
		}
		existing, has := clause[c.Field]
		if !has {
			clause[c.Field] = map[string]any{c.Operator: want}
			continue
		}
		// A second condition on the same field: merge into one operator
		// map rather than overwrite, so e.g. age $gte 30 and age $lte 40
		// both survive.
		if om, ok := existing.(map[string]any); ok {
			om[c.Operator] = want
			continue
		}
		clause[c.Field] = map[string]any{c.Operator: want}
	}
	return clause, true
}

// WithPolicyFilter $and-composes base (the caller's own query filter) with
// the policy-lowered filter, so both constraints apply.
func WithPolicyFilter(base filter.Expr, policyFilter filter.Expr) filter.Expr {
	if len(policyFilter) == 0 {
		return base
	}
	if len(base) == 0 {
		return policyFilter
	}
	return filter.Expr{"$and": []any{base, policyFilter}}
}

// ShouldSync reports whether doc is visible to ctx for read access under p,
// used to filter inbound replication changes before they are applied
// locally so a peer never materializes a row it cannot see.
func ShouldSync(p PolicySet, collection string, doc document.Document, ctx Context) bool {
	return p.Evaluate(ActionRead, collection, doc, ctx) == Allow
}
