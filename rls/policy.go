// Package rls implements the row-level security policy engine (component
// K): policy compilation, per-document evaluation, and query-filter
// lowering so a caller's query never scans rows it isn't allowed to see.
package rls

import (
	"sort"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
)

// Effect is the outcome of a matching rule or a policy set's default.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Action names the operation a rule governs. Wildcard matches any action.
type Action string

const (
	ActionAny    Action = "*"
	ActionRead   Action = "read"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Wildcard matches any collection name in Rule.Collections.
const Wildcard = "*"

// Condition is one predicate a rule requires to hold against the document
// (and, via ContextRefPath, against the runtime context).
type Condition struct {
	Field    string
	Operator string
	// Value is a literal comparison value. Mutually exclusive with
	// ContextRefPath; if both are empty the condition is a bare $exists
	// check controlled by Operator/Value as usual.
	Value any
	// ContextRefPath resolves against Context (e.g. "tenant_id",
	// "attributes.department") instead of a literal Value.
	ContextRefPath string
}

// Rule is one entry in a PolicySet.
type Rule struct {
	ID          string
	Actions     []Action
	Collections []string
	Effect      Effect
	Conditions  []Condition
	Roles       []string // if non-empty, context roles must intersect
	Priority    int
	Enabled     bool
}

// PolicySet is a named, versioned collection of rules plus the effect
// applied when no rule matches.
type PolicySet struct {
	Name          string
	DefaultEffect Effect
	Rules         []Rule
	Version       int
}

// Context is the runtime identity a policy set is evaluated against.
type Context struct {
	UserID     string
	Roles      []string
	TenantID   string
	Attributes document.Document
}

// sortedRules returns enabled rules ordered by descending priority, ties
// broken by rule id for determinism.
func (p PolicySet) sortedRules() []Rule {
	out := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r Rule) matchesAction(action Action) bool {
	for _, a := range r.Actions {
		if a == ActionAny || a == action {
			return true
		}
	}
	return false
}

func (r Rule) matchesCollection(collection string) bool {
	for _, c := range r.Collections {
		if c == Wildcard || c == collection {
			return true
		}
	}
	return false
}

func (r Rule) matchesRoles(ctx Context) bool {
	if len(r.Roles) == 0 {
		return true
	}
	have := make(map[string]bool, len(ctx.Roles))
	for _, role := range ctx.Roles {
		have[role] = true
	}
	for _, want := range r.Roles {
		if have[want] {
			return true
		}
	}
	return false
}

// Evaluate decides whether action against doc in collection is allowed for
// ctx: the highest-priority matching rule's effect wins, falling back to
// the policy set's default.
func (p PolicySet) Evaluate(action Action, collection string, doc document.Document, ctx Context) Effect {
	for _, r := range p.sortedRules() {
		if !r.matchesAction(action) || !r.matchesCollection(collection) || !r.matchesRoles(ctx) {
			continue
		}
		if conditionsHold(r.Conditions, doc, ctx) {
			return r.Effect
		}
	}
	return p.DefaultEffect
}

func conditionsHold(conds []Condition, doc document.Document, ctx Context) bool {
	for _, c := range conds {
		if !conditionHolds(c, doc, ctx) {
			return false
		}
	}
	return true
}

func conditionHolds(c Condition, doc document.Document, ctx Context) bool {
	want := c.Value
	if c.ContextRefPath != "" {
		want = resolveContextRef(c.ContextRefPath, ctx)
	}
	expr := filter.Expr{c.Field: document.Document{c.Operator: want}}
	return filter.Matches(doc, expr)
}

func resolveContextRef(path string, ctx Context) any {
	switch path {
	case "user_id":
		return ctx.UserID
	case "tenant_id":
		return ctx.TenantID
	case "roles":
		out := make([]any, len(ctx.Roles))
		for i, r := range ctx.Roles {
			out[i] = r
		}
		return out
	default:
		if v, ok := (document.Document{"attributes": ctx.Attributes}).Get(path); ok {
			return v
		}
		return nil
	}
}
