package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/storage"
)

// Execute runs plan against store according to opts. The plan's chosen
// index (if any) only narrows the candidate set; a Matches pass always
// re-checks the full filter, so an imprecise or stale plan can never
// produce incorrect results, only a slower scan.
func Execute(ctx context.Context, store storage.DocumentStore, plan *Plan, opts Options) (*Result, error) {
	start := time.Now()

	var docs []document.Document
	var err error
	if plan.IndexName != "" {
		ix, ok := store.IndexManager().Get(plan.IndexName)
		if ok {
			ids := ix.ScanAll()
			docs, err = store.GetMany(ctx, ids)
		} else {
			docs, err = store.GetAll(ctx)
		}
	} else {
		docs, err = store.GetAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	includeTombstones := referencesDeleted(opts.Filter)
	filtered := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		if d.Deleted() && !includeTombstones {
			continue
		}
		if len(opts.Filter) == 0 || filter.Matches(d, opts.Filter) {
			filtered = append(filtered, d)
		}
	}

	if len(opts.Sort) > 0 && !plan.SortUsingIndex {
		sortDocs(filtered, opts.Sort)
	}

	total := len(filtered)

	var aggregations map[string]any
	var groups []Group
	if opts.GroupBy != nil {
		groups = runGroupBy(filtered, *opts.GroupBy)
	} else if len(opts.Aggregations) > 0 {
		aggregations = runAggregations(filtered, opts.Aggregations)
	}

	skip := opts.Skip
	if skip > total {
		skip = total
	}
	end := total
	if opts.Limit > 0 && skip+opts.Limit < end {
		end = skip + opts.Limit
	}
	page := filtered[skip:end]

	data := make([]document.Document, len(page))
	for i, d := range page {
		data[i] = applyProjection(d, opts.Projection)
	}

	hasMore := opts.Limit > 0 && skip+opts.Limit < total
	var cursor *string
	if hasMore {
		c := strconv.Itoa(skip + len(page))
		cursor = &c
	}

	return &Result{
		Data:            data,
		Total:           total,
		Cursor:          cursor,
		HasMore:         hasMore,
		Aggregations:    aggregations,
		Groups:          groups,
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func referencesDeleted(expr filter.Expr) bool {
	_, ok := expr[document.FieldDeleted]
	return ok
}

func sortDocs(docs []document.Document, specs []SortSpec) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range specs {
			av, _ := docs[i].Get(s.Field)
			bv, _ := docs[j].Get(s.Field)
			if filter.SortLess(av, bv, s.Descending) {
				return true
			}
			if filter.SortLess(bv, av, s.Descending) {
				return false
			}
		}
		return false
	})
}

func applyProjection(doc document.Document, p Projection) document.Document {
	if len(p.Include) == 0 && len(p.Exclude) == 0 {
		return doc
	}
	if len(p.Include) > 0 {
		out := document.Document{}
		for _, path := range p.Include {
			if v, ok := doc.Get(path); ok {
				setPath(out, path, v)
			}
		}
		return out
	}
	out := doc.Clone()
	for _, path := range p.Exclude {
		deletePath(out, path)
	}
	return out
}

func setPath(doc document.Document, path string, value any) {
	parts := splitDotted(path)
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(document.Document)
		if !ok {
			next = document.Document{}
			cur[part] = next
		}
		cur = next
	}
}

func deletePath(doc document.Document, path string) {
	parts := splitDotted(path)
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			delete(cur, part)
			return
		}
		next, ok := cur[part].(document.Document)
		if !ok {
			return
		}
		cur = next
	}
}

func splitDotted(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}

func runAggregations(docs []document.Document, specs []Aggregation) map[string]any {
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		key := spec.As
		if key == "" {
			if spec.Field == "" {
				key = spec.Kind
			} else {
				key = spec.Kind + "_" + spec.Field
			}
		}
		out[key] = aggregate(docs, spec)
	}
	return out
}

func aggregate(docs []document.Document, spec Aggregation) any {
	switch spec.Kind {
	case "count":
		return len(docs)
	case "sum", "avg", "min", "max":
		var nums []float64
		for _, d := range docs {
			v, ok := d.Get(spec.Field)
			if !ok {
				continue
			}
			if n, ok := toFloat(v); ok {
				nums = append(nums, n)
			}
		}
		return reduceNumeric(spec.Kind, nums)
	case "distinct":
		var values []any
		for _, d := range docs {
			v, ok := d.Get(spec.Field)
			if !ok {
				continue
			}
			dup := false
			for _, existing := range values {
				if filter.DeepEqual(existing, v) {
					dup = true
					break
				}
			}
			if !dup {
				values = append(values, v)
			}
		}
		return values
	default:
		return nil
	}
}

func reduceNumeric(kind string, nums []float64) float64 {
	if len(nums) == 0 {
		return 0
	}
	switch kind {
	case "sum":
		var s float64
		for _, n := range nums {
			s += n
		}
		return s
	case "avg":
		var s float64
		for _, n := range nums {
			s += n
		}
		return s / float64(len(nums))
	case "min":
		m := nums[0]
		for _, n := range nums[1:] {
			if n < m {
				m = n
			}
		}
		return m
	case "max":
		m := nums[0]
		for _, n := range nums[1:] {
			if n > m {
				m = n
			}
		}
		return m
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func runGroupBy(docs []document.Document, gb GroupBy) []Group {
	index := make(map[string]*Group)
	var order []string
	for _, d := range docs {
		key := make([]any, len(gb.Fields))
		for i, f := range gb.Fields {
			key[i], _ = d.Get(f)
		}
		k := fmt.Sprintf("%v", key)
		g, ok := index[k]
		if !ok {
			g = &Group{Key: key}
			index[k] = g
			order = append(order, k)
		}
		g.Count++
		g.Documents = append(g.Documents, d)
	}

	groups := make([]Group, 0, len(order))
	for _, k := range order {
		g := index[k]
		g.Values = runAggregations(g.Documents, gb.Aggregations)
		groups = append(groups, *g)
	}
	return groups
}
