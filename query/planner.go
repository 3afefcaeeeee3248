package query

import (
	"fmt"
	"math"
	"sort"

	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/index"
)

// StepKind enumerates the plan step kinds the executor understands.
type StepKind string

const (
	StepIndexScan      StepKind = "index_scan"
	StepCollectionScan StepKind = "collection_scan"
	StepFilter         StepKind = "filter"
	StepSort           StepKind = "sort"
	StepSkip           StepKind = "skip"
	StepLimit          StepKind = "limit"
)

// Step is one stage of a Plan, kept for observability (plans are logged and
// can be inspected by callers, but the executor does not branch on the
// description text).
type Step struct {
	Kind        StepKind `json:"kind"`
	Description string   `json:"description"`
	Cost        float64  `json:"cost"`
}

// Plan is the planner's opaque output, consumed by Execute.
type Plan struct {
	IndexName      string  `json:"index_name,omitempty"`
	IndexCovers    bool    `json:"index_covers"`
	EstimatedScan  float64 `json:"estimated_scan"`
	SortUsingIndex bool    `json:"sort_using_index"`
	Steps          []Step  `json:"steps"`
}

// candidate is one index definition's score against one query's shape.
type candidate struct {
	def            index.Definition
	matched        int
	coversAll      bool
	sortUsingIndex bool
	score          int
}

// Plan scores every available index against expr/sorts and picks the best,
// per the planner contract: +10 per matching leading prefix field (stopping
// at the first miss), +5 if every filter field is covered, +3 if the first
// unmatched index field satisfies the primary sort direction, +1 if unique.
func Plan(expr filter.Expr, sorts []SortSpec, skip, limit int, indexes []index.Definition, totalDocs int) *Plan {
	filterFields := filter.EqualityFields(expr)

	sortedIdx := append([]index.Definition(nil), indexes...)
	sort.Slice(sortedIdx, func(i, j int) bool { return sortedIdx[i].Name < sortedIdx[j].Name })

	var best *candidate
	for _, def := range sortedIdx {
		c := score(def, filterFields, sorts)
		if c.score <= 0 {
			continue
		}
		if best == nil || c.score > best.score {
			cc := c
			best = &cc
		}
	}

	plan := &Plan{}
	if best == nil {
		plan.EstimatedScan = math.Inf(1)
		plan.Steps = append(plan.Steps, Step{
			Kind:        StepCollectionScan,
			Description: "full collection scan",
			Cost:        float64(totalDocs),
		})
	} else {
		plan.IndexName = best.def.Name
		plan.IndexCovers = best.coversAll
		plan.SortUsingIndex = best.sortUsingIndex

		totalFields := len(filterFields)
		ratio := 0.0
		if totalFields > 0 {
			ratio = float64(best.matched) / float64(totalFields)
		}
		plan.EstimatedScan = math.Round(1000 * (1 - ratio*0.9))

		plan.Steps = append(plan.Steps, Step{
			Kind:        StepIndexScan,
			Description: fmt.Sprintf("scan index %s (%d leading field(s) matched)", best.def.Name, best.matched),
			Cost:        plan.EstimatedScan,
		})
	}

	if len(expr) > 0 && !plan.IndexCovers {
		plan.Steps = append(plan.Steps, Step{
			Kind:        StepFilter,
			Description: "apply remaining filter predicate",
			Cost:        plan.EstimatedScan,
		})
	}
	if len(sorts) > 0 && !plan.SortUsingIndex {
		plan.Steps = append(plan.Steps, Step{
			Kind:        StepSort,
			Description: "stable multi-field sort",
			Cost:        plan.EstimatedScan,
		})
	}
	if skip > 0 {
		plan.Steps = append(plan.Steps, Step{Kind: StepSkip, Description: fmt.Sprintf("skip %d", skip), Cost: float64(skip)})
	}
	if limit > 0 {
		plan.Steps = append(plan.Steps, Step{Kind: StepLimit, Description: fmt.Sprintf("limit %d", limit), Cost: float64(limit)})
	}
	return plan
}

func score(def index.Definition, filterFields map[string]bool, sorts []SortSpec) candidate {
	matched := 0
	for _, f := range def.Fields {
		if !filterFields[f.Path] {
			break
		}
		matched++
	}

	c := candidate{def: def, matched: matched}
	if matched > 0 {
		c.score += 10 * matched
	}
	c.coversAll = matched > 0 && matched == len(filterFields)
	if c.coversAll {
		c.score += 5
	}
	if len(sorts) > 0 && matched < len(def.Fields) {
		primary := sorts[0]
		next := def.Fields[matched]
		wantDesc := primary.Descending
		gotDesc := next.Direction == index.Desc
		if next.Path == primary.Field && wantDesc == gotDesc {
			c.score += 3
			c.sortUsingIndex = true
		}
	}
	if def.Unique {
		c.score++
	}
	return c
}
