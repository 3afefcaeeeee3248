// Package query implements the query planner (component F) and executor
// (component G): turning a filter expression, sort list, and pagination
// window into a cost-scored plan, then running that plan against a
// storage.DocumentStore.
package query

import (
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
)

// SortSpec is one entry of a multi-field sort.
type SortSpec struct {
	Field      string
	Descending bool
}

// Projection selects which fields a result document carries. Include wins
// over Exclude; both empty means the full document.
type Projection struct {
	Include []string
	Exclude []string
}

// Aggregation is one aggregate computed over the filtered, pre-pagination
// result set.
type Aggregation struct {
	Kind  string // count|sum|avg|min|max|distinct
	Field string // dotted path; ignored for count
	As    string // output key; defaults to Kind, or Kind+"_"+Field
}

// GroupBy partitions the filtered set by a key tuple before aggregating.
type GroupBy struct {
	Fields       []string
	Aggregations []Aggregation
}

// Options describes one query's shape, independent of the collection it
// runs against.
type Options struct {
	Filter       filter.Expr
	Sort         []SortSpec
	Skip         int
	Limit        int
	Projection   Projection
	Aggregations []Aggregation
	GroupBy      *GroupBy
	Cursor       string
}

// Group is one groupBy partition's result.
type Group struct {
	Key       []any          `json:"key"`
	Values    map[string]any `json:"values"`
	Count     int            `json:"count"`
	Documents []document.Document `json:"documents,omitempty"`
}

// Result is the executor's output.
type Result struct {
	Data            []document.Document `json:"data"`
	Total           int                 `json:"total"`
	Cursor          *string             `json:"cursor,omitempty"`
	HasMore         bool                `json:"has_more"`
	Aggregations    map[string]any      `json:"aggregations,omitempty"`
	Groups          []Group             `json:"groups,omitempty"`
	ExecutionTimeMs float64             `json:"execution_time_ms"`
}
