package query

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/storage/memstore"
)

func TestPlanPrefersHighestScoringIndex(t *testing.T) {
	indexes := []index.Definition{
		{Name: "by_status", Fields: []index.FieldSpec{{Path: "status"}}},
		{Name: "by_status_age", Fields: []index.FieldSpec{{Path: "status"}, {Path: "age"}}},
	}
	expr := filter.Expr{"status": "active", "age": document.Document{"$gte": float64(18)}}
	plan := Plan(expr, nil, 0, 0, indexes, 100)
	assert.Equal(t, "by_status_age", plan.IndexName)
	assert.True(t, plan.IndexCovers)
}

func TestPlanFallsBackToCollectionScanWithNoUsableIndex(t *testing.T) {
	indexes := []index.Definition{
		{Name: "by_created", Fields: []index.FieldSpec{{Path: "created_at"}}},
	}
	plan := Plan(filter.Expr{"name": "x"}, nil, 0, 0, indexes, 50)
	assert.Empty(t, plan.IndexName)
	assert.True(t, math.IsInf(plan.EstimatedScan, 1))
}

func TestPlanScoresSortUsingIndex(t *testing.T) {
	indexes := []index.Definition{
		{Name: "by_age", Fields: []index.FieldSpec{{Path: "age", Direction: index.Desc}}},
	}
	plan := Plan(filter.Expr{}, []SortSpec{{Field: "age", Descending: true}}, 0, 0, indexes, 10)
	assert.Equal(t, "by_age", plan.IndexName)
	assert.True(t, plan.SortUsingIndex)
}

func TestExecuteFiltersSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	a := memstore.New(1)
	s, err := a.GetStore("items")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, document.Document{
			"id":  string(rune('a' + i)),
			"age": float64(i),
		}))
	}

	opts := Options{
		Filter: filter.Expr{"age": document.Document{"$gte": float64(1)}},
		Sort:   []SortSpec{{Field: "age", Descending: true}},
		Limit:  2,
	}
	plan := Plan(opts.Filter, opts.Sort, opts.Skip, opts.Limit, s.Indexes(), 5)
	res, err := Execute(ctx, s, plan, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.True(t, res.HasMore)
	require.Len(t, res.Data, 2)
	assert.Equal(t, float64(4), res.Data[0]["age"])
	assert.Equal(t, float64(3), res.Data[1]["age"])
}

func TestExecuteExcludesTombstonesByDefault(t *testing.T) {
	ctx := context.Background()
	a := memstore.New(1)
	s, err := a.GetStore("items")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, document.Document{"id": "1"}))
	require.NoError(t, s.Put(ctx, document.Document{"id": "1", "deleted": true}))

	plan := Plan(nil, nil, 0, 0, s.Indexes(), 1)
	res, err := Execute(ctx, s, plan, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

func TestExecuteAggregationsAndGroupBy(t *testing.T) {
	ctx := context.Background()
	a := memstore.New(1)
	s, err := a.GetStore("orders")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, document.Document{"id": "1", "region": "east", "total": float64(10)}))
	require.NoError(t, s.Put(ctx, document.Document{"id": "2", "region": "east", "total": float64(20)}))
	require.NoError(t, s.Put(ctx, document.Document{"id": "3", "region": "west", "total": float64(5)}))

	plan := Plan(nil, nil, 0, 0, s.Indexes(), 3)
	res, err := Execute(ctx, s, plan, Options{
		GroupBy: &GroupBy{
			Fields:       []string{"region"},
			Aggregations: []Aggregation{{Kind: "sum", Field: "total", As: "total_sum"}, {Kind: "count"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	for _, g := range res.Groups {
		if g.Key[0] == "east" {
			assert.Equal(t, float64(30), g.Values["total_sum"])
			assert.Equal(t, 2, g.Values["count"])
		}
	}
}
