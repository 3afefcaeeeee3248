package rls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/collection"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/query"
	"github.com/riftdb/riftdb/storage/memstore"
)

func tenantPolicy() PolicySet {
	return PolicySet{
		Name:          "tenant-isolation",
		DefaultEffect: Deny,
		Rules: []Rule{
			{
				ID:          "tenant-isolation",
				Actions:     []Action{ActionAny},
				Collections: []string{Wildcard},
				Effect:      Allow,
				Priority:    10,
				Enabled:     true,
				Conditions: []Condition{
					{Field: "tenant_id", Operator: "$eq", ContextRefPath: "tenant_id"},
				},
			},
		},
	}
}

func TestEvaluateAppliesDefaultWhenNoRuleMatches(t *testing.T) {
	p := tenantPolicy()
	doc := document.Document{"id": "2", "tenant_id": "T2"}
	ctx := Context{TenantID: "T1"}
	assert.Equal(t, Deny, p.Evaluate(ActionRead, "widgets", doc, ctx))
}

func TestEvaluateAllowsMatchingTenant(t *testing.T) {
	p := tenantPolicy()
	doc := document.Document{"id": "1", "tenant_id": "T1"}
	ctx := Context{TenantID: "T1"}
	assert.Equal(t, Allow, p.Evaluate(ActionRead, "widgets", doc, ctx))
}

func TestGuardFindExcludesOtherTenantsRows(t *testing.T) {
	ctx := context.Background()
	adapter := memstore.New(1)
	store, err := adapter.GetStore("widgets")
	require.NoError(t, err)
	col, err := collection.New("widgets", store, collection.Options{NodeID: 1})
	require.NoError(t, err)

	_, err = col.Insert(ctx, document.Document{"id": "1", "tenant_id": "T1"})
	require.NoError(t, err)
	_, err = col.Insert(ctx, document.Document{"id": "2", "tenant_id": "T2"})
	require.NoError(t, err)
	_, err = col.Insert(ctx, document.Document{"id": "3", "tenant_id": "T1"})
	require.NoError(t, err)

	guard := AttachPolicies("widgets", col, tenantPolicy(), Context{TenantID: "T1"})

	res, err := guard.Find(ctx, query.Options{})
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Data))
	for _, d := range res.Data {
		ids = append(ids, d.ID())
	}
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
}

func TestGuardGetReturnsNotFoundForDeniedRow(t *testing.T) {
	ctx := context.Background()
	adapter := memstore.New(1)
	store, err := adapter.GetStore("widgets")
	require.NoError(t, err)
	col, err := collection.New("widgets", store, collection.Options{NodeID: 1})
	require.NoError(t, err)

	_, err = col.Insert(ctx, document.Document{"id": "2", "tenant_id": "T2"})
	require.NoError(t, err)

	guard := AttachPolicies("widgets", col, tenantPolicy(), Context{TenantID: "T1"})
	_, err = guard.Get(ctx, "2")
	assert.Error(t, err)
}

func TestGenerateQueryFilterLowersContextReference(t *testing.T) {
	expr, needsPostEval := GenerateQueryFilter(tenantPolicy(), ActionRead, "widgets", Context{TenantID: "T1"})
	assert.False(t, needsPostEval)
	assert.Equal(t, "T1", expr["tenant_id"].(map[string]any)["$eq"])
}
