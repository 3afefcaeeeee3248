package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/query"
	"github.com/riftdb/riftdb/schema"
	"github.com/riftdb/riftdb/storage/memstore"
)

func newTestCollection(t *testing.T, sch *schema.Schema) *Collection {
	t.Helper()
	adapter := memstore.New(1)
	store, err := adapter.GetStore("widgets")
	require.NoError(t, err)
	c, err := New("widgets", store, Options{Schema: sch, NodeID: 1})
	require.NoError(t, err)
	return c
}

func TestInsertAssignsIDRevAndUpdatedAt(t *testing.T) {
	c := newTestCollection(t, nil)
	doc, err := c.Insert(context.Background(), document.Document{"name": "sprocket"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID())
	assert.NotEmpty(t, doc.Rev())
	assert.NotZero(t, doc.UpdatedAt())
}

func TestInsertValidatesAgainstSchema(t *testing.T) {
	sch := schema.New(map[string]*schema.Field{
		"name": {Types: []schema.FieldType{schema.TypeString}, Required: true},
	})
	c := newTestCollection(t, sch)
	_, err := c.Insert(context.Background(), document.Document{})
	require.Error(t, err)
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUpdateMergesTopLevelFieldsAndBumpsRevision(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, nil)
	doc, err := c.Insert(ctx, document.Document{"name": "sprocket", "qty": float64(1)})
	require.NoError(t, err)

	updated, err := c.Update(ctx, doc.ID(), document.Document{"qty": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "sprocket", updated["name"])
	assert.Equal(t, float64(2), updated["qty"])
	assert.NotEqual(t, doc.Rev(), updated.Rev())
}

func TestUpdateSectionRejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, nil)
	doc, err := c.Insert(ctx, document.Document{"qty": float64(1)})
	require.NoError(t, err)

	_, err = c.Update(ctx, doc.ID(), document.Document{"qty": float64(2)})
	require.NoError(t, err)

	_, err = c.UpdateSection(ctx, doc.ID(), doc.Rev(), document.Document{"qty": float64(3)})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestDeleteProducesRetainedTombstone(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, nil)
	doc, err := c.Insert(ctx, document.Document{})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, doc.ID()))
	_, err = c.Get(ctx, doc.ID())
	require.ErrorIs(t, err, errs.ErrNotFound)

	raw, err := c.store.Get(ctx, doc.ID())
	require.NoError(t, err)
	assert.True(t, raw.Deleted())
}

func TestHooksRunInPriorityOrderAndCanReject(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, nil)

	var order []int
	c.BeforeInsert(func(ctx context.Context, doc document.Document) (document.Document, error) {
		order = append(order, 1)
		return doc, nil
	}, 1)
	c.BeforeInsert(func(ctx context.Context, doc document.Document) (document.Document, error) {
		order = append(order, 10)
		return doc, nil
	}, 10)

	_, err := c.Insert(ctx, document.Document{})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 1}, order)

	c.BeforeInsert(func(ctx context.Context, doc document.Document) (document.Document, error) {
		return nil, errs.ErrValidation
	}, 100)
	_, err = c.Insert(ctx, document.Document{})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestFindUsesIndexAndReturnsQueryResult(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, nil)
	require.NoError(t, c.CreateIndex(index.Definition{
		Name:   "by_status",
		Fields: []index.FieldSpec{{Path: "status"}},
	}))
	_, err := c.Insert(ctx, document.Document{"status": "open"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, document.Document{"status": "closed"})
	require.NoError(t, err)

	res, err := c.Find(ctx, query.Options{Filter: filter.Expr{"status": "open"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}
