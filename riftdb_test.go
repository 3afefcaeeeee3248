package riftdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/replication"
	"github.com/riftdb/riftdb/storage/memstore"
)

func TestOpenDeclaresCollectionsAndInsertsThroughThem(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{
		Adapter:     memstore.New(1),
		Collections: []CollectionConfig{{Name: "widgets"}},
		NodeID:      1,
	})
	require.NoError(t, err)
	defer db.Close()

	col, err := db.Collection("widgets")
	require.NoError(t, err)

	doc, err := col.Insert(ctx, document.Document{"name": "sprocket"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID())
}

func TestCollectionOpensLazilyWhenNotDeclared(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Adapter: memstore.New(1)})
	require.NoError(t, err)
	defer db.Close()

	col, err := db.Collection("gadgets")
	require.NoError(t, err)
	assert.NotNil(t, col)
}

func TestOnChangeMergesEventsAcrossCollections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := Open(ctx, Config{
		Adapter:     memstore.New(1),
		Collections: []CollectionConfig{{Name: "widgets"}, {Name: "gadgets"}},
	})
	require.NoError(t, err)
	defer db.Close()

	events, err := db.OnChange(ctx)
	require.NoError(t, err)

	widgets, err := db.Collection("widgets")
	require.NoError(t, err)
	gadgets, err := db.Collection("gadgets")
	require.NoError(t, err)

	_, err = widgets.Insert(ctx, document.Document{"name": "a"})
	require.NoError(t, err)
	_, err = gadgets.Insert(ctx, document.Document{"name": "b"})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-events
		seen[ev.DocID] = true
	}
	assert.Len(t, seen, 2)
}

func TestSyncStatusIdleBeforeStartSync(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Adapter: memstore.New(1)})
	require.NoError(t, err)
	defer db.Close()

	status, err := db.SyncStatus()
	require.NoError(t, err)
	assert.Equal(t, replication.StatusIdle, status)
}
