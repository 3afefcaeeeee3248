package reactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/collection"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/query"
	"github.com/riftdb/riftdb/storage/memstore"
)

func newTestCollection(t *testing.T) *collection.Collection {
	t.Helper()
	adapter := memstore.New(1)
	store, err := adapter.GetStore("tasks")
	require.NoError(t, err)
	c, err := collection.New("tasks", store, collection.Options{NodeID: 1})
	require.NoError(t, err)
	return c
}

func TestSubscribeEmitsResetThenUpdatesOnInsert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCollection(t)
	_, err := c.Insert(ctx, document.Document{"status": "open"})
	require.NoError(t, err)

	sub, err := Subscribe(ctx, c, query.Options{Filter: filter.Expr{"status": "open"}}, Options{Debounce: 5 * time.Millisecond})
	require.NoError(t, err)
	defer sub.Destroy()

	reset := <-sub.Events()
	assert.Equal(t, EventReset, reset.Kind)
	assert.Equal(t, 1, reset.Snapshot.Total)

	_, err = c.Insert(ctx, document.Document{"status": "open"})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventAdded, ev.Kind)
		assert.Equal(t, 2, ev.Snapshot.Total)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update event")
	}
}

func TestDestroyCompletesStreamWithoutAffectingOthers(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	subA, err := Subscribe(ctx, c, query.Options{}, Options{Debounce: time.Millisecond})
	require.NoError(t, err)
	subB, err := Subscribe(ctx, c, query.Options{}, Options{Debounce: time.Millisecond})
	require.NoError(t, err)
	defer subB.Destroy()

	<-subA.Events()
	<-subB.Events()

	subA.Destroy()
	_, ok := <-subA.Events()
	assert.False(t, ok)

	_, err = c.Insert(ctx, document.Document{})
	require.NoError(t, err)
	select {
	case ev := <-subB.Events():
		assert.Equal(t, EventAdded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber B should still receive events after A was destroyed")
	}
}
