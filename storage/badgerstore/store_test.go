package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/storage"
)

func open(t *testing.T) *Adapter {
	t.Helper()
	a := New(1)
	require.NoError(t, a.Initialize(context.Background(), storage.Config{Path: t.TempDir()}))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBadgerStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	a := open(t)
	s, err := a.GetStore("widgets")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, document.Document{"id": "w1", "name": "sprocket"}))
	doc, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "sprocket", doc["name"])
}

func TestBadgerStoreUniqueIndexRejectsCollision(t *testing.T) {
	ctx := context.Background()
	a := open(t)
	s, err := a.GetStore("users")
	require.NoError(t, err)
	require.NoError(t, s.CreateIndex(index.Definition{
		Name:   "by_email",
		Fields: []index.FieldSpec{{Path: "email"}},
		Unique: true,
	}))

	require.NoError(t, s.Put(ctx, document.Document{"id": "u1", "email": "a@x"}))
	err = s.Put(ctx, document.Document{"id": "u2", "email": "a@x"})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUniqueConstraint)
}

func TestBadgerStoreIndexSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a1 := New(1)
	require.NoError(t, a1.Initialize(ctx, storage.Config{Path: dir}))
	s1, err := a1.GetStore("widgets")
	require.NoError(t, err)
	require.NoError(t, s1.CreateIndex(index.Definition{
		Name:   "by_name",
		Fields: []index.FieldSpec{{Path: "name"}},
	}))
	require.NoError(t, s1.Put(ctx, document.Document{"id": "w1", "name": "b"}))
	require.NoError(t, s1.Put(ctx, document.Document{"id": "w2", "name": "a"}))
	require.NoError(t, a1.Close())

	a2 := New(1)
	require.NoError(t, a2.Initialize(ctx, storage.Config{Path: dir}))
	defer a2.Close()
	s2, err := a2.GetStore("widgets")
	require.NoError(t, err)
	ix, ok := s2.IndexManager().Get("by_name")
	require.True(t, ok)
	assert.Equal(t, []string{"w2", "w1"}, ix.ScanAll())
}

func TestBadgerStoreTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	a := open(t)

	err := a.Transaction(ctx, []string{"widgets"}, storage.ReadWrite, func(tx storage.Tx) error {
		ws, err := tx.Store("widgets")
		require.NoError(t, err)
		require.NoError(t, ws.Put(ctx, document.Document{"id": "w1"}))
		return errs.ErrConflict
	})
	require.Error(t, err)

	s, err := a.GetStore("widgets")
	require.NoError(t, err)
	_, err = s.Get(ctx, "w1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBadgerStoreChangesReplay(t *testing.T) {
	ctx := context.Background()
	a := open(t)
	s, err := a.GetStore("widgets")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, document.Document{"id": "w1"}))

	ch, err := s.Changes(ctx, 0)
	require.NoError(t, err)
	ev := <-ch
	assert.Equal(t, "w1", ev.DocID)
}
