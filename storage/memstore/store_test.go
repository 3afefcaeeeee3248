package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/storage"
)

func TestStorePutInsertThenUpdateEmitsChanges(t *testing.T) {
	ctx := context.Background()
	a := New(1)
	s, err := a.GetStore("widgets")
	require.NoError(t, err)

	ch, err := s.Changes(ctx, 0)
	require.NoError(t, err)

	doc1 := document.Document{"id": "w1", "name": "sprocket"}
	require.NoError(t, s.Put(ctx, doc1))

	ev := <-ch
	assert.Equal(t, document.OpInsert, ev.Op)
	assert.Nil(t, ev.PreviousDocument)

	doc2 := document.Document{"id": "w1", "name": "gizmo"}
	require.NoError(t, s.Put(ctx, doc2))

	ev2 := <-ch
	assert.Equal(t, document.OpUpdate, ev2.Op)
	require.NotNil(t, ev2.PreviousDocument)
	assert.Equal(t, "sprocket", ev2.PreviousDocument["name"])
}

func TestStoreChangesReplaysBacklog(t *testing.T) {
	ctx := context.Background()
	a := New(1)
	s, err := a.GetStore("widgets")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, document.Document{"id": "w1"}))
	require.NoError(t, s.Put(ctx, document.Document{"id": "w2"}))

	ch, err := s.Changes(ctx, 0)
	require.NoError(t, err)
	first := <-ch
	second := <-ch
	assert.Equal(t, "w1", first.DocID)
	assert.Equal(t, "w2", second.DocID)
}

func TestStoreUniqueIndexRejectsCollision(t *testing.T) {
	ctx := context.Background()
	a := New(1)
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

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a := New(1)
	require.NoError(t, a.Initialize(ctx, storage.Config{}))

	wantErr := errors.New("boom")
	err := a.Transaction(ctx, []string{"widgets"}, storage.ReadWrite, func(tx storage.Tx) error {
		ws, err := tx.Store("widgets")
		require.NoError(t, err)
		require.NoError(t, ws.Put(ctx, document.Document{"id": "w1"}))
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	s, err := a.GetStore("widgets")
	require.NoError(t, err)
	_, err = s.Get(ctx, "w1")
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTransactionCommitsAcrossStores(t *testing.T) {
	ctx := context.Background()
	a := New(1)
	require.NoError(t, a.Initialize(ctx, storage.Config{}))

	err := a.Transaction(ctx, []string{"a", "b"}, storage.ReadWrite, func(tx storage.Tx) error {
		sa, err := tx.Store("a")
		require.NoError(t, err)
		sb, err := tx.Store("b")
		require.NoError(t, err)
		require.NoError(t, sa.Put(ctx, document.Document{"id": "1"}))
		require.NoError(t, sb.Put(ctx, document.Document{"id": "1"}))
		return nil
	})
	require.NoError(t, err)

	sa, _ := a.GetStore("a")
	sb, _ := a.GetStore("b")
	_, err = sa.Get(ctx, "1")
	require.NoError(t, err)
	_, err = sb.Get(ctx, "1")
	require.NoError(t, err)
}
