package doccache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

func TestCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := New(Options{MaxItems: 10, DefaultTTL: time.Minute})

	require.NoError(t, c.Set(ctx, "d1", document.Document{"id": "d1", "v": 1.0}, 0))
	doc, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc["v"])

	require.NoError(t, c.Delete(ctx, "d1"))
	_, err = c.Get(ctx, "d1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCacheExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	c := New(Options{MaxItems: 10})
	require.NoError(t, c.Set(ctx, "d1", document.Document{"id": "d1"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "d1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCacheEvictsLRUButShieldsHotDocuments(t *testing.T) {
	ctx := context.Background()
	c := New(Options{MaxItems: 2, DefaultTTL: time.Hour})

	require.NoError(t, c.Set(ctx, "hot", document.Document{"id": "hot"}, 0))
	for i := 0; i < 5; i++ {
		_, _ = c.Get(ctx, "hot")
	}
	require.NoError(t, c.Set(ctx, "cold", document.Document{"id": "cold"}, 0))
	require.NoError(t, c.Set(ctx, "newcomer", document.Document{"id": "newcomer"}, 0))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "hot")
	require.NoError(t, err, "hot document should survive eviction")
}

func TestAccessTrackerTopOrdersByScore(t *testing.T) {
	tr := NewAccessTracker(4, 0.9)
	for i := 0; i < 3; i++ {
		tr.RecordAccess("frequent")
	}
	tr.RecordAccess("rare")

	top := tr.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "frequent", top[0])
}
