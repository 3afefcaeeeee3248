package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

func TestManagerUniqueConstraint(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Definition{
		Name:   "by_email",
		Fields: []FieldSpec{{Path: "email", Direction: Asc}},
		Unique: true,
	}))

	doc1 := document.Document{"id": "u1", "email": "a@x"}
	require.NoError(t, m.CheckUnique(doc1))
	m.Apply(nil, doc1)

	doc2 := document.Document{"id": "u2", "email": "a@x"}
	err := m.CheckUnique(doc2)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUniqueConstraint)
}

func TestManagerScanOrder(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Definition{
		Name:   "by_age",
		Fields: []FieldSpec{{Path: "age", Direction: Asc}},
	}))

	m.Apply(nil, document.Document{"id": "1", "age": float64(30)})
	m.Apply(nil, document.Document{"id": "2", "age": float64(10)})
	m.Apply(nil, document.Document{"id": "3", "age": float64(20)})

	ix, ok := m.Get("by_age")
	require.True(t, ok)
	assert.Equal(t, []string{"2", "3", "1"}, ix.ScanAll())
}

func TestManagerMissingSortsLast(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Definition{
		Name:   "by_age_desc",
		Fields: []FieldSpec{{Path: "age", Direction: Desc}},
	}))
	m.Apply(nil, document.Document{"id": "1", "age": float64(30)})
	m.Apply(nil, document.Document{"id": "2"}) // missing age
	m.Apply(nil, document.Document{"id": "3", "age": float64(20)})

	ix, ok := m.Get("by_age_desc")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "3", "2"}, ix.ScanAll())
}

func TestManagerApplyRemovesOldEntryOnUpdate(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Definition{
		Name:   "by_email",
		Fields: []FieldSpec{{Path: "email", Direction: Asc}},
		Unique: true,
	}))
	old := document.Document{"id": "1", "email": "a@x"}
	m.Apply(nil, old)
	updated := document.Document{"id": "1", "email": "b@x"}
	m.Apply(old, updated)

	// the old key is free for reuse by another document now.
	require.NoError(t, m.CheckUnique(document.Document{"id": "2", "email": "a@x"}))
}
