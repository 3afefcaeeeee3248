package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentGetPath(t *testing.T) {
	doc := Document{
		"id": "1",
		"address": Document{
			"city": "Metropolis",
		},
		"tags": []any{"a", "b"},
	}

	v, ok := doc.Get("address.city")
	require.True(t, ok)
	assert.Equal(t, "Metropolis", v)

	v, ok = doc.Get("tags.1")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = doc.Get("address.country")
	assert.False(t, ok)

	_, ok = doc.Get("missing.field")
	assert.False(t, ok)
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := Document{"nested": Document{"x": 1}}
	clone := doc.Clone()
	clone["nested"].(Document)["x"] = 2
	assert.Equal(t, 1, doc["nested"].(Document)["x"])
}

func TestRevisionOrdering(t *testing.T) {
	r1 := NewRevision(1, Document{"v": 1})
	r2 := NewRevision(2, Document{"v": 1})
	assert.Equal(t, Less, CompareRevisions(r1, r2))
	assert.Equal(t, Greater, CompareRevisions(r2, r1))
	assert.Equal(t, Equal, CompareRevisions(r1, r1))
}

func TestRevisionTieBreakByHash(t *testing.T) {
	a := NewRevision(1, Document{"v": 1})
	b := NewRevision(1, Document{"v": 2})
	require.NotEqual(t, a, b)
	// both share counter 1; ordering must be decided by hash lex order.
	ord := CompareRevisions(a, b)
	assert.NotEqual(t, Equal, ord)
}

func TestDiffRoundTrip(t *testing.T) {
	prev := Document{"id": "1", "title": "A", "count": float64(1)}
	next := Document{"id": "1", "title": "B", "count": float64(2)}

	d, err := DiffDocuments(prev, next)
	require.NoError(t, err)

	patched, err := Patch(prev, d)
	require.NoError(t, err)
	assert.Equal(t, next["title"], patched["title"])
	assert.Equal(t, next["count"], patched["count"])

	back, err := Unpatch(patched, prev)
	require.NoError(t, err)
	assert.Equal(t, prev["title"], back["title"])
	assert.Equal(t, prev["count"], back["count"])
}

func TestSequenceGeneratorStrictlyIncreasing(t *testing.T) {
	gen, err := NewSequenceGenerator(1)
	require.NoError(t, err)
	var last int64
	for i := 0; i < 1000; i++ {
		v := gen.Next()
		assert.Greater(t, v, last)
		last = v
	}
}
