package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/riftdb/riftdb/document"
)

func TestMatchesEqualityAndRange(t *testing.T) {
	doc := document.Document{"status": "active", "age": float64(35)}
	expr := Expr{"status": "active", "age": document.Document{"$gte": float64(30), "$lte": float64(40)}}
	assert.True(t, Matches(doc, expr))

	expr2 := Expr{"status": "inactive"}
	assert.False(t, Matches(doc, expr2))
}

func TestMatchesLogicalOperators(t *testing.T) {
	doc := document.Document{"a": float64(1), "b": float64(2)}

	assert.True(t, Matches(doc, Expr{"$and": []any{
		Expr{"a": float64(1)}, Expr{"b": float64(2)},
	}}))
	assert.False(t, Matches(doc, Expr{"$and": []any{
		Expr{"a": float64(1)}, Expr{"b": float64(99)},
	}}))
	assert.True(t, Matches(doc, Expr{"$or": []any{
		Expr{"a": float64(99)}, Expr{"b": float64(2)},
	}}))
	assert.True(t, Matches(doc, Expr{"$not": Expr{"a": float64(99)}}))
	assert.True(t, Matches(doc, Expr{"$nor": []any{Expr{"a": float64(99)}}}))
}

func TestMatchesArrayOperators(t *testing.T) {
	doc := document.Document{"tags": []any{"x", "y", "z"}}
	assert.True(t, Matches(doc, Expr{"tags": document.Document{"$all": []any{"x", "y"}}}))
	assert.False(t, Matches(doc, Expr{"tags": document.Document{"$all": []any{"x", "q"}}}))
	assert.True(t, Matches(doc, Expr{"tags": document.Document{"$size": float64(3)}}))
	assert.True(t, Matches(doc, Expr{"tags": document.Document{"$contains": "y"}}))
}

func TestMatchesElemMatch(t *testing.T) {
	doc := document.Document{"items": []any{
		document.Document{"qty": float64(1)},
		document.Document{"qty": float64(10)},
	}}
	expr := Expr{"items": document.Document{"$elemMatch": Expr{"qty": document.Document{"$gte": float64(5)}}}}
	assert.True(t, Matches(doc, expr))

	expr2 := Expr{"items": document.Document{"$elemMatch": Expr{"qty": document.Document{"$gte": float64(50)}}}}
	assert.False(t, Matches(doc, expr2))
}

func TestMatchesStringOperators(t *testing.T) {
	doc := document.Document{"name": "hello world"}
	assert.True(t, Matches(doc, Expr{"name": document.Document{"$startsWith": "hello"}}))
	assert.True(t, Matches(doc, Expr{"name": document.Document{"$endsWith": "world"}}))
	assert.True(t, Matches(doc, Expr{"name": document.Document{"$contains": "lo wo"}}))
	assert.True(t, Matches(doc, Expr{"name": document.Document{"$regex": "^hello"}}))
}

func TestRegexRejectsLongAndCatastrophicPatterns(t *testing.T) {
	doc := document.Document{"name": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa!"}

	longPattern := ""
	for i := 0; i < 1001; i++ {
		longPattern += "a"
	}
	assert.False(t, Matches(doc, Expr{"name": document.Document{"$regex": longPattern}}))

	catastrophic := "(a+)+$"
	assert.False(t, Matches(doc, Expr{"name": document.Document{"$regex": catastrophic}}))
}

func TestExistsOperator(t *testing.T) {
	doc := document.Document{"a": float64(1)}
	assert.True(t, Matches(doc, Expr{"a": document.Document{"$exists": true}}))
	assert.True(t, Matches(doc, Expr{"b": document.Document{"$exists": false}}))
	assert.False(t, Matches(doc, Expr{"b": document.Document{"$exists": true}}))
}

func TestCrossTypeComparisonsReturnFalse(t *testing.T) {
	doc := document.Document{"a": "string-value"}
	assert.False(t, Matches(doc, Expr{"a": document.Document{"$gt": float64(5)}}))
}

func TestDeepEqualTimestampsByInstant(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.In(time.FixedZone("X", 3600))
	assert.True(t, DeepEqual(t1, t2))
}

func TestSortLessMissingAlwaysLast(t *testing.T) {
	assert.True(t, SortLess(float64(1), nil, false))
	assert.True(t, SortLess(float64(1), nil, true))
	assert.False(t, SortLess(nil, float64(1), false))
	assert.False(t, SortLess(nil, float64(1), true))
}

func TestEqualityFieldsIgnoresOrNot(t *testing.T) {
	expr := Expr{
		"$and": []any{
			Expr{"status": "active"},
			Expr{"age": document.Document{"$gte": float64(1)}},
		},
		"$or": []any{Expr{"x": 1}},
	}
	fields := EqualityFields(expr)
	assert.True(t, fields["status"])
	assert.True(t, fields["age"])
	assert.False(t, fields["x"])
}
