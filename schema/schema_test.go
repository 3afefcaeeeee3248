package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/document"
)

func TestValidateCollectsAllErrors(t *testing.T) {
	min1 := 1.0
	s := New(map[string]*Field{
		"title": {Types: []FieldType{TypeString}, Required: true, Min: &min1},
		"age":   {Types: []FieldType{TypeNumber}},
	})

	result := s.Validate(document.Document{"title": "", "age": "not-a-number"})
	require.False(t, result.OK())
	assert.Len(t, result.Errors, 2)
}

func TestValidateUnionPassesOnAnyBranch(t *testing.T) {
	s := New(map[string]*Field{
		"value": {Types: []FieldType{TypeString, TypeNumber}},
	})
	result := s.Validate(document.Document{"value": float64(42)})
	assert.True(t, result.OK())
}

func TestValidateAdditionalPropertiesFalse(t *testing.T) {
	s := New(map[string]*Field{"title": {Types: []FieldType{TypeString}}})
	s.AdditionalProperties = false

	result := s.Validate(document.Document{"title": "ok", "extra": 1, "_internal": 1, "id": "x"})
	require.False(t, result.OK())
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "extra", result.Errors[0].Path)
}

func TestApplyDefaultsDeepCopiesAndDoesNotAlias(t *testing.T) {
	defaultTags := []any{"a", "b"}
	s := New(map[string]*Field{
		"tags": {Types: []FieldType{TypeArray}, Default: defaultTags},
	})

	d1 := s.ApplyDefaults(document.Document{})
	d2 := s.ApplyDefaults(document.Document{})

	d1["tags"].([]any)[0] = "mutated"
	assert.Equal(t, "a", d2["tags"].([]any)[0])
}

func TestApplyDefaultsThunk(t *testing.T) {
	calls := 0
	s := New(map[string]*Field{
		"counter": {Types: []FieldType{TypeNumber}, DefaultFunc: func() any {
			calls++
			return float64(calls)
		}},
	})
	out := s.ApplyDefaults(document.Document{})
	assert.Equal(t, float64(1), out["counter"])
}

func TestEnumValidation(t *testing.T) {
	s := New(map[string]*Field{
		"status": {Types: []FieldType{TypeString}, Enum: []any{"active", "inactive"}},
	})
	result := s.Validate(document.Document{"status": "archived"})
	assert.False(t, result.OK())
}
