// Package schema implements per-collection document validation and default
// application (component B): field/type declarations, constraints, and the
// deep-copying defaults machinery grounded on the teacher's use of
// jinzhu/copier for safe duplication of shared state.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/jinzhu/copier"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

// FieldType names one of the recognized JSON-ish value kinds a Field may
// declare. A Field may accept a union of types by listing more than one.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeDate    FieldType = "date"
	TypeNull    FieldType = "null"
	TypeAny     FieldType = "any"
)

// DefaultFunc produces a default value on demand ("thunk" defaults), e.g.
// document.NowMillis for a created_at field.
type DefaultFunc func() any

// Field describes one schema field. Types lists a union: the field passes
// validation if any branch's type (and that branch's own constraints, for
// object/array) matches.
type Field struct {
	Types       []FieldType
	Required    bool
	Default     any
	DefaultFunc DefaultFunc
	Min         *float64 // numeric range, or min length for string/array
	Max         *float64
	Pattern     string // regex source, checked only for TypeString branches
	Enum        []any
	Items       *Field            // element schema, for TypeArray
	Properties  map[string]*Field // nested field map, for TypeObject

	compiledPattern *regexp.Regexp
}

// Schema is a collection's field declarations plus schema-level options.
type Schema struct {
	Fields map[string]*Field

	// Required lists additional field names required at the top level,
	// beyond any field individually marked Required.
	Required []string

	// AdditionalProperties, when false, rejects unknown top-level keys
	// except engine-reserved underscore-prefixed ones.
	AdditionalProperties bool
}

// New builds a Schema with AdditionalProperties defaulting to true, as
// spec'd ("default true").
func New(fields map[string]*Field) *Schema {
	return &Schema{Fields: fields, AdditionalProperties: true}
}

// ValidationResult enumerates every error found; it never short-circuits at
// the first failure so a caller can report the whole document at once.
type ValidationResult struct {
	Errors []errs.FieldError
}

// OK reports whether the document passed validation.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// AsError returns nil when OK, otherwise an *errs.ValidationError wrapping
// every field error found.
func (r ValidationResult) AsError() error {
	if r.OK() {
		return nil
	}
	return &errs.ValidationError{Errors: r.Errors}
}

// Validate checks doc against s, collecting every violation.
func (s *Schema) Validate(doc document.Document) ValidationResult {
	var result ValidationResult
	seen := make(map[string]bool, len(s.Fields))

	for name, field := range s.Fields {
		seen[name] = true
		val, present := doc[name]
		result.Errors = append(result.Errors, validateField(name, field, val, present)...)
	}

	for _, name := range s.Required {
		if seen[name] {
			continue // already checked via Fields
		}
		if _, present := doc[name]; !present {
			result.Errors = append(result.Errors, errs.FieldError{Path: name, Message: "required field is missing"})
		}
	}

	if !s.AdditionalProperties {
		for k := range doc {
			if k[0] == '_' {
				continue // engine-reserved
			}
			if _, declared := s.Fields[k]; declared {
				continue
			}
			if isReservedKey(k) {
				continue
			}
			result.Errors = append(result.Errors, errs.FieldError{Path: k, Message: "unknown field not permitted"})
		}
	}

	return result
}

func isReservedKey(k string) bool {
	switch k {
	case document.FieldID, document.FieldRev, document.FieldUpdatedAt, document.FieldDeleted:
		return true
	default:
		return false
	}
}

func validateField(path string, field *Field, val any, present bool) []errs.FieldError {
	if !present || val == nil {
		if field.Required {
			return []errs.FieldError{{Path: path, Message: "required field is missing"}}
		}
		return nil
	}

	types := field.Types
	if len(types) == 0 {
		types = []FieldType{TypeAny}
	}

	var branchErrs [][]errs.FieldError
	for _, t := range types {
		errsForBranch := validateType(path, field, t, val)
		if len(errsForBranch) == 0 {
			return nil // union passes if any branch passes
		}
		branchErrs = append(branchErrs, errsForBranch)
	}
	// every branch failed: report the first branch's errors (stable, since
	// Types is declared in order).
	return branchErrs[0]
}

func validateType(path string, field *Field, t FieldType, val any) []errs.FieldError {
	switch t {
	case TypeAny:
		return nil
	case TypeNull:
		if val != nil {
			return []errs.FieldError{{Path: path, Message: "expected null"}}
		}
		return nil
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return []errs.FieldError{{Path: path, Message: "expected string"}}
		}
		var out []errs.FieldError
		if field.Min != nil && float64(len(s)) < *field.Min {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("length must be >= %v", *field.Min)})
		}
		if field.Max != nil && float64(len(s)) > *field.Max {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("length must be <= %v", *field.Max)})
		}
		if field.Pattern != "" {
			re := field.compiledPattern
			if re == nil {
				var err error
				re, err = regexp.Compile(field.Pattern)
				if err == nil {
					field.compiledPattern = re
				}
			}
			if re != nil && !re.MatchString(s) {
				out = append(out, errs.FieldError{Path: path, Message: "does not match pattern"})
			}
		}
		out = append(out, validateEnum(path, field.Enum, val)...)
		return out
	case TypeNumber:
		n, ok := asFloat(val)
		if !ok {
			return []errs.FieldError{{Path: path, Message: "expected number"}}
		}
		var out []errs.FieldError
		if field.Min != nil && n < *field.Min {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("must be >= %v", *field.Min)})
		}
		if field.Max != nil && n > *field.Max {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("must be <= %v", *field.Max)})
		}
		out = append(out, validateEnum(path, field.Enum, val)...)
		return out
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return []errs.FieldError{{Path: path, Message: "expected boolean"}}
		}
		return nil
	case TypeDate:
		if !isDateLike(val) {
			return []errs.FieldError{{Path: path, Message: "expected date (ISO string or epoch number)"}}
		}
		return nil
	case TypeArray:
		arr, ok := val.([]any)
		if !ok {
			return []errs.FieldError{{Path: path, Message: "expected array"}}
		}
		var out []errs.FieldError
		if field.Min != nil && float64(len(arr)) < *field.Min {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("must have length >= %v", *field.Min)})
		}
		if field.Max != nil && float64(len(arr)) > *field.Max {
			out = append(out, errs.FieldError{Path: path, Message: fmt.Sprintf("must have length <= %v", *field.Max)})
		}
		if field.Items != nil {
			for i, elem := range arr {
				out = append(out, validateField(fmt.Sprintf("%s.%d", path, i), field.Items, elem, true)...)
			}
		}
		return out
	case TypeObject:
		obj, ok := asObject(val)
		if !ok {
			return []errs.FieldError{{Path: path, Message: "expected object"}}
		}
		var out []errs.FieldError
		for name, sub := range field.Properties {
			v, present := obj[name]
			out = append(out, validateField(path+"."+name, sub, v, present)...)
		}
		return out
	default:
		return []errs.FieldError{{Path: path, Message: "unknown field type"}}
	}
}

func validateEnum(path string, enum []any, val any) []errs.FieldError {
	if len(enum) == 0 {
		return nil
	}
	for _, e := range enum {
		if e == val {
			return nil
		}
	}
	return []errs.FieldError{{Path: path, Message: "value not in enum set"}}
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func asObject(val any) (document.Document, bool) {
	switch v := val.(type) {
	case document.Document:
		return v, true
	case map[string]any:
		return document.Document(v), true
	default:
		return nil, false
	}
}

func isDateLike(val any) bool {
	switch val.(type) {
	case string:
		return true // storage-contract textual ISO forms are validated lazily by callers
	default:
		_, ok := asFloat(val)
		return ok
	}
}

// ApplyDefaults returns a copy of doc with every absent declared field
// populated from its default (invoking DefaultFunc thunks, deep-copying
// default object/array values so two documents never alias the same
// backing map or slice).
func (s *Schema) ApplyDefaults(doc document.Document) document.Document {
	out := doc.Clone()
	if out == nil {
		out = document.Document{}
	}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic application order

	for _, name := range names {
		field := s.Fields[name]
		if _, present := out[name]; present {
			continue
		}
		if field.DefaultFunc != nil {
			out[name] = field.DefaultFunc()
			continue
		}
		if field.Default != nil {
			out[name] = deepCopyDefault(field.Default)
		}
	}
	return out
}

func deepCopyDefault(v any) any {
	switch t := v.(type) {
	case document.Document:
		return t.Clone()
	case map[string]any:
		return document.Document(t).Clone()
	case []any:
		dst := make([]any, len(t))
		if err := copier.CopyWithOption(&dst, &t, copier.Option{DeepCopy: true}); err != nil {
			// fall back to a shallow copy of elements; copier only fails on
			// genuinely uncopiable reflect kinds, which default values
			// never contain in practice.
			copy(dst, t)
		}
		return dst
	default:
		return t
	}
}
