package filter

import (
	"strings"

	"github.com/riftdb/riftdb/document"
)

// Expr is a wire filter expression: a map from field paths (or logical
// operator keys $and/$or/$not/$nor) to either a direct equality value or an
// operator map like {"$gte": 30, "$lte": 40}.
type Expr = document.Document

// Matches evaluates expr against doc. An empty expression matches every
// document.
func Matches(doc document.Document, expr Expr) bool {
	for key, val := range expr {
		switch key {
		case "$and":
			for _, sub := range toArray(val) {
				se, ok := asExpr(sub)
				if !ok || !Matches(doc, se) {
					return false
				}
			}
		case "$or":
			arr := toArray(val)
			if len(arr) == 0 {
				continue
			}
			matched := false
			for _, sub := range arr {
				if se, ok := asExpr(sub); ok && Matches(doc, se) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$not":
			se, ok := asExpr(val)
			if ok && Matches(doc, se) {
				return false
			}
		case "$nor":
			for _, sub := range toArray(val) {
				if se, ok := asExpr(sub); ok && Matches(doc, se) {
					return false
				}
			}
		default:
			fieldVal, _ := doc.Get(key)
			if !matchField(fieldVal, val) {
				return false
			}
		}
	}
	return true
}

// EqualityFields extracts the set of top-level field paths referenced by
// top-level equalities and range operators, per the planner's index
// selection rule: $and contributes its children's fields, $or/$not/$nor do
// not contribute (the planner cannot use an index to prune on them).
func EqualityFields(expr Expr) map[string]bool {
	fields := make(map[string]bool)
	collectFields(expr, fields)
	return fields
}

func collectFields(expr Expr, out map[string]bool) {
	for key, val := range expr {
		switch key {
		case "$and":
			for _, sub := range toArray(val) {
				if se, ok := asExpr(sub); ok {
					collectFields(se, out)
				}
			}
		case "$or", "$not", "$nor":
			// ignored for index selection, per the planner contract
		default:
			out[key] = true
		}
	}
}

func matchField(fieldVal any, condition any) bool {
	condMap, ok := asOperatorMap(condition)
	if !ok {
		return DeepEqual(fieldVal, condition)
	}
	for op, opVal := range condMap {
		if !evalOperator(op, fieldVal, opVal) {
			return false
		}
	}
	return true
}

func evalOperator(op string, fieldVal, opVal any) bool {
	switch op {
	case "$eq":
		return DeepEqual(fieldVal, opVal)
	case "$ne":
		return !DeepEqual(fieldVal, opVal)
	case "$gt":
		return CompareOrdered(fieldVal, opVal) == Greater
	case "$gte":
		r := CompareOrdered(fieldVal, opVal)
		return r == Greater || r == Equal
	case "$lt":
		return CompareOrdered(fieldVal, opVal) == Less
	case "$lte":
		r := CompareOrdered(fieldVal, opVal)
		return r == Less || r == Equal
	case "$in":
		for _, e := range toArray(opVal) {
			if DeepEqual(fieldVal, e) {
				return true
			}
		}
		return false
	case "$nin":
		for _, e := range toArray(opVal) {
			if DeepEqual(fieldVal, e) {
				return false
			}
		}
		return true
	case "$all":
		arr, ok := fieldVal.([]any)
		if !ok {
			return false
		}
		for _, want := range toArray(opVal) {
			found := false
			for _, e := range arr {
				if DeepEqual(e, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$size":
		arr, ok := fieldVal.([]any)
		if !ok {
			return false
		}
		n, ok := asNumber(opVal)
		return ok && float64(len(arr)) == n
	case "$elemMatch":
		arr, ok := fieldVal.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if ed, ok := asDoc(e); ok {
				if se, ok := asExpr(opVal); ok && Matches(ed, se) {
					return true
				}
				continue
			}
			if matchField(e, opVal) {
				return true
			}
		}
		return false
	case "$regex":
		s, ok := fieldVal.(string)
		if !ok {
			return false
		}
		pattern, _ := opVal.(string)
		re := compileSafe(pattern)
		if re == nil {
			return false // rejected patterns match nothing, never raise
		}
		return re.MatchString(s)
	case "$startsWith":
		s, ok := fieldVal.(string)
		p, _ := opVal.(string)
		return ok && strings.HasPrefix(s, p)
	case "$endsWith":
		s, ok := fieldVal.(string)
		p, _ := opVal.(string)
		return ok && strings.HasSuffix(s, p)
	case "$contains":
		if s, ok := fieldVal.(string); ok {
			p, _ := opVal.(string)
			return strings.Contains(s, p)
		}
		if arr, ok := fieldVal.([]any); ok {
			for _, e := range arr {
				if DeepEqual(e, opVal) {
					return true
				}
			}
		}
		return false
	case "$exists":
		want, _ := opVal.(bool)
		return !IsMissing(fieldVal) == want
	default:
		return false // unrecognized operators never match
	}
}

func toArray(v any) []any {
	arr, _ := v.([]any)
	return arr
}

func asExpr(v any) (Expr, bool) {
	switch t := v.(type) {
	case document.Document:
		return t, true
	case map[string]any:
		return document.Document(t), true
	default:
		return nil, false
	}
}

func asDoc(v any) (document.Document, bool) {
	return asExpr(v)
}

func asOperatorMap(v any) (document.Document, bool) {
	d, ok := asExpr(v)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for k := range d {
		return d, strings.HasPrefix(k, "$")
	}
	return nil, false
}
