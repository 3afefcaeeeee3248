package filter

import "regexp"

// maxPatternLength bounds $regex source length; longer patterns are
// rejected outright rather than compiled.
const maxPatternLength = 1000

// nestedQuantifier catches the classic catastrophic-backtracking shapes —
// a quantified group itself containing a quantified atom, e.g. (a+)+,
// (a*)*, (a+)*, ([a-z]+)+ — by looking for a quantifier character directly
// inside a parenthesized group that is itself immediately followed by
// another quantifier.
var nestedQuantifier = regexp.MustCompile(`\([^()]*[+*][^()]*\)[+*]`)

// compileSafe compiles pattern only if it passes the length and
// nested-quantifier pre-scan. Go's regexp package is itself RE2-based and
// therefore immune to exponential backtracking, but the contract here is
// stricter than "won't blow up at runtime": flagged patterns must be
// rejected outright and behave as "matches nothing", never raise, and
// never even reach the underlying engine.
func compileSafe(pattern string) *regexp.Regexp {
	if len(pattern) > maxPatternLength {
		return nil
	}
	if nestedQuantifier.MatchString(pattern) {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}
