package predicate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Predicate is a single (field, operator, value) atom (spec §3).
//
// Description:
//
//	Predicate is a tagged-union-by-convention struct: only the fields
//	relevant to Operator are populated, the rest are left at their zero
//	value. This keeps evaluation a flat switch over Operator
//	(services/engine/evaluate) instead of a virtual call through an
//	interface, matching the teacher's preference for explicit structs over
//	polymorphism (e.g. ast.SymbolKind switches rather than a Kind
//	interface).
//
// Identity:
//
//	Two predicates are equal iff (FieldID, Operator, canonical value)
//	match; Weight and Selectivity are cost/probability metadata and never
//	participate in identity (spec §4.2, testable property 3).
type Predicate struct {
	ID       int32
	FieldID  int32
	Operator Operator

	// NumValue holds the operand for GREATER_THAN/LESS_THAN and the
	// numeric form of EQUAL_TO/NOT_EQUAL_TO when the field is numeric.
	NumValue float64

	// StringID holds the dictionary id of the operand for EQUAL_TO/
	// NOT_EQUAL_TO when the field is a string.
	StringID    int32
	HasStringID bool

	// Lo/Hi hold the inclusive bounds for BETWEEN.
	Lo, Hi float64

	// Set holds the sorted-ascending encoded operands for IS_ANY_OF/
	// IS_NONE_OF. String operands are dictionary ids; numeric operands are
	// stored directly. Always sorted and de-duplicated (canonical form).
	Set []int64

	// Substr holds the literal operand for CONTAINS/STARTS_WITH/ENDS_WITH,
	// matched against the event's decoded string value.
	Substr string

	// PatternSrc is the canonical (user-supplied) regex source, compared
	// for predicate identity. Pattern is the compiled, full-match-anchored
	// form (see SPEC_FULL.md §4 Open Question resolutions): the raw
	// pattern wrapped as ^(?:pattern)$.
	PatternSrc string
	Pattern    *regexp.Regexp

	// Weight is a compile-time evaluation-cost estimate, used only to
	// order field evaluation (cheap fields first). Not part of identity.
	Weight float64

	// Selectivity is a compile-time match-probability estimate in [0,1].
	// Not part of identity.
	Selectivity float64
}

// CanonicalKey returns a string uniquely identifying this predicate's
// (fieldId, operator, value) after canonicalization, ignoring Weight,
// Selectivity, and ID. Used by Registry to deduplicate (spec §4.2).
func (p *Predicate) CanonicalKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|", p.FieldID, p.Operator)

	switch p.Operator {
	case EqualTo, NotEqualTo:
		if p.HasStringID {
			fmt.Fprintf(&b, "s:%d", p.StringID)
		} else {
			fmt.Fprintf(&b, "n:%s", formatFloat(p.NumValue))
		}
	case GreaterThan, LessThan:
		fmt.Fprintf(&b, "n:%s", formatFloat(p.NumValue))
	case Between:
		fmt.Fprintf(&b, "n:%s:%s", formatFloat(p.Lo), formatFloat(p.Hi))
	case IsAnyOf, IsNoneOf:
		for i, v := range p.Set {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d", v)
		}
	case Contains, StartsWith, EndsWith:
		b.WriteString(p.Substr)
	case Regex:
		b.WriteString(p.PatternSrc)
	case IsNull, IsNotNull:
		// Operator and FieldID alone determine identity.
	}
	return b.String()
}

// formatFloat renders a float64 deterministically for use in a canonical
// key, collapsing integral values (the common case for rule authoring) to
// a plain integer string so "100" and "100.0" canonicalize identically.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CanonicalizeSet sorts and de-duplicates a set of encoded int64 operands
// in place, returning the canonical slice. Used by rule-source decoding
// before registering IS_ANY_OF/IS_NONE_OF predicates.
func CanonicalizeSet(set []int64) []int64 {
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	out := set[:0]
	var last int64
	hasLast := false
	for _, v := range set {
		if hasLast && v == last {
			continue
		}
		out = append(out, v)
		last = v
		hasLast = true
	}
	return out
}

// CompileRegex wraps src as a full-match pattern and compiles it. Per
// SPEC_FULL.md §4, REGEX predicates use full-match semantics (anchored at
// both ends); anchoring here means the compiled matcher's MatchString is
// already a full-match test, so the evaluator never special-cases anchoring
// at runtime.
func CompileRegex(src string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + src + ")$")
}

// ContainsInt64 reports whether the sorted set contains v, via binary
// search (spec §4.7 IS_ANY_OF/IS_NONE_OF: "binary search in sorted int
// set").
func ContainsInt64(set []int64, v int64) bool {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= v })
	return i < len(set) && set[i] == v
}
