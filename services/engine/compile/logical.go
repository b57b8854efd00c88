// Package compile implements the compiler: the factorizer (C3), combination
// builder (C4), and base-condition extractor (C8) that turn decoded logical
// rules into the data the immutable model (services/engine/model) is built
// from.
package compile

import (
	"sort"

	"github.com/heliosrules/helios/services/engine/predicate"
)

// LogicalRule is a single authored rule after rule-source decoding but
// before Cartesian expansion (spec §3 "Logical rule", §4.3/§4.4).
//
// Description:
//
//	Conjunctive holds every non-disjunctive condition (EQUAL_TO,
//	NOT_EQUAL_TO, GREATER_THAN, LESS_THAN, BETWEEN, IS_NONE_OF, CONTAINS,
//	STARTS_WITH, ENDS_WITH, REGEX, IS_NULL, IS_NOT_NULL) as unregistered
//	predicate templates. Disjunctive holds one entry per field with an
//	IS_ANY_OF condition — the only operator the combination builder
//	expands into a Cartesian product (spec §4.4). A field may have more
//	than one DisjunctiveGroup after factorization (the shared intersection
//	and a rule-specific remainder); CombinationBuilder unions every group
//	for a field before cross-producting across fields, since multiple
//	groups on the same field are alternatives (OR), not independent
//	dimensions.
type LogicalRule struct {
	RuleCode    string
	Priority    int
	Description string
	Enabled     bool

	Conjunctive []*predicate.Predicate
	Disjunctive []DisjunctiveGroup
}

// DisjunctiveGroup is one IS_ANY_OF condition on a single field: a set of
// encoded operand values (string operands as dictionary ids, numeric
// operands as their raw int64 form).
type DisjunctiveGroup struct {
	FieldID int32
	Values  []int64
	// StringValued reports whether Values holds dictionary ids (true) or
	// raw numeric operands (false). All groups for the same field within a
	// rule family agree on this, since a field's declared type is fixed.
	StringValued bool
}

// Clone returns a deep copy of the rule, safe to mutate independently of
// the original (the factorizer never mutates its input in place).
func (r LogicalRule) Clone() LogicalRule {
	out := r
	out.Conjunctive = append([]*predicate.Predicate(nil), r.Conjunctive...)
	out.Disjunctive = make([]DisjunctiveGroup, len(r.Disjunctive))
	for i, g := range r.Disjunctive {
		out.Disjunctive[i] = DisjunctiveGroup{FieldID: g.FieldID, Values: append([]int64(nil), g.Values...), StringValued: g.StringValued}
	}
	return out
}

// mergedDisjunctiveValues returns the union of every DisjunctiveGroup's
// values for fieldID, canonically sorted and de-duplicated. Multiple
// groups for the same field are alternatives to one another (see the
// LogicalRule doc comment); this is the set CombinationBuilder and the
// factorizer both treat as "the rule's value set for this field".
func (r LogicalRule) mergedDisjunctiveValues(fieldID int32) []int64 {
	var merged []int64
	for _, g := range r.Disjunctive {
		if g.FieldID == fieldID {
			merged = append(merged, g.Values...)
		}
	}
	return predicate.CanonicalizeSet(merged)
}

// fieldIsStringValued reports whether fieldID's disjunctive groups encode
// string (dictionary id) values, defaulting to false (numeric) if the field
// has no groups.
func (r LogicalRule) fieldIsStringValued(fieldID int32) bool {
	for _, g := range r.Disjunctive {
		if g.FieldID == fieldID {
			return g.StringValued
		}
	}
	return false
}

// disjunctiveFieldIDs returns the sorted-ascending set of distinct field
// ids that appear in at least one DisjunctiveGroup.
func (r LogicalRule) disjunctiveFieldIDs() []int32 {
	seen := make(map[int32]struct{})
	for _, g := range r.Disjunctive {
		seen[g.FieldID] = struct{}{}
	}
	ids := make([]int32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// replaceField discards every existing DisjunctiveGroup for fieldID and
// installs the single group {fieldID, values} in their place.
func (r *LogicalRule) replaceField(fieldID int32, values []int64) {
	stringValued := r.fieldIsStringValued(fieldID)
	kept := r.Disjunctive[:0]
	for _, g := range r.Disjunctive {
		if g.FieldID != fieldID {
			kept = append(kept, g)
		}
	}
	r.Disjunctive = append(kept, DisjunctiveGroup{FieldID: fieldID, Values: values, StringValued: stringValued})
}

// addDisjunction appends an additional alternative group for fieldID (used
// for a factorization remainder of any size).
func (r *LogicalRule) addDisjunction(fieldID int32, values []int64) {
	stringValued := r.fieldIsStringValued(fieldID)
	r.Disjunctive = append(r.Disjunctive, DisjunctiveGroup{FieldID: fieldID, Values: values, StringValued: stringValued})
}
