package compile

import (
	"sort"
	"strings"

	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// Factorize rewrites logical rules to extract common subsets of their
// IS_ANY_OF value sets (spec §4.3, C3). Rules are grouped by an identical
// conjunctive signature; within a group, each disjunctive field shared by
// every member is rewritten so members share a single intersection set
// instead of each carrying its own, overlapping set.
//
// Factorize never changes what an event matches: factorize(R) and R compile
// to the same observable match results for every event (testable property
// 4). It only changes which predicate objects a group of rules shares.
func Factorize(dict *dictionary.Dictionary, rules []LogicalRule) []LogicalRule {
	groups := groupBySignature(rules)
	out := make([]LogicalRule, len(rules))
	for _, idxs := range groups {
		group := make([]LogicalRule, len(idxs))
		for i, idx := range idxs {
			group[i] = rules[idx].Clone()
		}
		for i, r := range factorizeGroup(dict, group) {
			out[idxs[i]] = r
		}
	}
	return out
}

// groupBySignature buckets rule indices by their conjunctive signature — the
// sorted canonical keys of every non-disjunctive condition. Two rules in the
// same bucket have identical conjunctive conditions and differ only in their
// disjunctive (IS_ANY_OF) fields, making them candidates for factorization.
func groupBySignature(rules []LogicalRule) map[string][]int {
	groups := make(map[string][]int)
	for i, r := range rules {
		sig := conjunctiveSignature(r)
		groups[sig] = append(groups[sig], i)
	}
	return groups
}

func conjunctiveSignature(r LogicalRule) string {
	keys := make([]string, len(r.Conjunctive))
	for i, p := range r.Conjunctive {
		keys[i] = p.CanonicalKey()
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x1f")
}

// factorizeGroup applies the fixed-point rewrite to a set of rules sharing
// an identical conjunctive signature. Iteration is bounded at
// len(distinctFields)*len(group) passes (SPEC_FULL.md §4 Open Question
// resolution 3) since each pass either rewrites at least one field to a
// smaller common form or makes no change, and a field can only be
// meaningfully rewritten once per group before its members' remaining sets
// stop sharing a multi-element intersection.
func factorizeGroup(dict *dictionary.Dictionary, group []LogicalRule) []LogicalRule {
	if len(group) < 2 {
		return group
	}

	distinctFields := make(map[int32]struct{})
	for _, r := range group {
		for _, id := range r.disjunctiveFieldIDs() {
			distinctFields[id] = struct{}{}
		}
	}
	maxIter := len(distinctFields) * len(group)
	if maxIter == 0 {
		return group
	}

	for iter := 0; iter < maxIter; iter++ {
		fieldID, ok := nextCommonField(dict, group)
		if !ok {
			break
		}
		rewriteField(group, fieldID)
	}
	return group
}

// nextCommonField finds the lowest-field-name-ordered field present (as a
// disjunction) in every member of the group whose merged value sets have an
// intersection of two or more elements, and that has not already been
// collapsed to its own intersection (i.e. still has room to shrink). It
// returns false once no such field remains.
func nextCommonField(dict *dictionary.Dictionary, group []LogicalRule) (int32, bool) {
	common := commonDisjunctiveFields(group)
	sort.Slice(common, func(i, j int) bool {
		return fieldName(dict, common[i]) < fieldName(dict, common[j])
	})
	for _, fieldID := range common {
		intersection, ok := intersectField(group, fieldID)
		if !ok {
			continue
		}
		if len(intersection) < 2 {
			continue
		}
		if alreadyCollapsed(group, fieldID, intersection) {
			continue
		}
		return fieldID, true
	}
	return 0, false
}

func fieldName(dict *dictionary.Dictionary, fieldID int32) string {
	if name, ok := dict.Decode(fieldID); ok {
		return name
	}
	return ""
}

// commonDisjunctiveFields returns field ids present in every member's
// disjunctive set.
func commonDisjunctiveFields(group []LogicalRule) []int32 {
	counts := make(map[int32]int)
	for _, r := range group {
		for _, id := range r.disjunctiveFieldIDs() {
			counts[id]++
		}
	}
	var common []int32
	for id, n := range counts {
		if n == len(group) {
			common = append(common, id)
		}
	}
	return common
}

func intersectField(group []LogicalRule, fieldID int32) ([]int64, bool) {
	var intersection []int64
	for i, r := range group {
		vals := r.mergedDisjunctiveValues(fieldID)
		if len(vals) == 0 {
			return nil, false
		}
		if i == 0 {
			intersection = vals
			continue
		}
		intersection = intersectSorted(intersection, vals)
		if len(intersection) == 0 {
			return nil, false
		}
	}
	return intersection, true
}

func intersectSorted(a, b []int64) []int64 {
	out := make([]int64, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// alreadyCollapsed reports whether every member's first DisjunctiveGroup
// for fieldID already equals intersection exactly (the shape rewriteField
// leaves behind, with any remainder in a later group), meaning a further
// rewrite would be a no-op.
func alreadyCollapsed(group []LogicalRule, fieldID int32, intersection []int64) bool {
	for _, r := range group {
		var vals []int64
		for _, g := range r.Disjunctive {
			if g.FieldID == fieldID {
				vals = g.Values
				break
			}
		}
		if len(vals) != len(intersection) {
			return false
		}
		for i := range vals {
			if vals[i] != intersection[i] {
				return false
			}
		}
	}
	return true
}

// rewriteField replaces every member's value set for fieldID with the
// shared intersection plus, for members whose original set had values
// outside the intersection, a second disjunctive group holding that
// remainder. The two groups are alternatives (their union reproduces the
// member's original set exactly); CombinationBuilder merges them back
// together before expansion, so this split is purely a bookkeeping device
// that lets group members share predicate registrations for the
// intersection's elements.
func rewriteField(group []LogicalRule, fieldID int32) {
	intersection, ok := intersectField(group, fieldID)
	if !ok || len(intersection) < 2 {
		return
	}
	for i := range group {
		original := group[i].mergedDisjunctiveValues(fieldID)
		remainder := subtractSorted(original, intersection)
		group[i].replaceField(fieldID, predicate.CanonicalizeSet(append([]int64(nil), intersection...)))
		if len(remainder) > 0 {
			group[i].addDisjunction(fieldID, remainder)
		}
	}
}

func subtractSorted(a, b []int64) []int64 {
	bSet := make(map[int64]struct{}, len(b))
	for _, v := range b {
		bSet[v] = struct{}{}
	}
	var out []int64
	for _, v := range a {
		if _, in := bSet[v]; !in {
			out = append(out, v)
		}
	}
	return out
}
