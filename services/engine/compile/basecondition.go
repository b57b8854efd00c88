package compile

import (
	"hash/fnv"
	"sort"

	"github.com/heliosrules/helios/services/engine/predicate"
)

// BaseConditionSet is the de-duplicated static sub-signature shared by one
// or more combinations: the sorted subset of a combination's predicate ids
// that are static (EQUAL_TO/IS_ANY_OF) and on a non-dynamic field (spec
// §4.8, C8). The base-condition cache (services/engine/cache, C9) keys its
// entries on a BaseConditionSet rather than a full combination, so many
// combinations sharing the same static prefix amortize one cache lookup.
type BaseConditionSet struct {
	PredicateIDs []int32
}

// BaseConditionTable is the compiled output of ExtractBaseConditions: the
// de-duplicated set of base conditions plus, for every combination (by
// index, parallel to the []Combination slice passed in), which base
// condition it belongs to.
type BaseConditionTable struct {
	Sets []BaseConditionSet

	// CombinationBaseID[i] is the index into Sets for combos[i], or -1 if
	// the combination has no static predicates (nothing to cache on).
	CombinationBaseID []int32
}

// ExtractBaseConditions computes the BaseConditionTable for combos. A
// predicate is eligible for a base condition when its Operator.IsStatic()
// and its FieldID is not in dynamicFields (fields whose values are expected
// to vary per event — e.g. request timestamps — and so make poor cache
// keys, spec §6 dynamicFields).
//
// Deduplication uses an FNV-1a hash of the sorted predicate id subset as a
// bucket key, with an explicit equality check on the id slice to resolve
// hash collisions — two distinct subsets that happen to hash identically
// are never merged.
func ExtractBaseConditions(reg *predicate.Registry, combos []Combination, dynamicFields map[int32]bool) *BaseConditionTable {
	table := &BaseConditionTable{
		CombinationBaseID: make([]int32, len(combos)),
	}
	buckets := make(map[uint64][]int32) // hash -> Sets indices sharing that hash

	for i, combo := range combos {
		static := staticSubset(reg, combo.PredicateIDs, dynamicFields)
		if len(static) == 0 {
			table.CombinationBaseID[i] = -1
			continue
		}

		h := hashIDs(static)
		var found int32 = -1
		for _, candidate := range buckets[h] {
			if idSliceEqual(table.Sets[candidate].PredicateIDs, static) {
				found = candidate
				break
			}
		}
		if found == -1 {
			found = int32(len(table.Sets))
			table.Sets = append(table.Sets, BaseConditionSet{PredicateIDs: static})
			buckets[h] = append(buckets[h], found)
		}
		table.CombinationBaseID[i] = found
	}

	return table
}

func staticSubset(reg *predicate.Registry, ids []int32, dynamicFields map[int32]bool) []int32 {
	var out []int32
	for _, id := range ids {
		p := reg.Get(id)
		if p == nil || !p.Operator.IsStatic() {
			continue
		}
		if dynamicFields != nil && dynamicFields[p.FieldID] {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func hashIDs(ids []int32) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, id := range ids {
		buf[0] = byte(id)
		buf[1] = byte(id >> 8)
		buf[2] = byte(id >> 16)
		buf[3] = byte(id >> 24)
		h.Write(buf)
	}
	return h.Sum64()
}

func idSliceEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
