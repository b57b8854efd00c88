package model

import (
	"hash/fnv"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// Options configures Build beyond what the compiler output already
// determines (spec §6 configuration options that affect C5 construction).
type Options struct {
	SelectionStrategy    SelectionStrategy
	EligibleSetCacheSize int64 // default 10_000 per spec §6
}

// Build assembles the immutable EngineModel from a compiler Result (spec
// §4.5, C5). It is the only place weights/selectivity defaults are filled
// in for predicates the rule author left unscored, the inverted index is
// populated, and the reverse lookups are derived.
func Build(fieldDict, valueDict *dictionary.Dictionary, result *compile.Result, opts Options) *EngineModel {
	reg := result.Registry
	combos := result.Combinations
	baseTable := result.BaseTable

	applyDefaultWeights(reg)

	m := &EngineModel{
		FieldDict:              fieldDict,
		ValueDict:              valueDict,
		Predicates:              reg.All(),
		InvertedIndex:           make([]*roaring.Bitmap, reg.Len()),
		PredicateCount:          make([]int32, len(combos)),
		Priority:                make([]int, len(combos)),
		RuleCode:                make([]string, len(combos)),
		PredicateIDs:            make([][]int32, len(combos)),
		AllRuleCodes:            make([][]string, len(combos)),
		AllPriorities:           make([][]int, len(combos)),
		Description:             make([]string, len(combos)),
		FieldToPredicates:       make(map[int32][]int32),
		FieldMinWeight:          make(map[int32]float64),
		RuleCodeToCombinations:  make(map[string][]int32),
		PredicateIDToRuleCodes:  make(map[int32][]string),
		CombinationBaseID:       append([]int32(nil), baseTable.CombinationBaseID...),
		SelectionStrategy:       opts.SelectionStrategy,
		eligibleSetCache:        newEligibleSetCache(opts.EligibleSetCacheSize),
	}

	for i := range m.InvertedIndex {
		m.InvertedIndex[i] = roaring.New()
	}

	ruleCodesSeen := make(map[int32]map[string]struct{})

	for i, c := range combos {
		m.PredicateCount[i] = int32(len(c.PredicateIDs))
		m.PredicateIDs[i] = c.PredicateIDs
		m.RuleCode[i] = c.Rules[0].Code
		m.Priority[i] = c.Rules[0].Priority

		codes := make([]string, len(c.Rules))
		prios := make([]int, len(c.Rules))
		for j, ref := range c.Rules {
			codes[j] = ref.Code
			prios[j] = ref.Priority
			m.RuleCodeToCombinations[ref.Code] = append(m.RuleCodeToCombinations[ref.Code], int32(i))
		}
		m.AllRuleCodes[i] = codes
		m.AllPriorities[i] = prios

		for _, pid := range c.PredicateIDs {
			m.InvertedIndex[pid].Add(uint32(i))

			if ruleCodesSeen[pid] == nil {
				ruleCodesSeen[pid] = make(map[string]struct{})
			}
			for _, code := range codes {
				ruleCodesSeen[pid][code] = struct{}{}
			}
		}
	}

	for pid, set := range ruleCodesSeen {
		codes := make([]string, 0, len(set))
		for code := range set {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		m.PredicateIDToRuleCodes[pid] = codes
	}

	for id, p := range reg.All() {
		pid := int32(id)
		m.FieldToPredicates[p.FieldID] = append(m.FieldToPredicates[p.FieldID], pid)
		if cur, ok := m.FieldMinWeight[p.FieldID]; !ok || p.Weight < cur {
			m.FieldMinWeight[p.FieldID] = p.Weight
		}
	}

	m.NullCheckFields = nullCheckFields(reg)

	allIDs := make([]int32, reg.Len())
	for i := range allIDs {
		allIDs[i] = int32(i)
	}
	sort.Slice(allIDs, func(i, j int) bool {
		return reg.Get(allIDs[i]).Weight < reg.Get(allIDs[j]).Weight
	})
	m.SortedPredicatesByWeight = allIDs

	m.BaseConditionSets = make([]BaseConditionSet, len(baseTable.Sets))
	affected := make([]*roaring.Bitmap, len(baseTable.Sets))
	for i := range affected {
		affected[i] = roaring.New()
	}
	for comboIdx, baseID := range baseTable.CombinationBaseID {
		if baseID < 0 {
			continue
		}
		affected[baseID].Add(uint32(comboIdx))
	}
	for i, set := range baseTable.Sets {
		m.BaseConditionSets[i] = BaseConditionSet{
			SetID:                int32(i),
			StaticPredicateIDs:   set.PredicateIDs,
			CanonicalHash:        canonicalHash(reg, set.PredicateIDs),
			AffectedCombinations: affected[i],
			AvgSelectivity:       avgSelectivity(reg, set.PredicateIDs),
		}
	}

	m.AlwaysEligible = alwaysEligible(baseTable.CombinationBaseID)

	return m
}

// alwaysEligible returns the bitmap of combination indices with no static
// predicate subset at all.
func alwaysEligible(combinationBaseID []int32) *roaring.Bitmap {
	bm := roaring.New()
	for i, baseID := range combinationBaseID {
		if baseID < 0 {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// applyDefaultWeights fills in Weight/Selectivity for any predicate the
// rule author left at zero, using the compile-time heuristics spec §9
// names: IS_ANY_OF is cheap when its set is small, REGEX is expensive,
// everything else is a flat baseline. The hot path never recomputes these.
func applyDefaultWeights(reg *predicate.Registry) {
	for _, p := range reg.All() {
		if p.Selectivity == 0 {
			p.Selectivity = defaultSelectivity(p.Operator)
		}
		if p.Weight != 0 {
			continue
		}
		switch p.Operator {
		case predicate.IsAnyOf, predicate.IsNoneOf:
			p.Weight = 1 + float64(len(p.Set))/100
		case predicate.Regex:
			p.Weight = 10
		case predicate.Contains, predicate.StartsWith, predicate.EndsWith:
			p.Weight = 3
		default:
			p.Weight = 1
		}
	}
}

// nullCheckFields collects the sorted, deduplicated set of fields carrying
// at least one IS_NULL predicate.
func nullCheckFields(reg *predicate.Registry) []int32 {
	return nullCheckFieldsFromSlice(reg.All())
}

// nullCheckFieldsFromSlice is the Deserialize-side counterpart of
// nullCheckFields, operating directly on a decoded predicate slice since
// deserialization never builds a Registry.
func nullCheckFieldsFromSlice(preds []*predicate.Predicate) []int32 {
	seen := make(map[int32]struct{})
	for _, p := range preds {
		if p.Operator == predicate.IsNull {
			seen[p.FieldID] = struct{}{}
		}
	}
	fields := make([]int32, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

func defaultSelectivity(op predicate.Operator) float64 {
	switch op {
	case predicate.EqualTo, predicate.IsAnyOf:
		return 0.1
	case predicate.NotEqualTo, predicate.IsNoneOf:
		return 0.9
	default:
		return 0.5
	}
}

// canonicalHash computes the deterministic FNV-1a hash over a
// BaseConditionSet's sorted predicate ids, each folded with its
// (fieldId, operator, canonical value) so two sets with different
// predicates never collide cheaply (spec §3 BaseConditionSet).
func canonicalHash(reg *predicate.Registry, ids []int32) int64 {
	h := fnv.New64a()
	for _, id := range ids {
		p := reg.Get(id)
		h.Write([]byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)})
		_, _ = h.Write([]byte(p.CanonicalKey()))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

func avgSelectivity(reg *predicate.Registry, ids []int32) float64 {
	if len(ids) == 0 {
		return 0
	}
	var total float64
	for _, id := range ids {
		total += reg.Get(id).Selectivity
	}
	return total / float64(len(ids))
}
