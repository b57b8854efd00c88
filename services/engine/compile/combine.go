package compile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/heliosrules/helios/services/engine/predicate"
)

// RuleRef is a (code, priority) pair attached to a Combination (spec §4.4).
type RuleRef struct {
	Code     string
	Priority int
}

// Combination is a fully expanded conjunctive set of predicate ids, shared
// by every rule whose expansion produced that exact set (spec §4.4, C4).
// Order of PredicateIDs is sorted ascending; this is the combination's
// identity key.
type Combination struct {
	PredicateIDs []int32
	Rules        []RuleRef
}

// combinationKey returns the string identity of a sorted predicate id set, used to
// deduplicate combinations across rules and across the Cartesian expansion
// of a single rule.
func combinationKey(ids []int32) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(id)))
	}
	return b.String()
}

// Stats reports non-fatal outcomes of Build (spec §7): contradictory
// combinations are dropped silently, and a rule every one of whose
// combinations was dropped is reported as dead, not fatal.
type Stats struct {
	DroppedContradictory int
	DeadRules            []string
}

// Build expands every logical rule's disjunctions into one Combination per
// Cartesian product member, registering each constituent predicate in reg,
// and deduplicates combinations carrying an identical predicate id set
// across rules (spec §4.4): "if equal to an existing combination, append
// this rule's (code, priority) to that combination's list instead of
// creating a new one."
//
// A candidate combination whose predicates are logically incompatible on
// the same field (e.g. `x > 100` and `x < 50`) is dropped silently
// (ContradictoryRule, spec §7); if every combination a rule would have
// produced is dropped this way, the rule is reported as dead in Stats but
// Build still succeeds.
//
// Disabled rules (LogicalRule.Enabled == false) are skipped entirely — they
// contribute no predicates and no combinations.
func Build(reg *predicate.Registry, rules []LogicalRule) ([]Combination, Stats, error) {
	byKey := make(map[string]int)
	var combos []Combination
	var stats Stats

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		conjunctiveIDs := make([]int32, 0, len(rule.Conjunctive))
		for _, p := range rule.Conjunctive {
			id, err := reg.Register(p)
			if err != nil {
				return nil, stats, err
			}
			conjunctiveIDs = append(conjunctiveIDs, id)
		}

		fieldIDs := rule.disjunctiveFieldIDs()
		valueSets := make([][]int64, len(fieldIDs))
		stringValued := make([]bool, len(fieldIDs))
		for i, fieldID := range fieldIDs {
			valueSets[i] = rule.mergedDisjunctiveValues(fieldID)
			stringValued[i] = rule.fieldIsStringValued(fieldID)
		}

		members := cartesianProduct(valueSets)
		if len(fieldIDs) == 0 {
			members = [][]int64{nil}
		}

		ref := RuleRef{Code: rule.RuleCode, Priority: rule.Priority}
		produced := 0
		for _, member := range members {
			ids := append([]int32(nil), conjunctiveIDs...)
			for i, v := range member {
				eq := &predicate.Predicate{
					FieldID:     fieldIDs[i],
					Operator:    predicate.EqualTo,
					HasStringID: stringValued[i],
					Weight:      1,
				}
				if stringValued[i] {
					eq.StringID = int32(v)
				} else {
					eq.NumValue = float64(v)
				}
				id, err := reg.Register(eq)
				if err != nil {
					return nil, stats, err
				}
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			if isContradictory(combinationPredicates(reg, ids)) {
				stats.DroppedContradictory++
				continue
			}
			produced++

			key := combinationKey(ids)
			if idx, ok := byKey[key]; ok {
				combos[idx].Rules = append(combos[idx].Rules, ref)
				continue
			}
			byKey[key] = len(combos)
			combos = append(combos, Combination{PredicateIDs: ids, Rules: []RuleRef{ref}})
		}

		if len(members) > 0 && produced == 0 {
			stats.DeadRules = append(stats.DeadRules, rule.RuleCode)
		}
	}

	return combos, stats, nil
}

func combinationPredicates(reg *predicate.Registry, ids []int32) []*predicate.Predicate {
	out := make([]*predicate.Predicate, len(ids))
	for i, id := range ids {
		out[i] = reg.Get(id)
	}
	return out
}

// cartesianProduct returns the Cartesian product of sets, each inner slice
// one member with one value per input set, in the order a nested loop over
// sets[0], sets[1], ... would visit them.
func cartesianProduct(sets [][]int64) [][]int64 {
	if len(sets) == 0 {
		return nil
	}
	total := 1
	for _, s := range sets {
		if len(s) == 0 {
			return nil
		}
		total *= len(s)
	}
	out := make([][]int64, total)
	for i := range out {
		out[i] = make([]int64, len(sets))
	}
	stride := total
	for dim, s := range sets {
		stride /= len(s)
		for i := 0; i < total; i++ {
			out[i][dim] = s[(i/stride)%len(s)]
		}
	}
	return out
}
