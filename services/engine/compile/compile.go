package compile

import (
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// Result is the full output of the compiler pipeline (C3 -> C4 -> C8),
// ready for services/engine/model to assemble into an immutable engine
// model.
type Result struct {
	Registry     *predicate.Registry
	Combinations []Combination
	BaseTable    *BaseConditionTable
	Stats        Stats
}

// Compile runs the factorizer, combination builder, and base-condition
// extractor over rules in sequence (spec §4.3/§4.4/§4.8), producing
// everything services/engine/model needs to build the SoA combination
// tables and inverted index.
//
// dynamicFields are field ids excluded from base-condition extraction (spec
// §6 dynamicFields); reg accumulates every predicate referenced by the
// compiled rules and must be fresh (unused) on entry.
func Compile(dict *dictionary.Dictionary, reg *predicate.Registry, rules []LogicalRule, dynamicFields map[int32]bool) (*Result, error) {
	factored := Factorize(dict, rules)

	combos, stats, err := Build(reg, factored)
	if err != nil {
		return nil, err
	}

	baseTable := ExtractBaseConditions(reg, combos, dynamicFields)

	return &Result{
		Registry:     reg,
		Combinations: combos,
		BaseTable:    baseTable,
		Stats:        stats,
	}, nil
}
