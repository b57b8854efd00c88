package compile

import (
	"testing"

	"github.com/heliosrules/helios/services/engine/predicate"
)

func TestExtractBaseConditionsDedupesSharedStaticSubset(t *testing.T) {
	reg := predicate.NewRegistry()
	staticID, err := reg.Register(&predicate.Predicate{FieldID: 1, Operator: predicate.EqualTo, HasStringID: true, StringID: 9})
	if err != nil {
		t.Fatal(err)
	}
	dynamicID, err := reg.Register(&predicate.Predicate{FieldID: 2, Operator: predicate.GreaterThan, NumValue: 10})
	if err != nil {
		t.Fatal(err)
	}

	combos := []Combination{
		{PredicateIDs: []int32{staticID, dynamicID}, Rules: []RuleRef{{Code: "R1"}}},
		{PredicateIDs: []int32{staticID}, Rules: []RuleRef{{Code: "R2"}}},
	}

	table := ExtractBaseConditions(reg, combos, nil)
	if len(table.Sets) != 1 {
		t.Fatalf("expected 1 shared base condition, got %d", len(table.Sets))
	}
	if table.CombinationBaseID[0] != table.CombinationBaseID[1] {
		t.Fatalf("expected both combinations to share a base condition id")
	}
}

func TestExtractBaseConditionsExcludesDynamicFields(t *testing.T) {
	reg := predicate.NewRegistry()
	id, err := reg.Register(&predicate.Predicate{FieldID: 3, Operator: predicate.EqualTo, HasStringID: true, StringID: 1})
	if err != nil {
		t.Fatal(err)
	}
	combos := []Combination{{PredicateIDs: []int32{id}}}

	table := ExtractBaseConditions(reg, combos, map[int32]bool{3: true})
	if table.CombinationBaseID[0] != -1 {
		t.Fatalf("expected -1 base id for an all-dynamic combination, got %d", table.CombinationBaseID[0])
	}
	if len(table.Sets) != 0 {
		t.Fatalf("expected no base condition sets, got %d", len(table.Sets))
	}
}

func TestExtractBaseConditionsExcludesNonStaticOperators(t *testing.T) {
	reg := predicate.NewRegistry()
	id, err := reg.Register(&predicate.Predicate{FieldID: 4, Operator: predicate.GreaterThan, NumValue: 1})
	if err != nil {
		t.Fatal(err)
	}
	combos := []Combination{{PredicateIDs: []int32{id}}}

	table := ExtractBaseConditions(reg, combos, nil)
	if table.CombinationBaseID[0] != -1 {
		t.Fatalf("expected GREATER_THAN predicate excluded from base condition, got id %d", table.CombinationBaseID[0])
	}
}
