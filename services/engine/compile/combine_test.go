package compile

import (
	"testing"

	"github.com/heliosrules/helios/services/engine/predicate"
)

// TestBuildExpandsDisjunctionIntoCombinations verifies a single IS_ANY_OF
// field produces one combination per value (spec §4.4).
func TestBuildExpandsDisjunctionIntoCombinations(t *testing.T) {
	dict := newTestDict()
	countryID, _ := dict.Lookup("COUNTRY")
	us, ca := dict.Encode("US"), dict.Encode("CA")

	reg := predicate.NewRegistry()
	rule := LogicalRule{
		RuleCode: "R1",
		Priority: 1,
		Enabled:  true,
		Disjunctive: []DisjunctiveGroup{{
			FieldID:      countryID,
			Values:       predicate.CanonicalizeSet([]int64{int64(us), int64(ca)}),
			StringValued: true,
		}},
	}

	combos, _, err := Build(reg, []LogicalRule{rule})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 2 {
		t.Fatalf("expected 2 combinations, got %d", len(combos))
	}
	for _, c := range combos {
		if len(c.PredicateIDs) != 1 {
			t.Errorf("expected 1 predicate per combination, got %d", len(c.PredicateIDs))
		}
		if len(c.Rules) != 1 || c.Rules[0].Code != "R1" {
			t.Errorf("expected combination attributed to R1, got %+v", c.Rules)
		}
	}
}

// TestBuildSharesCombinationAcrossRules verifies two rules that expand to an
// identical predicate set share one Combination entry with both rule codes
// attached (spec §4.4 dedup rule; mirrors the worked multi-rule example).
func TestBuildSharesCombinationAcrossRules(t *testing.T) {
	dict := newTestDict()
	amountID, _ := dict.Lookup("AMOUNT")
	countryID, _ := dict.Lookup("COUNTRY")
	us := dict.Encode("US")

	reg := predicate.NewRegistry()
	r1 := LogicalRule{
		RuleCode:    "R1",
		Priority:    1,
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
		Disjunctive: []DisjunctiveGroup{{FieldID: countryID, Values: []int64{int64(us)}, StringValued: true}},
	}
	r2 := LogicalRule{
		RuleCode:    "R2",
		Priority:    2,
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
		Disjunctive: []DisjunctiveGroup{{FieldID: countryID, Values: []int64{int64(us)}, StringValued: true}},
	}

	combos, _, err := Build(reg, []LogicalRule{r1, r2})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 1 {
		t.Fatalf("expected 1 shared combination, got %d", len(combos))
	}
	if len(combos[0].Rules) != 2 {
		t.Fatalf("expected both rules attached, got %+v", combos[0].Rules)
	}
}

// TestBuildSkipsDisabledRules verifies a disabled rule contributes nothing.
func TestBuildSkipsDisabledRules(t *testing.T) {
	dict := newTestDict()
	amountID, _ := dict.Lookup("AMOUNT")

	reg := predicate.NewRegistry()
	rule := LogicalRule{
		RuleCode:    "R1",
		Enabled:     false,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
	}

	combos, _, err := Build(reg, []LogicalRule{rule})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 0 {
		t.Fatalf("expected 0 combinations for disabled rule, got %d", len(combos))
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no predicates registered for disabled rule, got %d", reg.Len())
	}
}

// TestBuildDropsContradictoryCombinationAndReportsDeadRule mirrors S4: a
// rule whose only combination requires x > 100 and x < 50 compiles
// successfully with zero combinations, and is reported dead, not fatal.
func TestBuildDropsContradictoryCombinationAndReportsDeadRule(t *testing.T) {
	dict := newTestDict()
	xID := dict.Encode("X")

	reg := predicate.NewRegistry()
	rule := LogicalRule{
		RuleCode: "D",
		Enabled:  true,
		Conjunctive: []*predicate.Predicate{
			{FieldID: xID, Operator: predicate.GreaterThan, NumValue: 100},
			{FieldID: xID, Operator: predicate.LessThan, NumValue: 50},
		},
	}

	combos, stats, err := Build(reg, []LogicalRule{rule})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 0 {
		t.Fatalf("expected 0 combinations for contradictory rule, got %d", len(combos))
	}
	if stats.DroppedContradictory != 1 {
		t.Fatalf("expected 1 dropped combination, got %d", stats.DroppedContradictory)
	}
	if len(stats.DeadRules) != 1 || stats.DeadRules[0] != "D" {
		t.Fatalf("expected rule D reported dead, got %+v", stats.DeadRules)
	}
}

// TestBuildCrossProductAcrossFields verifies two distinct disjunctive
// fields combine via a full Cartesian product, not a union.
func TestBuildCrossProductAcrossFields(t *testing.T) {
	dict := newTestDict()
	dict.Encode("DEVICE")
	countryID, _ := dict.Lookup("COUNTRY")
	deviceID, _ := dict.Lookup("DEVICE")
	us, ca := dict.Encode("US"), dict.Encode("CA")
	mobile, desktop := dict.Encode("MOBILE"), dict.Encode("DESKTOP")

	reg := predicate.NewRegistry()
	rule := LogicalRule{
		RuleCode: "R1",
		Enabled:  true,
		Disjunctive: []DisjunctiveGroup{
			{FieldID: countryID, Values: predicate.CanonicalizeSet([]int64{int64(us), int64(ca)}), StringValued: true},
			{FieldID: deviceID, Values: predicate.CanonicalizeSet([]int64{int64(mobile), int64(desktop)}), StringValued: true},
		},
	}

	combos, _, err := Build(reg, []LogicalRule{rule})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 4 {
		t.Fatalf("expected 2x2=4 combinations, got %d", len(combos))
	}
}
