package model

import (
	"bytes"
	"testing"

	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

func buildTestModel(t *testing.T) (*EngineModel, *dictionary.Dictionary) {
	t.Helper()

	fieldDict := dictionary.New()
	valueDict := dictionary.New()
	statusID := fieldDict.Encode("STATUS")
	amountID := fieldDict.Encode("AMOUNT")
	activeID := valueDict.Encode("ACTIVE")

	reg := predicate.NewRegistry()
	r1 := compile.LogicalRule{
		RuleCode: "A",
		Priority: 1,
		Enabled:  true,
		Conjunctive: []*predicate.Predicate{
			{FieldID: statusID, Operator: predicate.EqualTo, HasStringID: true, StringID: activeID},
			{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 100},
		},
	}

	result, err := compile.Compile(fieldDict, reg, []compile.LogicalRule{r1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	m := Build(fieldDict, valueDict, result, Options{SelectionStrategy: AllMatches})
	return m, fieldDict
}

func TestBuildProducesExpectedCombination(t *testing.T) {
	m, _ := buildTestModel(t)
	if m.NumCombinations() != 1 {
		t.Fatalf("expected 1 combination, got %d", m.NumCombinations())
	}
	if m.RuleCode[0] != "A" {
		t.Fatalf("expected rule code A, got %s", m.RuleCode[0])
	}
	if m.PredicateCount[0] != 2 {
		t.Fatalf("expected 2 predicates in combination, got %d", m.PredicateCount[0])
	}
}

func TestPostingContainsCombination(t *testing.T) {
	m, _ := buildTestModel(t)
	for _, pid := range m.PredicateIDs[0] {
		posting := m.Posting(pid)
		if posting == nil || !posting.Contains(0) {
			t.Fatalf("expected predicate %d's posting to contain combination 0", pid)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m, _ := buildTestModel(t)

	var buf bytes.Buffer
	if err := Serialize(&buf, m); err != nil {
		t.Fatal(err)
	}

	restored, err := Deserialize(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if restored.NumCombinations() != m.NumCombinations() {
		t.Fatalf("combination count mismatch after round trip")
	}
	if restored.RuleCode[0] != m.RuleCode[0] {
		t.Fatalf("rule code mismatch: got %s want %s", restored.RuleCode[0], m.RuleCode[0])
	}
	if len(restored.Predicates) != len(m.Predicates) {
		t.Fatalf("predicate count mismatch after round trip")
	}
	for _, pid := range restored.PredicateIDs[0] {
		if !restored.Posting(pid).Contains(0) {
			t.Fatalf("restored posting missing combination 0 for predicate %d", pid)
		}
	}
}

func TestEligiblePredicateSetUnionsMemberCombinations(t *testing.T) {
	m, _ := buildTestModel(t)

	eligible := m.InvertedIndex[m.PredicateIDs[0][0]].Clone()
	ids := m.EligiblePredicateSet(eligible)
	if len(ids) != int(m.PredicateCount[0]) {
		t.Fatalf("expected %d eligible predicates, got %d", m.PredicateCount[0], len(ids))
	}

	// A second call with an equal (but distinct) bitmap returns a set of the
	// same size, whether the model-scope cache's asynchronous write has
	// landed yet or the set is recomputed.
	again := m.EligiblePredicateSet(eligible.Clone())
	if len(again) != len(ids) {
		t.Fatalf("expected cached result of equal length, got %d vs %d", len(again), len(ids))
	}
}
