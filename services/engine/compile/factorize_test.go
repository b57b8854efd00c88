package compile

import (
	"testing"

	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

func newTestDict() *dictionary.Dictionary {
	d := dictionary.New()
	d.Encode("AMOUNT")
	d.Encode("COUNTRY")
	return d
}

// TestFactorizeExtractsSharedIntersection mirrors the worked example: two
// rules share "amount > 10" and differ only in their country membership set
// (R1: US, CA, UK; R2: US, CA). After factorization both rules should
// report the same two-element intersection for country, and R1 should carry
// an additional single-element remainder.
func TestFactorizeExtractsSharedIntersection(t *testing.T) {
	dict := newTestDict()
	amountID, _ := dict.Lookup("AMOUNT")
	countryID, _ := dict.Lookup("COUNTRY")
	us, ca, uk := dict.Encode("US"), dict.Encode("CA"), dict.Encode("UK")

	amountGT10 := &predicate.Predicate{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}

	r1 := LogicalRule{
		RuleCode:    "R1",
		Priority:    1,
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{amountGT10},
		Disjunctive: []DisjunctiveGroup{{
			FieldID:      countryID,
			Values:       predicate.CanonicalizeSet([]int64{int64(us), int64(ca), int64(uk)}),
			StringValued: true,
		}},
	}
	r2 := LogicalRule{
		RuleCode:    "R2",
		Priority:    1,
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
		Disjunctive: []DisjunctiveGroup{{
			FieldID:      countryID,
			Values:       predicate.CanonicalizeSet([]int64{int64(us), int64(ca)}),
			StringValued: true,
		}},
	}

	out := Factorize(dict, []LogicalRule{r1, r2})
	if len(out) != 2 {
		t.Fatalf("expected 2 rules out, got %d", len(out))
	}

	for _, r := range out {
		total := r.mergedDisjunctiveValues(countryID)
		if len(total) < 2 {
			t.Fatalf("rule %s: expected merged country set to survive factorization, got %v", r.RuleCode, total)
		}
	}

	var r1Out LogicalRule
	for _, r := range out {
		if r.RuleCode == "R1" {
			r1Out = r
		}
	}
	totalR1 := r1Out.mergedDisjunctiveValues(countryID)
	if len(totalR1) != 3 {
		t.Fatalf("R1 merged set should still total 3 values (US,CA,UK), got %v", totalR1)
	}

	for _, r := range out {
		shared := false
		for _, g := range r.Disjunctive {
			if g.FieldID == countryID && len(g.Values) == 2 && g.Values[0] == int64(us) && g.Values[1] == int64(ca) {
				shared = true
			}
		}
		if !shared {
			t.Fatalf("rule %s: expected a [US CA] intersection group, got %v", r.RuleCode, r.Disjunctive)
		}
	}

	remainder := false
	for _, g := range r1Out.Disjunctive {
		if g.FieldID == countryID && len(g.Values) == 1 && g.Values[0] == int64(uk) {
			remainder = true
		}
	}
	if !remainder {
		t.Fatalf("R1: expected a [UK] remainder group, got %v", r1Out.Disjunctive)
	}
}

// TestFactorizeNoSharedSignatureIsNoop verifies rules with different
// conjunctive conditions are never grouped together.
func TestFactorizeNoSharedSignatureIsNoop(t *testing.T) {
	dict := newTestDict()
	amountID, _ := dict.Lookup("AMOUNT")
	countryID, _ := dict.Lookup("COUNTRY")
	us, ca := dict.Encode("US"), dict.Encode("CA")

	r1 := LogicalRule{
		RuleCode:    "R1",
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
		Disjunctive: []DisjunctiveGroup{{FieldID: countryID, Values: predicate.CanonicalizeSet([]int64{int64(us), int64(ca)}), StringValued: true}},
	}
	r2 := LogicalRule{
		RuleCode:    "R2",
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 50}},
		Disjunctive: []DisjunctiveGroup{{FieldID: countryID, Values: predicate.CanonicalizeSet([]int64{int64(us), int64(ca)}), StringValued: true}},
	}

	out := Factorize(dict, []LogicalRule{r1, r2})
	if len(out) != 2 {
		t.Fatalf("expected 2 rules out, got %d", len(out))
	}
}

// TestFactorizeSingleMemberGroupUntouched checks a group of one is returned
// unchanged (no intersection possible with only one rule).
func TestFactorizeSingleMemberGroupUntouched(t *testing.T) {
	dict := newTestDict()
	amountID, _ := dict.Lookup("AMOUNT")
	countryID, _ := dict.Lookup("COUNTRY")
	us := dict.Encode("US")

	r1 := LogicalRule{
		RuleCode:    "R1",
		Enabled:     true,
		Conjunctive: []*predicate.Predicate{{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10}},
		Disjunctive: []DisjunctiveGroup{{FieldID: countryID, Values: []int64{int64(us)}, StringValued: true}},
	}

	out := Factorize(dict, []LogicalRule{r1})
	if len(out) != 1 {
		t.Fatalf("expected 1 rule out, got %d", len(out))
	}
	if len(out[0].mergedDisjunctiveValues(countryID)) != 1 {
		t.Fatalf("expected untouched single-value set")
	}
}
