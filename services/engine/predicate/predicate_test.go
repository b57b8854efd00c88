package predicate

import "testing"

func TestParseOperatorCaseInsensitive(t *testing.T) {
	cases := map[string]Operator{
		"equal_to":     EqualTo,
		"EQUAL_TO":     EqualTo,
		"eq":           EqualTo,
		"IS_ANY_OF":    IsAnyOf,
		"in":           IsAnyOf,
		"not_in":       IsNoneOf,
		"BETWEEN":      Between,
		"greater_than": GreaterThan,
	}
	for s, want := range cases {
		got, ok := ParseOperator(s)
		if !ok {
			t.Errorf("ParseOperator(%q): expected ok", s)
			continue
		}
		if got != want {
			t.Errorf("ParseOperator(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParseOperatorUnknown(t *testing.T) {
	if _, ok := ParseOperator("FUZZY_MATCH"); ok {
		t.Error("expected unknown operator to fail")
	}
}

func TestCanonicalKeyIgnoresWeightAndSelectivity(t *testing.T) {
	p1 := &Predicate{FieldID: 1, Operator: EqualTo, HasStringID: true, StringID: 5, Weight: 1.0, Selectivity: 0.2}
	p2 := &Predicate{FieldID: 1, Operator: EqualTo, HasStringID: true, StringID: 5, Weight: 99.0, Selectivity: 0.9}
	if p1.CanonicalKey() != p2.CanonicalKey() {
		t.Error("canonical key must not depend on weight/selectivity")
	}
}

func TestCanonicalKeyDistinguishesOperators(t *testing.T) {
	eq := &Predicate{FieldID: 1, Operator: EqualTo, HasStringID: true, StringID: 5}
	neq := &Predicate{FieldID: 1, Operator: NotEqualTo, HasStringID: true, StringID: 5}
	if eq.CanonicalKey() == neq.CanonicalKey() {
		t.Error("EQUAL_TO and NOT_EQUAL_TO on identical values must canonicalize differently")
	}
}

func TestCanonicalizeSetSortsAndDedupes(t *testing.T) {
	set := []int64{5, 1, 3, 1, 5}
	got := CanonicalizeSet(set)
	want := []int64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIsAnyOfSetIdenticalAfterReorder(t *testing.T) {
	p1 := &Predicate{FieldID: 2, Operator: IsAnyOf, Set: CanonicalizeSet([]int64{3, 1, 2})}
	p2 := &Predicate{FieldID: 2, Operator: IsAnyOf, Set: CanonicalizeSet([]int64{2, 3, 1})}
	if p1.CanonicalKey() != p2.CanonicalKey() {
		t.Error("set predicates differing only in input order must canonicalize identically")
	}
}

func TestContainsInt64(t *testing.T) {
	set := []int64{1, 3, 5, 7}
	for _, v := range []int64{1, 3, 5, 7} {
		if !ContainsInt64(set, v) {
			t.Errorf("expected %d to be found", v)
		}
	}
	for _, v := range []int64{0, 2, 8} {
		if ContainsInt64(set, v) {
			t.Errorf("expected %d to be absent", v)
		}
	}
}

func TestRegistryDeduplicates(t *testing.T) {
	r := NewRegistry()
	id1, err := r.Register(&Predicate{FieldID: 1, Operator: EqualTo, HasStringID: true, StringID: 9, Weight: 1})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r.Register(&Predicate{FieldID: 1, Operator: EqualTo, HasStringID: true, StringID: 9, Weight: 2})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected deduplicated id, got %d and %d", id1, id2)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryBadPattern(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(&Predicate{FieldID: 1, Operator: Regex, PatternSrc: "("})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestRegistryGetOutOfRange(t *testing.T) {
	r := NewRegistry()
	if r.Get(0) != nil {
		t.Error("expected nil for empty registry")
	}
	if r.Get(-1) != nil {
		t.Error("expected nil for negative id")
	}
}
