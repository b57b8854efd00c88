package cache

import (
	"testing"

	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/model"
	"github.com/heliosrules/helios/services/engine/predicate"
)

func buildTestModel(t *testing.T) (*model.EngineModel, *dictionary.Dictionary, *dictionary.Dictionary) {
	t.Helper()
	fieldDict := dictionary.New()
	valueDict := dictionary.New()
	countryID := fieldDict.Encode("COUNTRY")
	amountID := fieldDict.Encode("AMOUNT")
	usID := valueDict.Encode("US")

	reg := predicate.NewRegistry()
	rules := []compile.LogicalRule{{
		RuleCode: "A",
		Enabled:  true,
		Conjunctive: []*predicate.Predicate{
			{FieldID: amountID, Operator: predicate.GreaterThan, NumValue: 10},
		},
		Disjunctive: []compile.DisjunctiveGroup{
			{FieldID: countryID, Values: []int64{int64(usID)}, StringValued: true},
		},
	}}
	result, err := compile.Compile(fieldDict, reg, rules, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m := model.Build(fieldDict, valueDict, result, model.Options{SelectionStrategy: model.AllMatches})
	return m, fieldDict, valueDict
}

func TestComputeEligibleMatchesStaticPredicate(t *testing.T) {
	m, fieldDict, valueDict := buildTestModel(t)
	enc := event.New(fieldDict, valueDict)

	match := enc.Encode(&event.Event{EventID: "e1", Attributes: map[string]any{"country": "US"}})
	eligible := ComputeEligible(m, match)
	if eligible.IsEmpty() {
		t.Fatal("expected the combination whose static COUNTRY=US predicate holds to be eligible")
	}

	noMatch := enc.Encode(&event.Event{EventID: "e2", Attributes: map[string]any{"country": "FR"}})
	eligibleNone := ComputeEligible(m, noMatch)
	if !eligibleNone.IsEmpty() {
		t.Fatalf("expected no eligible combinations for an unmatched static predicate, got %v", eligibleNone.ToArray())
	}
}

func TestDeriveKeyStableAcrossIrrelevantFields(t *testing.T) {
	m, fieldDict, valueDict := buildTestModel(t)
	enc := event.New(fieldDict, valueDict)

	a := enc.Encode(&event.Event{EventID: "e1", Attributes: map[string]any{"country": "US", "noise": "anything"}})
	b := enc.Encode(&event.Event{EventID: "e2", Attributes: map[string]any{"country": "US"}})

	if DeriveKey(m, a) != DeriveKey(m, b) {
		t.Fatal("expected the cache key to depend only on fields referenced by a BaseConditionSet")
	}

	c := enc.Encode(&event.Event{EventID: "e3", Attributes: map[string]any{"country": "FR"}})
	if DeriveKey(m, a) == DeriveKey(m, c) {
		t.Fatal("expected a different COUNTRY value to derive a different key")
	}
}

func TestLookupPopulatesInMemoryCacheOnMiss(t *testing.T) {
	m, fieldDict, valueDict := buildTestModel(t)
	enc := event.New(fieldDict, valueDict)
	ev := enc.Encode(&event.Event{EventID: "e1", Attributes: map[string]any{"country": "US"}})

	c, err := NewInMemoryCache(1000)
	if err != nil {
		t.Fatalf("new in-memory cache: %v", err)
	}

	first := Lookup(c, m, ev, 0)
	// Put is asynchronous; Wait flushes ristretto's write buffer.
	c.store.Wait()
	key := DeriveKey(m, ev)
	if _, ok := c.Get(key); !ok {
		t.Fatal("expected Lookup to populate the cache on a miss")
	}

	second := Lookup(c, m, ev, 0)
	if !first.Equals(second) {
		t.Fatal("expected cache transparency: hit and miss paths must agree")
	}
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	c := NewNoopCache()
	if _, ok := c.Get(Key{}); ok {
		t.Fatal("expected NoopCache.Get to always report a miss")
	}
	c.Put(Key{}, nil, 0)
	if _, ok := c.Get(Key{}); ok {
		t.Fatal("expected NoopCache.Put to have no effect")
	}
}
