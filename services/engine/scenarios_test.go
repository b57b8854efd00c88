package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heliosrules/helios/services/engine/cache"
	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/evaluate"
	"github.com/heliosrules/helios/services/engine/model"
	"github.com/heliosrules/helios/services/engine/predicate"
	"github.com/heliosrules/helios/services/engine/rulesource"
)

// buildModel compiles the rule-source fixture at fixtureName into an
// EngineModel using the given selection strategy. The fixture path is
// relative to test/fixtures, the shared location for the scenario wire
// files this suite and cmd/helios's manual testing both draw from.
func buildModel(t *testing.T, fixtureName string, strategy model.SelectionStrategy) (*model.EngineModel, *compile.Result) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("..", "..", "test", "fixtures", fixtureName))
	if err != nil {
		t.Fatalf("reading fixture %s: %v", fixtureName, err)
	}
	raw, err := rulesource.DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON %s: %v", fixtureName, err)
	}

	fieldDict := dictionary.New()
	valueDict := dictionary.New()
	rules, err := rulesource.Build(fieldDict, valueDict, raw)
	if err != nil {
		t.Fatalf("Build %s: %v", fixtureName, err)
	}

	reg := predicate.NewRegistry()
	result, err := compile.Compile(fieldDict, reg, rules, nil)
	if err != nil {
		t.Fatalf("Compile %s: %v", fixtureName, err)
	}

	m := model.Build(fieldDict, valueDict, result, model.Options{
		SelectionStrategy:    strategy,
		EligibleSetCacheSize: 1000,
	})
	return m, result
}

// evaluateOne runs a single event through the full matcher pipeline with
// no base-condition cache, returning the matched rule codes in emission
// order.
func evaluateOne(m *model.EngineModel, attrs map[string]any) []string {
	enc := event.New(m.FieldDict, m.ValueDict)
	encoded := enc.Encode(&event.Event{EventID: "e1", Attributes: attrs})
	eligible := cache.ComputeEligible(m, encoded)

	matcher := evaluate.NewMatcher(m)
	pool := evaluate.NewPool(m)
	ctx := pool.Get()
	defer pool.Put(ctx)

	result := matcher.Evaluate(encoded, eligible, ctx)
	codes := make([]string, len(result.MatchedRules))
	for i, match := range result.MatchedRules {
		codes[i] = match.RuleCode
	}
	return codes
}

func TestS1SimpleConjunction(t *testing.T) {
	m, _ := buildModel(t, "s1_rules.json", model.AllMatches)

	if got := evaluateOne(m, map[string]any{"status": "ACTIVE", "amount": 150.0}); !equalSet(got, []string{"A"}) {
		t.Fatalf("expected [A], got %v", got)
	}
	if got := evaluateOne(m, map[string]any{"status": "ACTIVE", "amount": 50.0}); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestS2DisjunctiveFactorization(t *testing.T) {
	m, result := buildModel(t, "s2_rules.json", model.AllMatches)

	// country==US is the same registered predicate for both rules, so B/US
	// and C/US collapse into one shared combination (allRuleCodes=[B,C]);
	// B/CA and C/MX each stay distinct. 4 logical (rule, value) pairs, 3
	// combinations after dedup.
	if len(result.Combinations) != 3 {
		t.Fatalf("expected 3 combinations after dedup, got %d", len(result.Combinations))
	}

	if got := evaluateOne(m, map[string]any{"country": "US"}); !equalSet(got, []string{"B", "C"}) {
		t.Fatalf("expected [B C], got %v", got)
	}
	if got := evaluateOne(m, map[string]any{"country": "FR"}); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestS3SharedCombinationSelection(t *testing.T) {
	allMatches, _ := buildModel(t, "s3_rules.json", model.AllMatches)
	if allMatches.NumCombinations() != 1 {
		t.Fatalf("expected X and Y to collapse into 1 combination, got %d", allMatches.NumCombinations())
	}
	if got := evaluateOne(allMatches, map[string]any{"country": "US"}); !equalSet(got, []string{"X", "Y"}) {
		t.Fatalf("ALL_MATCHES: expected [X Y], got %v", got)
	}

	highestPriority, _ := buildModel(t, "s3_rules.json", model.HighestPriority)
	got := evaluateOne(highestPriority, map[string]any{"country": "US"})
	if !equalSet(got, []string{"Y"}) {
		t.Fatalf("HIGHEST_PRIORITY: expected the higher-priority code [Y], got %v", got)
	}
}

func TestS4ContradictionDropped(t *testing.T) {
	m, result := buildModel(t, "s4_rules.json", model.AllMatches)

	if result.Stats.DroppedContradictory != 1 {
		t.Fatalf("expected 1 dropped contradictory combination, got %d", result.Stats.DroppedContradictory)
	}
	if m.NumCombinations() != 0 {
		t.Fatalf("expected zero combinations, got %d", m.NumCombinations())
	}
	if got := evaluateOne(m, map[string]any{"x": 30.0}); len(got) != 0 {
		t.Fatalf("expected no matches against a ruleset with no live combinations, got %v", got)
	}
}

func TestS5Factorization(t *testing.T) {
	m, _ := buildModel(t, "s5_rules.json", model.AllMatches)

	if got := evaluateOne(m, map[string]any{"amount": 20.0, "country": "UK"}); !equalSet(got, []string{"R1"}) {
		t.Fatalf("expected [R1], got %v", got)
	}
	if got := evaluateOne(m, map[string]any{"amount": 20.0, "country": "US"}); !equalSet(got, []string{"R1", "R2"}) {
		t.Fatalf("expected [R1 R2], got %v", got)
	}
	if got := evaluateOne(m, map[string]any{"amount": 5.0, "country": "US"}); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestS6CacheTransparency(t *testing.T) {
	m, _ := buildModel(t, "s6_rules.json", model.AllMatches)
	attrs := map[string]any{"country": "US", "tier": "GOLD"}

	enc := event.New(m.FieldDict, m.ValueDict)
	matcher := evaluate.NewMatcher(m)
	pool := evaluate.NewPool(m)

	noCacheCodes := evaluateOne(m, attrs)

	inmem, err := cache.NewInMemoryCache(1000)
	if err != nil {
		t.Fatalf("NewInMemoryCache: %v", err)
	}

	// ristretto's Put is asynchronous; give the first write a moment to
	// land before measuring hit rate over the main run, so a slow buffer
	// flush doesn't read as a false cache miss.
	warmup := enc.Encode(&event.Event{EventID: "warmup", Attributes: attrs})
	cache.Lookup(inmem, m, warmup, 0)
	time.Sleep(50 * time.Millisecond)

	const iterations = 1000
	for i := 0; i < iterations; i++ {
		encoded := enc.Encode(&event.Event{EventID: "warm", Attributes: attrs})
		eligible := cache.Lookup(inmem, m, encoded, 0)

		ctx := pool.Get()
		result := matcher.Evaluate(encoded, eligible, ctx)
		pool.Put(ctx)

		codes := make([]string, len(result.MatchedRules))
		for j, match := range result.MatchedRules {
			codes[j] = match.RuleCode
		}
		if !equalSet(codes, noCacheCodes) {
			t.Fatalf("iteration %d: cached result %v diverged from uncached %v", i, codes, noCacheCodes)
		}
	}

	metrics := inmem.Metrics()
	total := metrics.Hits + metrics.Misses
	hitRate := float64(metrics.Hits) / float64(total)
	if hitRate < 0.99 {
		t.Fatalf("expected hit rate >= 0.99 after warm-up, got %.4f (hits=%d misses=%d)", hitRate, metrics.Hits, metrics.Misses)
	}
}

func equalSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]int, len(want))
	for _, w := range want {
		seen[w]++
	}
	for _, g := range got {
		seen[g]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
