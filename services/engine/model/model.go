// Package model defines the immutable compiled artifact (C5) the evaluator
// runs against: predicate table, inverted index, SoA combination tables,
// and the reverse lookups and caches that make per-event evaluation cheap.
package model

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// SelectionStrategy is the post-filter applied to raw matches (spec §4.11,
// C11).
type SelectionStrategy uint8

const (
	AllMatches SelectionStrategy = iota
	FirstMatch
	HighestPriority
)

func (s SelectionStrategy) String() string {
	switch s {
	case AllMatches:
		return "ALL_MATCHES"
	case FirstMatch:
		return "FIRST_MATCH"
	case HighestPriority:
		return "HIGHEST_PRIORITY"
	default:
		return "UNKNOWN_STRATEGY"
	}
}

// ParseSelectionStrategy resolves a configuration string to a
// SelectionStrategy, defaulting to ALL_MATCHES-equivalent failure reporting
// via the second return value.
func ParseSelectionStrategy(s string) (SelectionStrategy, bool) {
	switch s {
	case "ALL_MATCHES":
		return AllMatches, true
	case "FIRST_MATCH":
		return FirstMatch, true
	case "HIGHEST_PRIORITY":
		return HighestPriority, true
	default:
		return AllMatches, false
	}
}

// BaseConditionSet is a group of combinations sharing a static predicate
// sub-signature (spec §3/§4.8, C8).
type BaseConditionSet struct {
	SetID                int32
	StaticPredicateIDs   []int32
	CanonicalHash        int64
	AffectedCombinations *roaring.Bitmap
	AvgSelectivity       float64
}

// EngineModel is the immutable, compiled artifact shared across every
// concurrent evaluator call (spec §3/§4.5, C5). Every field below is
// populated once at construction and never mutated afterward, except the
// model-lifetime eligible-predicate-set cache, which is internally
// synchronized and safe for concurrent use.
type EngineModel struct {
	FieldDict *dictionary.Dictionary
	ValueDict *dictionary.Dictionary

	Predicates []*predicate.Predicate

	// InvertedIndex[predicateId] is the sorted bitmap of combination ids
	// requiring that predicate. A predicate belonging to zero combinations
	// (dead predicate) has an empty, non-nil bitmap.
	InvertedIndex []*roaring.Bitmap

	// SoA combination tables, each indexed by combinationId.
	PredicateCount []int32
	Priority       []int
	RuleCode       []string
	PredicateIDs   [][]int32
	AllRuleCodes   [][]string
	AllPriorities  [][]int
	Description    []string

	FieldToPredicates        map[int32][]int32
	SortedPredicatesByWeight []int32
	FieldMinWeight           map[int32]float64

	// NullCheckFields lists, ascending, every fieldId with at least one
	// IS_NULL predicate registered on it. The matcher (C10) enumerates
	// these separately from "fields present in the event" since IS_NULL
	// is the one operator that only ever fires on an absent field.
	NullCheckFields []int32

	RuleCodeToCombinations map[string][]int32
	PredicateIDToRuleCodes map[int32][]string

	BaseConditionSets []BaseConditionSet
	CombinationBaseID []int32

	// AlwaysEligible is the bitmap of combinations with no static predicate
	// subset (CombinationBaseID == -1, spec §4.8) — the base-condition
	// cache's filter can never exclude them, since there's nothing static
	// to check, so they're ORed into every base-filter result unconditionally.
	AlwaysEligible *roaring.Bitmap

	SelectionStrategy SelectionStrategy

	eligibleSetCache *eligibleSetCache
}

// NumCombinations returns the number of compiled combinations, the sizing
// basis for EvaluationContext.counters (spec §4.12).
func (m *EngineModel) NumCombinations() int {
	return len(m.PredicateCount)
}

// Posting returns the inverted-index bitmap for predicateId, or nil if out
// of range.
func (m *EngineModel) Posting(predicateID int32) *roaring.Bitmap {
	if predicateID < 0 || int(predicateID) >= len(m.InvertedIndex) {
		return nil
	}
	return m.InvertedIndex[predicateID]
}

// eligibleSetCache is the model-lifetime cache of eligibleBitmap identity ->
// eligiblePredicateSet (spec §3 EngineModel, §4.10 step 1). Keyed on the
// bitmap's content hash rather than pointer identity, since distinct bitmap
// instances with the same members are interchangeable for this purpose.
type eligibleSetCache struct {
	store *ristretto.Cache[uint64, []int32]
}

func newEligibleSetCache(maxEntries int64) *eligibleSetCache {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	store, err := ristretto.NewCache(&ristretto.Config[uint64, []int32]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Each entry costs 1, so MaxCost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		// A ristretto construction failure only happens from invalid
		// config values, never at runtime; falling back to an
		// unconditional-miss cache keeps the model usable instead of
		// panicking the compiler.
		return &eligibleSetCache{}
	}
	return &eligibleSetCache{store: store}
}

func (c *eligibleSetCache) get(hash uint64) ([]int32, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	return c.store.Get(hash)
}

func (c *eligibleSetCache) put(hash uint64, ids []int32) {
	if c == nil || c.store == nil {
		return
	}
	c.store.Set(hash, ids, 1)
}

// EligiblePredicateSet returns the union of PredicateIDs over every
// combination set in eligible, memoized by the bitmap's content hash (spec
// §4.10 step 1: "Cached per eligible-bitmap identity in the model-scope
// cache"). A nil eligible bitmap means "no base-condition filter applied";
// callers must not call this in that case.
func (m *EngineModel) EligiblePredicateSet(eligible *roaring.Bitmap) []int32 {
	hash := bitmapHash(eligible)
	if ids, ok := m.eligibleSetCache.get(hash); ok {
		return ids
	}

	seen := make(map[int32]struct{})
	it := eligible.Iterator()
	for it.HasNext() {
		combo := it.Next()
		for _, pid := range m.PredicateIDs[combo] {
			seen[pid] = struct{}{}
		}
	}
	ids := make([]int32, 0, len(seen))
	for pid := range seen {
		ids = append(ids, pid)
	}

	m.eligibleSetCache.put(hash, ids)
	return ids
}

// bitmapHash derives a content hash for a roaring bitmap via FNV-1a over the
// four little-endian bytes of each member value, used only to key the in-process eligible-set memo — not
// exposed outside the package and not part of the on-disk format.
func bitmapHash(bm *roaring.Bitmap) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	it := bm.Iterator()
	for it.HasNext() {
		v := it.Next()
		for i := 0; i < 4; i++ {
			h ^= uint64(byte(v >> (8 * i)))
			h *= prime64
		}
	}
	return h
}
