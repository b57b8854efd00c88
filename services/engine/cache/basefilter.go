package cache

import (
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/singleflight"

	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/evaluate"
	"github.com/heliosrules/helios/services/engine/model"
)

// missGroup de-dupes concurrent recomputation of the same base-filter key:
// when several evaluator goroutines miss on an identical key at once (a
// thundering herd against a cold external cache), only one of them walks
// the BaseConditionSets; the rest wait on its result instead of repeating
// the work, the same role singleflight plays around the teacher's embedder
// calls.
var missGroup singleflight.Group

// ComputeEligible evaluates every BaseConditionSet's static predicates
// against enc and returns the union of AffectedCombinations for the sets
// that hold, plus every combination with no static predicate subset at all
// (model.AlwaysEligible, spec §4.8: nothing to filter on, so it's never
// excluded). This is the "recompute" path a cache miss falls back to.
func ComputeEligible(m *model.EngineModel, enc *event.Encoded) *roaring.Bitmap {
	eligible := m.AlwaysEligible.Clone()

	for _, set := range m.BaseConditionSets {
		if setHolds(m, enc, set.StaticPredicateIDs) {
			eligible.Or(set.AffectedCombinations)
		}
	}
	return eligible
}

func setHolds(m *model.EngineModel, enc *event.Encoded, predicateIDs []int32) bool {
	for _, pid := range predicateIDs {
		p := m.Predicates[pid]
		attr, present := enc.Attrs[p.FieldID]
		if !evaluate.EvalStatic(p, attr, present) {
			return false
		}
	}
	return true
}

// Lookup is the full BaseFilter step (spec §4.10 "BaseFilter"): check the
// cache for enc's derived key, and on a miss, compute the eligible bitmap
// and populate the cache for next time. A nil cache is treated as an
// always-miss NoopCache.
func Lookup(c Cache, m *model.EngineModel, enc *event.Encoded, ttl time.Duration) *roaring.Bitmap {
	if c == nil {
		return ComputeEligible(m, enc)
	}
	key := DeriveKey(m, enc)
	if bm, ok := c.Get(key); ok {
		return bm
	}

	groupKey := strconv.FormatUint(key.Hi, 16) + ":" + strconv.FormatUint(key.Lo, 16)
	v, _, _ := missGroup.Do(groupKey, func() (any, error) {
		eligible := ComputeEligible(m, enc)
		c.Put(key, eligible, ttl)
		return eligible, nil
	})
	return v.(*roaring.Bitmap)
}
