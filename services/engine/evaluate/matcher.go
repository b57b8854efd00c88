package evaluate

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/model"
)

// defaultIntersectionCardinalityThreshold is spec §6's
// intersectionCardinalityThreshold default: below it, the matcher probes
// eligibility per posting element; at or above it, it intersects the
// posting with the eligibility bitmap first (spec §4.10 step 3).
const defaultIntersectionCardinalityThreshold = 128

// Matcher is the counter-based matcher (spec §4.10, C10) — "the crown
// jewel". It holds no per-event state; concurrent callers each bring their
// own Context from a Pool.
type Matcher struct {
	Model                            *model.EngineModel
	IntersectionCardinalityThreshold int
}

// NewMatcher returns a Matcher bound to m using the default posting-walk
// threshold.
func NewMatcher(m *model.EngineModel) *Matcher {
	return &Matcher{Model: m, IntersectionCardinalityThreshold: defaultIntersectionCardinalityThreshold}
}

// Evaluate runs the full per-event state machine (spec §4.10 state machine:
// "Acquire → Reset → Encode → BaseFilter → Evaluate → Count → Detect →
// Select → Emit → Release"). Encode and Acquire/Release happen outside this
// call — the caller owns the Pool and the Encoder; eligible is the result of
// BaseFilter (the base-condition cache lookup), or nil when no base-
// condition filter applies.
func (mt *Matcher) Evaluate(enc *event.Encoded, eligible *roaring.Bitmap, ctx *Context) *Result {
	start := time.Now()
	m := mt.Model

	ctx.sizeFor(m.NumCombinations())
	ctx.reset()

	if eligible != nil && eligible.IsEmpty() {
		// Edge case: empty eligible bitmap skips straight to selection with
		// no matches (spec §4.10 "Edge cases").
		return mt.emit(enc.EventID, nil, start, ctx)
	}

	var eligiblePredicateSet map[int32]struct{}
	if eligible != nil {
		ids := m.EligiblePredicateSet(eligible)
		eligiblePredicateSet = make(map[int32]struct{}, len(ids))
		for _, id := range ids {
			eligiblePredicateSet[id] = struct{}{}
		}
	}

	mt.evaluateFields(enc, ctx, eligiblePredicateSet)
	mt.countPostings(eligible, ctx)

	matches := mt.detect(ctx)
	return mt.emit(enc.EventID, matches, start, ctx)
}

// evaluateFields is matcher steps 1-2: enumerate fields present in the
// event (sorted ascending by fieldMinWeight, cheapest first; every present
// field is still evaluated), then separately visit any
// IS_NULL field absent from the event — the one case step 2's "present
// fields" enumeration alone would never reach.
func (mt *Matcher) evaluateFields(enc *event.Encoded, ctx *Context, eligible map[int32]struct{}) {
	m := mt.Model

	present := make([]int32, 0, len(enc.Attrs))
	for fieldID := range enc.Attrs {
		present = append(present, fieldID)
	}
	sort.Slice(present, func(i, j int) bool {
		wi, wj := m.FieldMinWeight[present[i]], m.FieldMinWeight[present[j]]
		if wi != wj {
			return wi < wj
		}
		return present[i] < present[j]
	})

	for _, fieldID := range present {
		evaluateField(m, ctx, fieldID, enc.Attrs[fieldID], true, eligible)
	}

	for _, fieldID := range m.NullCheckFields {
		if _, ok := enc.Attrs[fieldID]; ok {
			continue
		}
		evaluateField(m, ctx, fieldID, event.Attr{}, false, eligible)
	}
}

// countPostings is matcher step 3: for every predicate that evaluated true,
// walk its posting and increment the touched combinations' counters.
func (mt *Matcher) countPostings(eligible *roaring.Bitmap, ctx *Context) {
	m := mt.Model
	for pid := range ctx.TruePredicates {
		posting := m.Posting(pid)
		if posting == nil || posting.IsEmpty() {
			continue
		}
		mt.walkPosting(posting, eligible, ctx)
	}
}

// walkPosting implements the two adaptive strategies of spec §4.10 step 3.
func (mt *Matcher) walkPosting(posting, eligible *roaring.Bitmap, ctx *Context) {
	if eligible == nil {
		it := posting.Iterator()
		for it.HasNext() {
			mt.bump(ctx, int32(it.Next()))
		}
		return
	}

	if int(posting.GetCardinality()) < mt.IntersectionCardinalityThreshold {
		it := posting.Iterator()
		for it.HasNext() {
			c := it.Next()
			if eligible.Contains(c) {
				mt.bump(ctx, int32(c))
			}
		}
		return
	}

	inter := roaring.And(posting, eligible)
	it := inter.Iterator()
	for it.HasNext() {
		mt.bump(ctx, int32(it.Next()))
	}
}

func (mt *Matcher) bump(ctx *Context, c int32) {
	ctx.Counters[c]++
	ctx.touch(c)
}

// detect is matcher step 4: every touched combination whose counter reached
// its predicate count is a completed match, for every (ruleCode, priority)
// pair it carries. The result is sorted by combinationId ascending (spec §5
// "Match list order... sorted by combinationId ascending").
func (mt *Matcher) detect(ctx *Context) []Match {
	m := mt.Model

	ctx.Matched = append(ctx.Matched[:0], ctx.TouchedRules...)
	sort.Slice(ctx.Matched, func(i, j int) bool { return ctx.Matched[i] < ctx.Matched[j] })

	var matches []Match
	for _, c := range ctx.Matched {
		if ctx.Counters[c] != m.PredicateCount[c] {
			continue
		}
		codes := m.AllRuleCodes[c]
		prios := m.AllPriorities[c]
		for i := range codes {
			matches = append(matches, Match{
				CombinationID: c,
				RuleCode:      codes[i],
				Priority:      prios[i],
				Description:   m.Description[c],
			})
		}
	}
	return matches
}

func (mt *Matcher) emit(eventID string, matches []Match, start time.Time, ctx *Context) *Result {
	selected := applySelection(mt.Model.SelectionStrategy, matches)
	return &Result{
		EventID:             eventID,
		MatchedRules:        selected,
		EvaluationTimeNanos: time.Since(start).Nanoseconds(),
		PredicatesEvaluated: ctx.PredicatesEvaluated,
		RulesMatched:        len(selected),
		RegexErrors:         ctx.RegexErrors,
	}
}
