// Package evaluate implements the hot path: the predicate evaluator (C7),
// the counter-based matcher (C10), the selection policy (C11), and the
// pooled per-worker evaluation context (C12).
package evaluate

// Context is the reusable per-worker scratch state for one evaluate call
// (spec §3 EvaluationContext, C12). It is never shared across concurrent
// callers; acquire one from a Pool, use it for exactly one Evaluate call,
// then release it.
type Context struct {
	// Counters[c] is incremented once per true predicate belonging to
	// combination c (spec §4.10 step 3). Indexed by combinationId, sized
	// to the model on first use.
	Counters []int32

	// TouchedRules is the set of combination ids whose counter was
	// incremented this evaluation — reset() only zeros these indices
	// (spec §4.12), never the whole Counters array.
	TouchedRules []int32
	touched      map[int32]struct{}

	// TruePredicates is the set of predicate ids that evaluated true this
	// call.
	TruePredicates map[int32]struct{}

	// Matched is detect's sorted-touched-combination scratch list, reused
	// call over call instead of allocating a fresh copy of TouchedRules
	// each time (spec §4.12).
	Matched             []int32
	PredicatesEvaluated int
	RegexErrors         int

	sizedFor int // numCombinations the arrays above are sized for
}

// reset clears ctx for reuse (spec §4.12 "reset() zeros counters lazily —
// only indices present in touchedRules are cleared"), leaving backing
// arrays allocated.
func (ctx *Context) reset() {
	for c := range ctx.touched {
		ctx.Counters[c] = 0
		delete(ctx.touched, c)
	}
	ctx.TouchedRules = ctx.TouchedRules[:0]
	for p := range ctx.TruePredicates {
		delete(ctx.TruePredicates, p)
	}
	ctx.Matched = ctx.Matched[:0]
	ctx.PredicatesEvaluated = 0
	ctx.RegexErrors = 0
}

// sizeFor grows ctx's arrays to fit a model with numCombinations
// combinations, sizing touched-rules and match-list capacity per spec
// §4.12's first-use formula. A no-op once already sized for a model of
// equal or greater size.
func (ctx *Context) sizeFor(numCombinations int) {
	if ctx.sizedFor >= numCombinations && ctx.Counters != nil {
		return
	}
	ctx.Counters = make([]int32, numCombinations)
	touchedCap := numCombinations / 10
	if touchedCap > 1000 {
		touchedCap = 1000
	}
	if touchedCap < 16 {
		touchedCap = 16
	}
	ctx.TouchedRules = make([]int32, 0, touchedCap)
	ctx.touched = make(map[int32]struct{}, touchedCap)
	ctx.TruePredicates = make(map[int32]struct{}, touchedCap)

	matchCap := numCombinations / 100
	if matchCap < 256 {
		matchCap = 256
	}
	if matchCap > 1024 {
		matchCap = 1024
	}
	ctx.Matched = make([]int32, 0, matchCap)
	ctx.sizedFor = numCombinations
}

// touch records that combination c was incremented this evaluation, adding
// it to TouchedRules the first time it's seen.
func (ctx *Context) touch(c int32) {
	if _, ok := ctx.touched[c]; !ok {
		ctx.touched[c] = struct{}{}
		ctx.TouchedRules = append(ctx.TouchedRules, c)
	}
}
