// Package telemetry holds the shared Prometheus metrics and OpenTelemetry
// provider wiring that cmd/helios reports engine activity into (spec §1
// ambient stack), mirroring the teacher's providers/observability.go block-of-vars
// style.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for the compiler, evaluator, and cache.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// PredicatesEvaluatedTotal counts individual C7 predicate evaluations
	// (spec §4.10 step 2), across every event evaluated.
	PredicatesEvaluatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "evaluator",
		Name:      "predicates_evaluated_total",
		Help:      "Total number of predicate evaluations performed.",
	})

	// RulesMatchedTotal counts rule matches emitted after C11 selection.
	RulesMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "evaluator",
		Name:      "rules_matched_total",
		Help:      "Total number of rule matches emitted across all evaluated events.",
	})

	// RegexErrorsTotal counts REGEX predicates that recovered from a
	// runtime panic (spec §7 RegexRuntimeError).
	RegexErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "evaluator",
		Name:      "regex_errors_total",
		Help:      "Total number of REGEX predicate evaluations that recovered from a runtime panic.",
	})

	// EvaluationDuration measures one event's full matcher pass (spec §5's
	// micro-to-millisecond latency budget).
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "helios",
		Subsystem: "evaluator",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a single event evaluation.",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	})

	// CombinationsBuiltTotal counts distinct combinations the combination
	// builder (C4) produced.
	CombinationsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "compiler",
		Name:      "combinations_built_total",
		Help:      "Total number of distinct combinations produced by the combination builder.",
	})

	// ContradictionsDroppedTotal counts candidate combinations dropped for
	// holding two predicates that can never be simultaneously true (spec §7
	// ContradictoryRule).
	ContradictionsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "compiler",
		Name:      "contradictions_dropped_total",
		Help:      "Total number of candidate combinations dropped for containing a contradictory predicate pair.",
	})

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total base-condition cache hits, by backend.",
	}, []string{"backend"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total base-condition cache misses, by backend.",
	}, []string{"backend"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helios",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total base-condition cache evictions, by backend.",
	}, []string{"backend"})
)

// RecordEvaluation records one Matcher.Evaluate pass's outcome (spec
// §4.10/§4.12).
func RecordEvaluation(duration time.Duration, predicatesEvaluated, rulesMatched, regexErrors int) {
	EvaluationDuration.Observe(duration.Seconds())
	PredicatesEvaluatedTotal.Add(float64(predicatesEvaluated))
	RulesMatchedTotal.Add(float64(rulesMatched))
	if regexErrors > 0 {
		RegexErrorsTotal.Add(float64(regexErrors))
	}
}

// RecordCompile records one compile.Build pass's stats.
func RecordCompile(combinationsBuilt, contradictionsDropped int) {
	CombinationsBuiltTotal.Add(float64(combinationsBuilt))
	ContradictionsDroppedTotal.Add(float64(contradictionsDropped))
}

// RecordCacheMetrics adds a cache.Metrics delta (not a running total — the
// Prometheus counters are themselves cumulative) onto the counters for
// backend (one of "noop", "inmem", "external", spec §6 cache.type).
func RecordCacheMetrics(backend string, hitsDelta, missesDelta, evictedDelta uint64) {
	if hitsDelta > 0 {
		cacheHitsTotal.WithLabelValues(backend).Add(float64(hitsDelta))
	}
	if missesDelta > 0 {
		cacheMissesTotal.WithLabelValues(backend).Add(float64(missesDelta))
	}
	if evictedDelta > 0 {
		cacheEvictionsTotal.WithLabelValues(backend).Add(float64(evictedDelta))
	}
}
