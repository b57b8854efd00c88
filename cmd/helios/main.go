// helios is the compile/evaluate/bench entrypoint around the rule engine
// (spec §6 "CLI surface (optional, minimal)").
//
// Usage:
//
//	helios compile <rules.json> <out.bin>
//	helios evaluate <model.bin> <events.json>
//	helios bench <model.bin> <events.json>
//
// Exit codes for compile: 0 success, 2 validation error, 3 I/O error.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/heliosrules/helios/services/engine/cache"
	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/config"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/evaluate"
	"github.com/heliosrules/helios/services/engine/model"
	"github.com/heliosrules/helios/services/engine/predicate"
	"github.com/heliosrules/helios/services/engine/rulesource"
	"github.com/heliosrules/helios/services/engine/telemetry"
)

// configPath and enableTrace hold persistent flag values shared by every
// subcommand.
var (
	configPath  string
	enableTrace bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "helios",
		Short: "Compile, evaluate, and benchmark Helios rule sets",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML engine configuration file")
	root.PersistentFlags().BoolVar(&enableTrace, "trace", false, "write OpenTelemetry spans to stderr")

	root.AddCommand(newCompileCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newBenchCmd())
	return root
}

// setupSignalContext cancels the returned context on SIGINT/SIGTERM, the
// same shutdown pattern used for long-lived Aleutian CLI subcommands.
func setupSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func loadConfig() (*config.EngineConfig, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", configPath, err)
	}
	return config.Load(data)
}

func startTracing() telemetry.Shutdown {
	if !enableTrace {
		return func(context.Context) error { return nil }
	}
	shutdown, err := telemetry.SetupTracing(os.Stderr)
	if err != nil {
		slog.Error("failed to start tracing, continuing without it", "error", err)
		return func(context.Context) error { return nil }
	}
	return shutdown
}

// openCache constructs the C9 backend named by cfg.Cache.Type (spec §6).
// For "external" it opens a BadgerDB rooted next to the model file; the
// caller is responsible for closing the returned *badger.DB, mirroring
// ExternalCache's own division of responsibility (it does not own the
// DB's lifecycle).
func openCache(cfg *config.EngineConfig, dbDir string) (cache.Cache, *badger.DB, error) {
	if !cfg.EnableBaseConditionCache {
		return cache.NewNoopCache(), nil, nil
	}
	switch cfg.Cache.Type {
	case config.CacheExternal:
		opts := badger.DefaultOptions(dbDir).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("opening base-condition cache at %s: %w", dbDir, err)
		}
		return cache.NewExternalCache(db, cfg.Cache.TTL()), db, nil
	case config.CacheInMemory:
		c, err := cache.NewInMemoryCache(int64(cfg.Cache.MaxSize))
		if err != nil {
			return nil, nil, fmt.Errorf("constructing in-memory base-condition cache: %w", err)
		}
		return c, nil, nil
	default:
		return cache.NewNoopCache(), nil, nil
	}
}

// ---- compile ----

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <rules.json> <out.bin>",
		Short: "Compile a rule source file into a serialized engine model",
		Args:  cobra.ExactArgs(2),
		Run:   runCompileCommand,
	}
}

func runCompileCommand(_ *cobra.Command, args []string) {
	rulesPath, outPath := args[0], args[1]

	shutdown := startTracing()
	defer shutdown(context.Background())

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("helios compile: %v", err)
		os.Exit(3)
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		log.Printf("helios compile: reading %s: %v", rulesPath, err)
		os.Exit(3)
	}

	raw, err := decodeRuleSource(rulesPath, data)
	if err != nil {
		log.Printf("helios compile: %v", err)
		os.Exit(2)
	}

	fieldDict := dictionary.New()
	valueDict := dictionary.New()

	logicalRules, err := rulesource.Build(fieldDict, valueDict, raw)
	if err != nil {
		log.Printf("helios compile: %v", err)
		os.Exit(2)
	}

	dynamicFields := make(map[int32]bool, len(cfg.DynamicFields))
	for _, name := range cfg.DynamicFields {
		id := fieldDict.Encode(strings.ToUpper(strings.TrimSpace(name)))
		dynamicFields[id] = true
	}

	reg := predicate.NewRegistry()
	result, err := compile.Compile(fieldDict, reg, logicalRules, dynamicFields)
	if err != nil {
		log.Printf("helios compile: %v", err)
		os.Exit(2)
	}
	telemetry.RecordCompile(len(result.Combinations), result.Stats.DroppedContradictory)
	if len(result.Stats.DeadRules) > 0 {
		slog.Warn("rules matched by no reachable combination", "count", len(result.Stats.DeadRules), "rule_codes", result.Stats.DeadRules)
	}

	m := model.Build(fieldDict, valueDict, result, model.Options{
		SelectionStrategy:    cfg.Strategy(),
		EligibleSetCacheSize: int64(cfg.EligibleSetCacheSize),
	})

	out, err := os.Create(outPath)
	if err != nil {
		log.Printf("helios compile: creating %s: %v", outPath, err)
		os.Exit(3)
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	if err := model.Serialize(bw, m); err != nil {
		log.Printf("helios compile: serializing %s: %v", outPath, err)
		os.Exit(3)
	}
	if err := bw.Flush(); err != nil {
		log.Printf("helios compile: flushing %s: %v", outPath, err)
		os.Exit(3)
	}

	slog.Info("compiled rule set", "rules", len(logicalRules), "combinations", m.NumCombinations(), "out", outPath)
}

// decodeRuleSource dispatches on file extension the way the rest of the
// Helios CLI surface resolves wire formats (spec §6 accepts JSON or YAML
// rule sources).
func decodeRuleSource(path string, data []byte) ([]rulesource.RawRule, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return rulesource.DecodeYAML(data)
	}
	return rulesource.DecodeJSON(data)
}

// ---- evaluate ----

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <model.bin> <events.json>",
		Short: "Stream evaluation results for a batch of events against a compiled model",
		Args:  cobra.ExactArgs(2),
		Run:   runEvaluateCommand,
	}
}

func runEvaluateCommand(_ *cobra.Command, args []string) {
	modelPath, eventsPath := args[0], args[1]

	ctx, cancel := setupSignalContext()
	defer cancel()

	shutdown := startTracing()
	defer shutdown(ctx)

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("helios evaluate: %v", err)
		os.Exit(3)
	}

	m, c, closeCache, err := loadModelAndCache(modelPath, cfg)
	if err != nil {
		log.Printf("helios evaluate: %v", err)
		os.Exit(3)
	}
	defer closeCache()

	events, err := readEvents(eventsPath)
	if err != nil {
		log.Printf("helios evaluate: %v", err)
		os.Exit(3)
	}

	enc := event.New(m.FieldDict, m.ValueDict)
	matcher := evaluate.NewMatcher(m)
	matcher.IntersectionCardinalityThreshold = cfg.IntersectionCardinalityThreshold
	pool := evaluate.NewPool(m)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	jw := json.NewEncoder(w)

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}

		encoded := enc.Encode(&ev)
		eligible := cache.Lookup(c, m, encoded, cfg.Cache.TTL())

		evalCtx := pool.Get()
		result := matcher.Evaluate(encoded, eligible, evalCtx)
		pool.Put(evalCtx)

		telemetry.RecordEvaluation(time.Duration(result.EvaluationTimeNanos), result.PredicatesEvaluated, result.RulesMatched, result.RegexErrors)

		if err := jw.Encode(result); err != nil {
			log.Printf("helios evaluate: writing result for %s: %v", result.EventID, err)
			os.Exit(3)
		}
	}
	recordCacheMetrics(cfg, c)
}

// ---- bench ----

var (
	benchWorkers int
	benchRate    float64
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench <model.bin> <events.json>",
		Short: "Report throughput and latency percentiles for a batch of events",
		Args:  cobra.ExactArgs(2),
		Run:   runBenchCommand,
	}
	cmd.Flags().IntVar(&benchWorkers, "workers", 1, "number of concurrent evaluator workers")
	cmd.Flags().Float64Var(&benchRate, "rate", 0, "cap submission rate in events/sec (0 = unlimited)")
	return cmd
}

// runBenchCommand replays events through the matcher, optionally fanning
// the work out across --workers concurrent goroutines (each with its own
// pooled evaluate.Context, since a *model.EngineModel and its Matcher are
// read-only and safe for concurrent use) and shaping submission with
// --rate, so bench can report percentiles under controlled load instead of
// only best-effort max throughput.
func runBenchCommand(_ *cobra.Command, args []string) {
	modelPath, eventsPath := args[0], args[1]

	shutdown := startTracing()
	defer shutdown(context.Background())

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("helios bench: %v", err)
		os.Exit(3)
	}

	m, c, closeCache, err := loadModelAndCache(modelPath, cfg)
	if err != nil {
		log.Printf("helios bench: %v", err)
		os.Exit(3)
	}
	defer closeCache()

	events, err := readEvents(eventsPath)
	if err != nil {
		log.Printf("helios bench: %v", err)
		os.Exit(3)
	}
	if len(events) == 0 {
		log.Printf("helios bench: no events to evaluate")
		os.Exit(2)
	}

	enc := event.New(m.FieldDict, m.ValueDict)
	matcher := evaluate.NewMatcher(m)
	matcher.IntersectionCardinalityThreshold = cfg.IntersectionCardinalityThreshold
	pool := evaluate.NewPool(m)

	workers := benchWorkers
	if workers < 1 {
		workers = 1
	}

	var limiter *rate.Limiter
	if benchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(benchRate), 1)
	}

	jobs := make(chan event.Event)
	var mu sync.Mutex
	latencies := make([]time.Duration, 0, len(events))

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for ev := range jobs {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return err
					}
				}

				encoded := enc.Encode(&ev)
				eligible := cache.Lookup(c, m, encoded, cfg.Cache.TTL())

				evalCtx := pool.Get()
				evalStart := time.Now()
				result := matcher.Evaluate(encoded, eligible, evalCtx)
				latency := time.Since(evalStart)
				pool.Put(evalCtx)

				telemetry.RecordEvaluation(time.Duration(result.EvaluationTimeNanos), result.PredicatesEvaluated, result.RulesMatched, result.RegexErrors)

				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()
			}
			return nil
		})
	}

	start := time.Now()
	for _, ev := range events {
		jobs <- ev
	}
	close(jobs)
	if err := group.Wait(); err != nil {
		log.Printf("helios bench: %v", err)
		os.Exit(3)
	}
	elapsed := time.Since(start)
	recordCacheMetrics(cfg, c)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	throughput := float64(len(events)) / elapsed.Seconds()

	fmt.Printf("events:        %d\n", len(events))
	fmt.Printf("workers:       %d\n", workers)
	fmt.Printf("elapsed:       %s\n", elapsed)
	fmt.Printf("throughput:    %.1f events/sec\n", throughput)
	fmt.Printf("p50 latency:   %s\n", percentile(latencies, 0.50))
	fmt.Printf("p95 latency:   %s\n", percentile(latencies, 0.95))
	fmt.Printf("p99 latency:   %s\n", percentile(latencies, 0.99))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// ---- shared helpers ----

// loadModelAndCache deserializes modelPath and opens the base-condition
// cache backend cfg names. The returned closer releases the cache's
// storage handle (only non-trivial for the "external" BadgerDB backend).
func loadModelAndCache(modelPath string, cfg *config.EngineConfig) (*model.EngineModel, cache.Cache, func(), error) {
	data, err := os.Open(modelPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s: %w", modelPath, err)
	}
	defer data.Close()

	m, err := model.Deserialize(bufio.NewReader(data))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("deserializing %s: %w", modelPath, err)
	}

	c, db, err := openCache(cfg, modelPath+".cache")
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() {
		if db != nil {
			_ = db.Close()
		}
	}
	return m, c, closeFn, nil
}

func recordCacheMetrics(cfg *config.EngineConfig, c cache.Cache) {
	metrics := c.Metrics()
	telemetry.RecordCacheMetrics(string(cfg.Cache.Type), metrics.Hits, metrics.Misses, metrics.Evicted)
}

func readEvents(path string) ([]event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw []rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	events := make([]event.Event, 0, len(raw))
	for _, r := range raw {
		eventID := r.EventID
		if eventID == "" {
			// Generated load and hand-written fixtures alike may omit
			// event_id; synthesize one rather than letting every
			// unlabeled event collide under the same empty string.
			eventID = uuid.NewString()
		}
		events = append(events, event.Event{
			EventID:    eventID,
			EventType:  r.EventType,
			Attributes: r.Attributes,
		})
	}
	return events, nil
}

// rawEvent is the on-disk event wire shape for `evaluate`/`bench` input
// files (spec §6 event sink input).
type rawEvent struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Attributes map[string]any `json:"attributes"`
}
