// modeldump inspects a serialized Helios engine model.
//
// It opens a compiled model.bin read-only and prints a human-readable
// summary: dictionary sizes, predicate counts by operator, combination and
// base-condition-set counts, the selection strategy, and a sample of the
// compiled rule codes — the same read-only-inspection shape as
// routing_cache_dump, retargeted at model.bin instead of the routing
// embedding cache.
//
// Usage:
//
//	modeldump <model.bin>
//
// Exit codes:
//
//	0 — success
//	1 — error opening or deserializing the model
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/heliosrules/helios/services/engine/model"
	"github.com/heliosrules/helios/services/engine/predicate"
)

func main() {
	sampleN := flag.Int("sample", 10, "number of rule codes to sample")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: modeldump [--sample N] <model.bin>")
		os.Exit(1)
	}
	modelPath := flag.Arg(0)

	f, err := os.Open(modelPath)
	if err != nil {
		fatalf("open %s: %v", modelPath, err)
	}
	defer f.Close()

	m, err := model.Deserialize(bufio.NewReader(f))
	if err != nil {
		fatalf("deserialize %s: %v", modelPath, err)
	}

	fmt.Printf("Model:              %s\n", modelPath)
	fmt.Printf("Field dictionary:   %d entries\n", m.FieldDict.Len())
	fmt.Printf("Value dictionary:   %d entries\n", m.ValueDict.Len())
	fmt.Printf("Predicates:         %d\n", len(m.Predicates))
	fmt.Printf("Combinations:       %d\n", m.NumCombinations())
	fmt.Printf("Base condition sets: %d\n", len(m.BaseConditionSets))
	fmt.Printf("Null-check fields:  %d\n", len(m.NullCheckFields))
	fmt.Printf("Selection strategy: %s\n", m.SelectionStrategy)

	printOperatorBreakdown(m)
	printRuleCodeSample(m, *sampleN)
}

func printOperatorBreakdown(m *model.EngineModel) {
	counts := make(map[predicate.Operator]int)
	for _, p := range m.Predicates {
		counts[p.Operator]++
	}
	ops := make([]predicate.Operator, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].String() < ops[j].String() })

	fmt.Println("\nPredicates by operator:")
	fmt.Println(strings.Repeat("-", 40))
	for _, op := range ops {
		fmt.Printf("  %-16s %6d\n", op.String(), counts[op])
	}
}

func printRuleCodeSample(m *model.EngineModel, n int) {
	seen := make(map[string]struct{})
	var codes []string
	for _, rc := range m.RuleCode {
		if rc == "" {
			continue
		}
		if _, ok := seen[rc]; ok {
			continue
		}
		seen[rc] = struct{}{}
		codes = append(codes, rc)
	}
	sort.Strings(codes)

	fmt.Printf("\nDistinct rule codes: %d\n", len(codes))
	if n > len(codes) {
		n = len(codes)
	}
	if n <= 0 {
		return
	}
	fmt.Println(strings.Repeat("-", 40))
	for _, rc := range codes[:n] {
		fmt.Printf("  %s\n", rc)
	}
	if len(codes) > n {
		fmt.Printf("  ... and %d more\n", len(codes)-n)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "modeldump: "+format+"\n", args...)
	os.Exit(1)
}
