// Benchmark tool for measuring Kestrel's risk scoring against injected
// fraud patterns.
//
// Usage:
//
//	go run ./cmd/benchmark -merchants 500 -fraud 0.1 -seed 42
//
// This tool:
//  1. Composes a labeled dataset in-process (merchants, transactions, fraud labels)
//  2. Scores every merchant and evaluates the default alert rules
//  3. Compares the ALRT/NALT verdict with the fraud labels
//  4. Reports the confusion matrix, precision, recall, F1 and per-pattern recall
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/inject"
	"github.com/opensource-finance/kestrel/internal/random"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func main() {
	merchants := flag.Int("merchants", 200, "Number of merchants to generate")
	fraud := flag.Float64("fraud", 0.1, "Fraction of merchants with an injected pattern")
	patterns := flag.String("patterns", "", "Comma-separated patterns to inject (empty = all)")
	days := flag.Int("days", 30, "Days of transaction history")
	seed := flag.Uint64("seed", 0, "Random seed (0 = time based)")
	workers := flag.Int("workers", 8, "Number of concurrent scorers")
	threshold := flag.Float64("threshold", 0.7, "Composite score alert threshold")
	dump := flag.String("json", "", "Write the dataset, outcomes and report to this file")
	verbose := flag.Bool("verbose", false, "Print each merchant result")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	var selected []inject.Pattern
	if *patterns != "" {
		for _, name := range strings.Split(*patterns, ",") {
			p, err := inject.ParsePattern(name)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			selected = append(selected, p)
		}
	}

	src := random.NewFromTime()
	if *seed != 0 {
		src = random.New(*seed)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|        KESTREL BENCHMARK - Injected Fraud Detection           |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nMerchants:   %d\n", *merchants)
	fmt.Printf("Fraud:       %.2f\n", *fraud)
	fmt.Printf("Days:        %d\n", *days)
	fmt.Printf("Seed:        %d\n", src.Seed())
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Println()

	catalog := domain.DefaultCatalog()
	genCfg := domain.DefaultGeneratorConfig()
	genCfg.MaxMerchants = max(genCfg.MaxMerchants, *merchants)
	gen := generator.New(catalog, src, genCfg)
	composer := dataset.NewComposer(gen, inject.New(catalog, src), src)

	start := time.Now()
	ds, err := composer.Compose(dataset.Request{
		MerchantCount: *merchants,
		FraudFraction: *fraud,
		Patterns:      selected,
		Transactions:  generator.TransactionOptions{Days: *days},
	})
	if err != nil {
		fmt.Printf("ERROR: failed to compose dataset: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Composed %d merchants, %d transactions, %d fraud merchants in %v\n",
		len(ds.Merchants), len(ds.Transactions), len(ds.Labels), time.Since(start).Round(time.Millisecond))

	scorer, err := scoring.NewEngine(domain.DefaultScoringConfig())
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	engine, err := rules.NewEngine(*workers)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	processor := decision.NewProcessor(*threshold)

	start = time.Now()
	outcomes := run(ds, scorer, engine, processor, *workers, *verbose)
	duration := time.Since(start)

	report := Evaluate(outcomes)
	printResults(report, len(outcomes), duration)

	if *dump != "" {
		if err := writeDump(*dump, ds, outcomes, report); err != nil {
			fmt.Printf("ERROR: failed to write %s: %v\n", *dump, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *dump)
	}
}

func run(ds *dataset.Dataset, scorer *scoring.Engine, engine *rules.Engine, processor *decision.Processor, numWorkers int, verbose bool) []Outcome {
	byMerchant := make(map[string][]*domain.Transaction)
	for _, tx := range ds.Transactions {
		byMerchant[tx.MerchantID] = append(byMerchant[tx.MerchantID], tx)
	}

	outcomes := make([]Outcome, len(ds.Merchants))
	work := make(chan int, 100)
	var wg sync.WaitGroup

	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				id := ds.Merchants[i].MerchantID
				label, fraud := ds.LabelFor(id)

				m := scorer.Score(id, byMerchant[id], domain.TimeRange{})
				results, err := engine.EvaluateAll(context.Background(), m)
				if err != nil {
					slog.Warn("rule evaluation failed", "merchant_id", id, "error", err)
				}
				a := processor.Process(&decision.Input{Metrics: m, RuleResults: results})

				outcomes[i] = Outcome{
					MerchantID: id,
					Fraud:      fraud,
					Pattern:    label.Pattern,
					Alerted:    decision.ShouldAlert(a),
					Score:      m.CompositeRiskScore,
				}

				if verbose {
					status := "ok"
					if outcomes[i].Alerted != fraud {
						status = "XX"
					}
					fmt.Printf("%s %s | Pattern: %-24s | Txns: %5d | Score: %.3f | %s\n",
						status, id, label.Pattern, m.TransactionCount, m.CompositeRiskScore, a.Status)
				}
			}
		}()
	}

	for i := range ds.Merchants {
		work <- i
	}
	close(work)
	wg.Wait()

	return outcomes
}

func printResults(r *Report, total int, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                      BENCHMARK RESULTS                        |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    ALRT        NALT")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", r.TruePositives, r.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", r.FalsePositives, r.TrueNegatives)
	fmt.Println("              +----------+----------+")

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were injected fraud)\n", r.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", r.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", r.F1)
	fmt.Printf("   Accuracy:   %.4f\n", r.Accuracy)

	if len(r.Patterns) > 0 {
		fmt.Printf("\nPER-PATTERN RECALL\n")
		for _, p := range r.Patterns {
			fmt.Printf("   %-24s %3d / %-3d (%.2f)\n", p.Pattern, p.Detected, p.Total, p.Recall)
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Throughput:       %.2f merchants/sec\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}

func writeDump(path string, ds *dataset.Dataset, outcomes []Outcome, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"dataset":  ds,
		"outcomes": outcomes,
		"report":   report,
	})
}
