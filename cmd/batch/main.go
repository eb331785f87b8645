package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"formula-signal-engine/internal/batch"
	"formula-signal-engine/internal/dataset"
	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/formula/formulaobs"
	"formula-signal-engine/internal/logger"
	"formula-signal-engine/internal/store"
	"formula-signal-engine/internal/trace"
	"formula-signal-engine/internal/types"
)

func must(err error, what string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		withTrace  = flag.Bool("trace", false, "capture full traces for every item")
		jsonOut    = flag.String("json", "", "write the full report to this JSON file")
	)
	flag.Parse()

	cfg, err := store.LoadConfig(*configPath)
	must(err, "Failed to load config")

	must(logger.Init(), "Failed to init logger")
	must(trace.InitWithConfig(trace.Config{Enabled: cfg.TracingEnabled()}), "Failed to init tracing")
	ctx := context.Background()
	defer trace.Shutdown(ctx)

	formulas := cfg.FormulaList()
	if len(formulas) == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No formulas configured")
		os.Exit(1)
	}

	loader, err := dataset.New(cfg.Dataset.Source, cfg.Dataset.Dir)
	must(err, "Failed to build loader")

	// Positional args restrict the universe; default is every dataset file.
	symbols := flag.Args()
	if len(symbols) == 0 {
		symbols, err = loader.Symbols(ctx)
		must(err, "Failed to list symbols")
	}
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No datasets found in", cfg.Dataset.Dir)
		os.Exit(1)
	}

	evaluator := formulaobs.Wrap(formula.NewEngine(formula.Config{
		WindowSize:   cfg.Engine.WindowSize,
		RelativeRefs: cfg.Engine.RelativeRefs,
		Fallbacks:    cfg.Metrics.Fallbacks,
	}))

	runner := batch.NewRunner(evaluator, loader, batch.Params{
		Workers:     cfg.Batch.Workers,
		ItemTimeout: time.Duration(cfg.Batch.ItemTimeoutSeconds) * time.Second,
	})

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            Formula Signal Engine - Batch Run                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("🔍 Evaluating %d formula(s) over %d company(ies)...\n\n", len(formulas), len(symbols))

	report, err := runner.Run(ctx, symbols, formulas, *withTrace)
	must(err, "Batch run failed")

	printReport(report)

	if *jsonOut != "" {
		saveReport(report, *jsonOut)
	}
}

func printReport(report *batch.Report) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                        BATCH SUMMARY")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Items:        %d\n", len(report.Items))
	fmt.Printf("Evaluated:    %d\n", report.Evaluated)
	fmt.Printf("Error results: %d\n", report.Errors)
	fmt.Printf("Load failures: %d\n", report.Failed)
	fmt.Printf("Signals:      %d\n", report.Signals)
	fmt.Println()

	for _, s := range report.Summaries {
		emoji := "➖"
		switch s.Signal {
		case "BUY", "STRONG_BUY":
			emoji = "✅"
		case "SELL":
			emoji = "🔻"
		case "HOLD":
			emoji = "⚠️"
		}
		fmt.Printf("  %s %-12s %s\n", emoji, s.Symbol, s.Signal)
	}

	var failures []batch.Item
	for _, item := range report.Items {
		if item.Err != "" || (item.Result != nil && item.Result.ResultType == types.ResultError) {
			failures = append(failures, item)
		}
	}
	if len(failures) > 0 {
		fmt.Println()
		fmt.Println("❌ Failures:")
		for _, item := range failures {
			reason := item.Err
			if reason == "" {
				reason = fmt.Sprintf("%s error: %s", item.Result.ErrorClass, item.Result.ErrorMessage)
			}
			fmt.Printf("  %-12s %-40s %s\n", item.Symbol, item.Formula.Expression, reason)
		}
	}
}

func saveReport(report *batch.Report, filename string) {
	file, err := os.Create(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create JSON file: %v\n", err)
		return
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write JSON: %v\n", err)
		return
	}
	fmt.Printf("\n💾 Report saved to %s\n", filename)
}
