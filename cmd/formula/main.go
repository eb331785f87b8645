package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"formula-signal-engine/internal/dataset"
	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/formula/formulaobs"
	"formula-signal-engine/internal/logger"
	"formula-signal-engine/internal/store"
	"formula-signal-engine/internal/trace"
	"formula-signal-engine/internal/types"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		symbol     = flag.String("symbol", "", "company symbol to load from the dataset dir")
		expr       = flag.String("expr", "", "formula expression, e.g. '=IF(Sales[Q12]>Sales[Q11],\"BUY\",\"HOLD\")'")
		signal     = flag.String("signal", "", "signal label emitted when the formula is true")
		showTrace  = flag.Bool("trace", false, "print the full evaluation trace")
		jsonOut    = flag.String("json", "", "write the full result (incl. trace) to this JSON file")
	)
	flag.Parse()

	if *expr == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: formula -symbol SYMBOL -expr '=...' [-signal BUY] [-trace] [-json out.json]")
		os.Exit(1)
	}

	cfg, err := store.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	if err := trace.InitWithConfig(trace.Config{Enabled: cfg.TracingEnabled()}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init tracing: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	defer trace.Shutdown(ctx)

	loader, err := dataset.New(cfg.Dataset.Source, cfg.Dataset.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build loader: %v\n", err)
		os.Exit(1)
	}

	data, err := loader.Load(ctx, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load dataset: %v\n", err)
		os.Exit(1)
	}

	evaluator := formulaobs.Wrap(formula.NewEngine(formula.Config{
		WindowSize:   cfg.Engine.WindowSize,
		RelativeRefs: cfg.Engine.RelativeRefs,
		Fallbacks:    cfg.Metrics.Fallbacks,
	}))

	result, err := evaluator.Evaluate(ctx, formula.Request{
		Formula:   types.Formula{Expression: *expr, Signal: *signal},
		Quarters:  data.Quarters,
		WithTrace: *showTrace || *jsonOut != "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation aborted: %v\n", err)
		os.Exit(1)
	}

	printResult(*symbol, data.Name, *expr, result)
	if *showTrace && result.Trace != nil {
		printTrace(result.Trace)
	}
	if *jsonOut != "" {
		saveJSON(result, *jsonOut)
	}
	if result.ResultType == types.ResultError {
		os.Exit(2)
	}
}

func printResult(symbol, name, expr string, result *types.EvalResult) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	if name != "" {
		fmt.Printf("  %s (%s)\n", name, symbol)
	} else {
		fmt.Printf("  %s\n", symbol)
	}
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Formula:      %s\n", expr)

	if result.ResultType == types.ResultError {
		fmt.Printf("❌ %s error: %s\n", result.ErrorClass, result.ErrorMessage)
		fmt.Printf("Signal:       %s\n", result.Signal)
		return
	}

	switch result.ResultType {
	case types.ResultNumber:
		fmt.Printf("Result:       %g (number)\n", *result.Number)
	case types.ResultString:
		fmt.Printf("Result:       %q (string)\n", *result.Text)
	case types.ResultBoolean:
		fmt.Printf("Result:       %t (boolean)\n", *result.Bool)
	default:
		fmt.Println("Result:       null")
	}

	emoji := "📊"
	switch result.Signal {
	case "BUY", "STRONG_BUY":
		emoji = "✅"
	case "SELL":
		emoji = "🔻"
	case "HOLD":
		emoji = "⚠️"
	case types.SignalNone:
		emoji = "➖"
	}
	fmt.Printf("%s Signal:     %s\n", emoji, result.Signal)

	if len(result.QuartersUsed) > 0 {
		fmt.Printf("Quarters:     %v\n", result.QuartersUsed)
	}
}

func printTrace(tr *types.FormulaTrace) {
	fmt.Println()
	fmt.Println("───────────────────────── TRACE ──────────────────────────────")
	fmt.Printf("Substituted:  %s\n", tr.Substituted)

	if len(tr.Substitutions) > 0 {
		fmt.Println()
		fmt.Println("Substitutions:")
		for _, s := range tr.Substitutions {
			val := "null"
			if s.Value != nil {
				val = fmt.Sprintf("%g", *s.Value)
			}
			line := fmt.Sprintf("  %-20s -> %-10s", s.Token, val)
			if s.Quarter != "" {
				line += fmt.Sprintf(" (%s, %s)", s.Metric, s.Quarter)
			}
			if s.Normalized {
				line += " [normalized]"
			}
			fmt.Println(line)
		}
	}

	fmt.Println()
	fmt.Println("Steps:")
	for _, step := range tr.Steps {
		fmt.Printf("  %3d. [%-13s] %s\n", step.Seq, step.Category, step.Description)
	}
	fmt.Printf("\nDuration: %dµs\n", tr.DurationMicros)
}

func saveJSON(result *types.EvalResult, filename string) {
	file, err := os.Create(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create JSON file: %v\n", err)
		return
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write JSON: %v\n", err)
		return
	}
	fmt.Printf("💾 Result saved to %s\n", filename)
}
