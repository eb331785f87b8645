package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/types"
)

func strp(s string) *string { return &s }

type memLoader struct {
	data map[string]*types.CompanyData
}

func (m *memLoader) Load(ctx context.Context, symbol string) (*types.CompanyData, error) {
	d, ok := m.data[symbol]
	if !ok {
		return nil, fmt.Errorf("no dataset for %s", symbol)
	}
	return d, nil
}

func (m *memLoader) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	for s := range m.data {
		out = append(out, s)
	}
	return out, nil
}

func growing(symbol string, base float64) *types.CompanyData {
	quarters := []types.Quarter{
		{Label: "Dec 2023", Metrics: map[string]*string{"Sales": strp(fmt.Sprintf("%g", base))}},
		{Label: "Mar 2024", Metrics: map[string]*string{"Sales": strp(fmt.Sprintf("%g", base*2))}},
	}
	return &types.CompanyData{Symbol: symbol, Quarters: quarters}
}

func shrinking(symbol string) *types.CompanyData {
	quarters := []types.Quarter{
		{Label: "Dec 2023", Metrics: map[string]*string{"Sales": strp("200")}},
		{Label: "Mar 2024", Metrics: map[string]*string{"Sales": strp("100")}},
	}
	return &types.CompanyData{Symbol: symbol, Quarters: quarters}
}

func testRunner(workers int) (*Runner, *memLoader) {
	loader := &memLoader{data: map[string]*types.CompanyData{
		"GROW":   growing("GROW", 100),
		"SHRINK": shrinking("SHRINK"),
	}}
	runner := NewRunner(formula.NewEngine(formula.Config{}), loader, Params{
		Workers:     workers,
		ItemTimeout: 5 * time.Second,
	})
	return runner, loader
}

func TestRunEvaluatesAllPairs(t *testing.T) {
	runner, _ := testRunner(3)
	formulas := []types.Formula{
		{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "BUY"},
		{Expression: `=AND(Sales[Q2]<Sales[Q1])`, Signal: "SELL"},
	}

	report, err := runner.Run(context.Background(), []string{"GROW", "SHRINK"}, formulas, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Items) != 4 {
		t.Fatalf("Expected 4 items, got %d", len(report.Items))
	}
	if report.Evaluated != 4 || report.Failed != 0 {
		t.Errorf("Expected 4 evaluated / 0 failed, got %d / %d", report.Evaluated, report.Failed)
	}
	if report.Signals != 2 {
		t.Errorf("Expected 2 actionable signals, got %d", report.Signals)
	}

	// Deterministic ordering: symbols in input order, formulas in set order.
	wantOrder := []struct{ symbol, signal string }{
		{"GROW", "BUY"},
		{"GROW", types.SignalNone},
		{"SHRINK", types.SignalNone},
		{"SHRINK", "SELL"},
	}
	for i, want := range wantOrder {
		item := report.Items[i]
		if item.Symbol != want.symbol || item.Result.Signal != want.signal {
			t.Errorf("Item %d: got %s/%s, want %s/%s",
				i, item.Symbol, item.Result.Signal, want.symbol, want.signal)
		}
	}
}

func TestRunIsolatesLoadFailures(t *testing.T) {
	runner, _ := testRunner(2)
	formulas := []types.Formula{{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "BUY"}}

	report, err := runner.Run(context.Background(), []string{"MISSING", "GROW"}, formulas, false)
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Evaluated != 1 {
		t.Fatalf("Expected 1 failed / 1 evaluated, got %d / %d", report.Failed, report.Evaluated)
	}
	if report.Items[0].Err == "" || report.Items[0].Result != nil {
		t.Errorf("Expected load failure on first item, got %+v", report.Items[0])
	}
	if report.Items[1].Result == nil || report.Items[1].Result.Signal != "BUY" {
		t.Errorf("Load failure must not affect other items, got %+v", report.Items[1])
	}
}

func TestRunIsolatesFormulaErrors(t *testing.T) {
	runner, _ := testRunner(2)
	formulas := []types.Formula{
		{Expression: `=BOGUS(`, Signal: "BUY"},
		{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "BUY"},
	}

	report, err := runner.Run(context.Background(), []string{"GROW"}, formulas, false)
	if err != nil {
		t.Fatal(err)
	}

	if report.Errors != 1 {
		t.Errorf("Expected 1 error result, got %d", report.Errors)
	}
	if report.Items[0].Result == nil || report.Items[0].Result.Signal != types.SignalError {
		t.Errorf("Expected Error signal on bad formula, got %+v", report.Items[0])
	}
	if report.Items[1].Result.Signal != "BUY" {
		t.Errorf("Bad formula must not poison the batch, got %+v", report.Items[1])
	}
}

func TestScopeRestrictsFormulas(t *testing.T) {
	runner, _ := testRunner(1)
	formulas := []types.Formula{
		{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "BUY", Scope: "GROW"},
		{Expression: `=AND(Sales[Q2]<Sales[Q1])`, Signal: "SELL", Scope: "shrink, OTHER"},
	}

	report, err := runner.Run(context.Background(), []string{"GROW", "SHRINK"}, formulas, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Items) != 2 {
		t.Fatalf("Expected scope to prune to 2 items, got %d", len(report.Items))
	}
	if report.Items[0].Symbol != "GROW" || report.Items[1].Symbol != "SHRINK" {
		t.Errorf("Unexpected scoped pairing: %+v", report.Items)
	}
}

func TestSummaryPrecedence(t *testing.T) {
	runner, _ := testRunner(2)
	formulas := []types.Formula{
		{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "HOLD", Priority: 1},
		{Expression: `=AND(Sales[Q2]>Sales[Q1])`, Signal: "BUY", Priority: 5},
	}

	report, err := runner.Run(context.Background(), []string{"GROW", "SHRINK"}, formulas, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(report.Summaries))
	}
	if report.Summaries[0].Symbol != "GROW" || report.Summaries[0].Signal != "BUY" {
		t.Errorf("Expected highest-priority BUY for GROW, got %+v", report.Summaries[0])
	}
	if report.Summaries[1].Signal != types.SignalNone {
		t.Errorf("Expected No Signal for SHRINK, got %+v", report.Summaries[1])
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	runner, _ := testRunner(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	symbols := make([]string, 100)
	for i := range symbols {
		symbols[i] = "GROW"
	}
	_, err := runner.Run(ctx, symbols, []types.Formula{{Expression: `=1`}}, false)
	if err == nil {
		t.Error("Expected cancellation error")
	}
}

func TestEmptyBatch(t *testing.T) {
	runner, _ := testRunner(2)
	report, err := runner.Run(context.Background(), nil, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 0 || report.Signals != 0 {
		t.Errorf("Expected empty report, got %+v", report)
	}
}
