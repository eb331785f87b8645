package formula

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"formula-signal-engine/internal/types"
)

func strp(s string) *string { return &s }

// salesDataset builds a 12-quarter dataset with Sales rising 100..1200
// (oldest to newest), so window index N holds Sales = N*100.
func salesDataset() []types.Quarter {
	months := []string{"Jun 2021", "Sep 2021", "Dec 2021", "Mar 2022",
		"Jun 2022", "Sep 2022", "Dec 2022", "Mar 2023",
		"Jun 2023", "Sep 2023", "Dec 2023", "Mar 2024"}
	qs := make([]types.Quarter, len(months))
	for i, m := range months {
		qs[i] = types.Quarter{
			Label: m,
			Metrics: map[string]*string{
				"Sales": strp(fmt.Sprintf("%d", (i+1)*100)),
			},
		}
	}
	return qs
}

func evaluate(t *testing.T, en *Engine, expr string, qs []types.Quarter, signal string) *types.EvalResult {
	t.Helper()
	result, err := en.Evaluate(context.Background(), Request{
		Formula:   types.Formula{Expression: expr, Signal: signal},
		Quarters:  qs,
		WithTrace: true,
	})
	if err != nil {
		t.Fatalf("Evaluate(%q) returned unexpected error: %v", expr, err)
	}
	return result
}

func TestConstantFormulaOnEmptyDataset(t *testing.T) {
	en := NewEngine(Config{})

	result := evaluate(t, en, `=IF(1>0,"BUY","SELL")`, nil, "")

	if result.ResultType != types.ResultString || result.Text == nil || *result.Text != "BUY" {
		t.Fatalf("Expected string result BUY, got %+v", result)
	}
	if result.Signal != "BUY" {
		t.Errorf("Expected signal BUY, got %q", result.Signal)
	}
	if len(result.Trace.Substitutions) != 0 {
		t.Errorf("Expected zero substitutions, got %d", len(result.Trace.Substitutions))
	}
	for _, step := range result.Trace.Steps {
		if step.Category == types.StepMetricLookup {
			t.Errorf("Expected zero metric lookups, got step %+v", step)
		}
	}
	if len(result.QuartersUsed) != 0 {
		t.Errorf("Expected no quarters used, got %v", result.QuartersUsed)
	}
}

func TestSignalScenarioNewestVsPrevious(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=IF(Sales[Q12]>Sales[Q11],"BUY","HOLD")`, qs, "")

	if result.Text == nil || *result.Text != "BUY" {
		t.Fatalf("Expected BUY, got %+v", result)
	}

	subs := result.Trace.Substitutions
	if len(subs) != 2 {
		t.Fatalf("Expected 2 substitutions, got %d", len(subs))
	}
	if subs[0].Token != "Sales[Q12]" || subs[0].Value == nil || *subs[0].Value != 1200 {
		t.Errorf("Expected Sales[Q12] -> 1200, got %+v", subs[0])
	}
	if subs[1].Token != "Sales[Q11]" || subs[1].Value == nil || *subs[1].Value != 1100 {
		t.Errorf("Expected Sales[Q11] -> 1100, got %+v", subs[1])
	}
	if subs[0].Quarter != "Mar 2024" {
		t.Errorf("Expected Q12 to be the newest quarter Mar 2024, got %q", subs[0].Quarter)
	}

	var comparisons, logicals int
	for _, step := range result.Trace.Steps {
		switch step.Category {
		case types.StepComparison:
			comparisons++
		case types.StepLogical:
			logicals++
		}
	}
	if comparisons != 1 || logicals != 1 {
		t.Errorf("Expected 1 comparison and 1 logical step, got %d and %d", comparisons, logicals)
	}

	if !reflect.DeepEqual(result.QuartersUsed, []string{"Dec 2023", "Mar 2024"}) {
		t.Errorf("Expected quarters used [Dec 2023 Mar 2024], got %v", result.QuartersUsed)
	}
}

func TestIndexNAlwaysNewest(t *testing.T) {
	qs := salesDataset()
	for _, size := range []int{3, 6, 12} {
		en := NewEngine(Config{WindowSize: size})
		expr := fmt.Sprintf(`=Sales[Q%d]`, size)

		result := evaluate(t, en, expr, qs, "")

		if result.Number == nil || *result.Number != 1200 {
			t.Errorf("Window size %d: expected index %d to hit the newest quarter (1200), got %+v",
				size, size, result)
		}
	}
}

func TestMissingMetricDegradesToElseBranch(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=IF(Dividend[Q12]>5,"SELL","KEEP")`, qs, "")

	if result.Text == nil || *result.Text != "KEEP" {
		t.Fatalf("Expected else branch KEEP, got %+v", result)
	}
	if result.ResultType == types.ResultError {
		t.Error("Missing metric must degrade, not error")
	}
}

func TestIsNumberOnMissingMetric(t *testing.T) {
	en := NewEngine(Config{})

	result := evaluate(t, en, `=ISNUMBER(Sales[Q1])`, nil, "")

	if result.Bool == nil || *result.Bool {
		t.Errorf("Expected ISNUMBER false on empty dataset, got %+v", result)
	}
	if result.Signal != types.SignalNone {
		t.Errorf("Expected %q, got %q", types.SignalNone, result.Signal)
	}
}

func TestOPMFallback(t *testing.T) {
	en := NewEngine(Config{})
	qs := []types.Quarter{
		{Label: "Mar 2024", Metrics: map[string]*string{
			"Financing Margin %": strp("18%"),
			"Sales":              strp("100"),
		}},
	}

	result := evaluate(t, en, `=OPM[Q1]`, qs, "")

	if result.Number == nil || *result.Number != 18 {
		t.Fatalf("Expected OPM to resolve via Financing Margin to 18, got %+v", result)
	}
	subs := result.Trace.Substitutions
	if len(subs) != 1 {
		t.Fatalf("Expected 1 substitution, got %d", len(subs))
	}
	if !subs[0].Normalized {
		t.Error("Expected fallback substitution to be flagged normalized")
	}
	if subs[0].Metric != "Financing Margin %" {
		t.Errorf("Expected canonical metric Financing Margin %%, got %q", subs[0].Metric)
	}
}

func TestSumOfAllNullIsZero(t *testing.T) {
	en := NewEngine(Config{})
	qs := []types.Quarter{
		{Label: "Dec 2023", Metrics: map[string]*string{"Tax": nil}},
		{Label: "Mar 2024", Metrics: map[string]*string{"Tax": nil}},
	}

	result := evaluate(t, en, `=SUM(Tax[Q1]:Tax[Q2])`, qs, "")

	if result.Number == nil || *result.Number != 0 {
		t.Errorf("Expected SUM of all-null range to be 0, got %+v", result)
	}
}

func TestAverageOfAllNullIsRuntimeError(t *testing.T) {
	en := NewEngine(Config{})
	qs := []types.Quarter{
		{Label: "Dec 2023", Metrics: map[string]*string{"Tax": nil}},
		{Label: "Mar 2024", Metrics: map[string]*string{"Tax": nil}},
	}

	result := evaluate(t, en, `=AVERAGE(Tax[Q1]:Tax[Q2])`, qs, "")

	if result.ResultType != types.ResultError {
		t.Fatalf("Expected runtime error result, got %+v", result)
	}
	if result.ErrorClass != types.ErrClassRuntime {
		t.Errorf("Expected runtime class, got %q", result.ErrorClass)
	}
	if result.Signal != types.SignalError {
		t.Errorf("Expected %q signal, got %q", types.SignalError, result.Signal)
	}
}

func TestDivisionByZero(t *testing.T) {
	en := NewEngine(Config{})

	result := evaluate(t, en, `=1/0`, nil, "")

	if result.ResultType != types.ResultError || result.ErrorClass != types.ErrClassRuntime {
		t.Fatalf("Expected runtime error, got %+v", result)
	}
}

func TestIfErrorCatchesRuntimeError(t *testing.T) {
	en := NewEngine(Config{})

	result := evaluate(t, en, `=IFERROR(1/0, -1)`, nil, "")

	if result.Number == nil || *result.Number != -1 {
		t.Errorf("Expected IFERROR fallback -1, got %+v", result)
	}
}

func TestParseErrorResult(t *testing.T) {
	en := NewEngine(Config{})

	result := evaluate(t, en, `=BOGUS(1)`, nil, "")

	if result.ResultType != types.ResultError || result.ErrorClass != types.ErrClassParse {
		t.Fatalf("Expected parse error result, got %+v", result)
	}
	if result.Signal != types.SignalError {
		t.Errorf("Expected %q, got %q", types.SignalError, result.Signal)
	}
	if len(result.Trace.Steps) != 0 {
		t.Error("A formula that fails to parse must not be partially evaluated")
	}
}

func TestShortCircuitSkipsLookups(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=AND(1<0, Sales[Q12]>0)`, qs, "")

	if result.Bool == nil || *result.Bool {
		t.Fatalf("Expected false, got %+v", result)
	}
	if len(result.Trace.Substitutions) != 0 {
		t.Errorf("Short-circuited argument must not resolve metrics, got %d substitutions",
			len(result.Trace.Substitutions))
	}
	if len(result.QuartersUsed) != 0 {
		t.Errorf("Expected no quarters touched, got %v", result.QuartersUsed)
	}
}

func TestOrShortCircuit(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=OR(1>0, Sales[Q12]>0)`, qs, "")

	if result.Bool == nil || !*result.Bool {
		t.Fatalf("Expected true, got %+v", result)
	}
	if len(result.Trace.Substitutions) != 0 {
		t.Errorf("OR must short-circuit before the lookup, got %d substitutions",
			len(result.Trace.Substitutions))
	}
}

func TestBooleanTrueMapsToUpperCasedLabel(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=AND(Sales[Q12]>Sales[Q11], Sales[Q11]>Sales[Q10])`, qs, "buy")

	if result.Signal != "BUY" {
		t.Errorf("Expected upper-cased signal BUY, got %q", result.Signal)
	}
}

func TestNumberResultPassesThrough(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=Sales[Q12]-Sales[Q1]`, qs, "ignored")

	if result.ResultType != types.ResultNumber || result.Number == nil || *result.Number != 1100 {
		t.Fatalf("Expected 1100, got %+v", result)
	}
	if result.Signal != "1100" {
		t.Errorf("Expected numeric signal pass-through, got %q", result.Signal)
	}
}

func TestRelativeAddressingMode(t *testing.T) {
	qs := salesDataset()

	en := NewEngine(Config{RelativeRefs: true})
	result := evaluate(t, en, `=Sales[Q0]-Sales[Q-1]`, qs, "")
	if result.Number == nil || *result.Number != 100 {
		t.Fatalf("Expected newest minus previous = 100, got %+v", result)
	}

	// The relative mode is opt-in; by default those references are a
	// parse error, not silently absolute.
	strict := NewEngine(Config{})
	result = evaluate(t, strict, `=Sales[Q0]`, qs, "")
	if result.ErrorClass != types.ErrClassParse {
		t.Errorf("Expected parse error with relative refs disabled, got %+v", result)
	}
}

func TestOutOfWindowReferenceIsNull(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()[:4]

	result := evaluate(t, en, `=ISBLANK(Sales[Q12])`, qs, "")

	if result.Bool == nil || !*result.Bool {
		t.Errorf("Expected reference beyond the window to be null, got %+v", result)
	}
}

func TestExplicitQuarterSelection(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result, err := en.Evaluate(context.Background(), Request{
		Formula:          types.Formula{Expression: `=Sales[Q2]`},
		Quarters:         qs,
		SelectedQuarters: []string{"Mar 2024", "Jun 2021"},
		WithTrace:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Selection re-sorts: Q1 = Jun 2021 (100), Q2 = Mar 2024 (1200).
	if result.Number == nil || *result.Number != 1200 {
		t.Errorf("Expected 1200 from restricted window, got %+v", result)
	}
}

func TestIdempotentTraces(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()
	expr := `=IF(AVERAGE(Sales[Q9]:Sales[Q12])>AVERAGE(Sales[Q1]:Sales[Q4]),"BUY","HOLD")`

	first := evaluate(t, en, expr, qs, "")
	second := evaluate(t, en, expr, qs, "")

	normalize := func(tr *types.FormulaTrace) *types.FormulaTrace {
		c := *tr
		c.DurationMicros = 0
		c.Steps = make([]types.EvalStep, len(tr.Steps))
		copy(c.Steps, tr.Steps)
		for i := range c.Steps {
			c.Steps[i].OffsetMicros = 0
		}
		return &c
	}
	if !reflect.DeepEqual(normalize(first.Trace), normalize(second.Trace)) {
		t.Error("Expected identical trace content across runs (timestamps aside)")
	}
}

func TestCancelledContext(t *testing.T) {
	en := NewEngine(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := en.Evaluate(ctx, Request{Formula: types.Formula{Expression: `=1`}})
	if err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestTraceDisabled(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result, err := en.Evaluate(context.Background(), Request{
		Formula:  types.Formula{Expression: `=Sales[Q12]`},
		Quarters: qs,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Trace != nil {
		t.Error("Expected no trace when not requested")
	}
	if result.Number == nil || *result.Number != 1200 {
		t.Errorf("Evaluation must behave identically without tracing, got %+v", result)
	}
	if !reflect.DeepEqual(result.QuartersUsed, []string{"Mar 2024"}) {
		t.Errorf("Quarters used must be reported without tracing, got %v", result.QuartersUsed)
	}
}

func TestSubstitutedText(t *testing.T) {
	en := NewEngine(Config{})
	qs := salesDataset()

	result := evaluate(t, en, `=IF(Sales[Q12]>Sales[Q11],"BUY","HOLD")`, qs, "")

	want := `=IF(1200>1100,"BUY","HOLD")`
	if result.Trace.Substituted != want {
		t.Errorf("Expected substituted text %q, got %q", want, result.Trace.Substituted)
	}
}
