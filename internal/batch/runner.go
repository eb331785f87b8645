package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/interfaces"
	"formula-signal-engine/internal/logger"
	"formula-signal-engine/internal/trace"
	"formula-signal-engine/internal/types"
)

// Runner evaluates a formula set against a universe of companies through a
// bounded worker pool. Items are fully isolated: a dataset that fails to
// load or a formula that errors produces that item's failure record and
// the rest of the batch continues.
type Runner struct {
	evaluator   interfaces.Evaluator
	loader      interfaces.DatasetLoader
	workers     int
	itemTimeout time.Duration
}

type Params struct {
	Workers     int
	ItemTimeout time.Duration
}

func NewRunner(evaluator interfaces.Evaluator, loader interfaces.DatasetLoader, p Params) *Runner {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := p.ItemTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{
		evaluator:   evaluator,
		loader:      loader,
		workers:     workers,
		itemTimeout: timeout,
	}
}

// Item is one (company, formula) evaluation.
type Item struct {
	Symbol  string            `json:"symbol"`
	Formula types.Formula     `json:"formula"`
	Result  *types.EvalResult `json:"result,omitempty"`
	// Err records infrastructure failures: dataset load errors and
	// timeouts. Formula-level failures live inside Result.
	Err string `json:"err,omitempty"`
}

// CompanySummary is the precedence outcome for one company: the signal of
// the highest-priority formula that produced an actionable one.
type CompanySummary struct {
	Symbol string `json:"symbol"`
	Signal string `json:"signal"`
}

// Report is the batch outcome. Items are ordered by symbol then by the
// formula's position in the input set, independent of worker scheduling.
type Report struct {
	Items     []Item           `json:"items"`
	Summaries []CompanySummary `json:"summaries"`
	Evaluated int              `json:"evaluated"`
	Failed    int              `json:"failed"`
	Errors    int              `json:"errors"`
	Signals   int              `json:"signals"`
}

// Run evaluates every applicable formula for every symbol. Formulas with a
// non-empty Scope apply only to the symbols it lists (comma-separated).
func (r *Runner) Run(ctx context.Context, symbols []string, formulas []types.Formula, withTrace bool) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := trace.StartSpan(ctx, "batch.Run")
	defer span.End()

	timer := logger.StartOperation(ctx, "batch_run",
		"symbols", len(symbols), "formulas", len(formulas), "workers", r.workers)
	ctx = timer.GetContext()

	items := buildItems(symbols, formulas)
	if len(items) == 0 {
		timer.End("items", 0)
		return &Report{}, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				r.runItem(ctx, &items[idx], withTrace)
			}
		}()
	}

	for idx := range items {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			timer.EndWithError(ctx.Err())
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	report := summarize(items, symbols)
	timer.End("items", len(items), "failed", report.Failed, "signals", report.Signals)
	return report, nil
}

// buildItems expands the (symbol, formula) cross product, honoring scope,
// in deterministic order.
func buildItems(symbols []string, formulas []types.Formula) []Item {
	var items []Item
	for _, sym := range symbols {
		for _, f := range formulas {
			if !inScope(f.Scope, sym) {
				continue
			}
			items = append(items, Item{Symbol: sym, Formula: f})
		}
	}
	return items
}

func inScope(scope, symbol string) bool {
	if strings.TrimSpace(scope) == "" {
		return true
	}
	for _, s := range strings.Split(scope, ",") {
		if strings.EqualFold(strings.TrimSpace(s), symbol) {
			return true
		}
	}
	return false
}

func (r *Runner) runItem(ctx context.Context, item *Item, withTrace bool) {
	ctx, cancel := context.WithTimeout(ctx, r.itemTimeout)
	defer cancel()

	data, err := r.loader.Load(ctx, item.Symbol)
	if err != nil {
		item.Err = fmt.Sprintf("dataset load failed: %v", err)
		logger.ErrorWithErr(ctx, "Dataset load failed", err, "symbol", item.Symbol)
		return
	}

	result, err := r.evaluator.Evaluate(ctx, formula.Request{
		Formula:   item.Formula,
		Quarters:  data.Quarters,
		WithTrace: withTrace,
	})
	if err != nil {
		item.Err = err.Error()
		return
	}
	item.Result = result

	if result.ResultType == types.ResultError {
		logger.EvalFailure(ctx, item.Symbol, item.Formula.Expression,
			result.ErrorClass, result.ErrorMessage)
		return
	}
	if actionable(result.Signal) {
		logger.Signal(ctx, item.Symbol, item.Formula.Expression,
			result.Signal, string(result.ResultType))
	}
}

func actionable(signal string) bool {
	return signal != "" && signal != types.SignalNone && signal != types.SignalError
}

func summarize(items []Item, symbols []string) *Report {
	report := &Report{Items: items}

	bySymbol := make(map[string][]*Item, len(symbols))
	for i := range items {
		item := &items[i]
		bySymbol[item.Symbol] = append(bySymbol[item.Symbol], item)

		switch {
		case item.Err != "":
			report.Failed++
		case item.Result.ResultType == types.ResultError:
			report.Evaluated++
			report.Errors++
		default:
			report.Evaluated++
			if actionable(item.Result.Signal) {
				report.Signals++
			}
		}
	}

	for _, sym := range symbols {
		report.Summaries = append(report.Summaries, CompanySummary{
			Symbol: sym,
			Signal: pickSignal(bySymbol[sym]),
		})
	}
	return report
}

// pickSignal applies formula precedence for one company: among formulas
// that produced an actionable signal, the highest Priority wins; ties go
// to the formula listed first.
func pickSignal(items []*Item) string {
	sorted := make([]*Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Formula.Priority > sorted[j].Formula.Priority
	})
	for _, item := range sorted {
		if item.Err == "" && item.Result != nil && actionable(item.Result.Signal) {
			return item.Result.Signal
		}
	}
	return types.SignalNone
}
