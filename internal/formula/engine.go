package formula

import (
	"context"
	"time"

	"formula-signal-engine/internal/metrics"
	"formula-signal-engine/internal/quarters"
	"formula-signal-engine/internal/types"
)

// Config tunes one Engine instance.
type Config struct {
	// WindowSize bounds how many quarters an evaluation sees (default 12).
	WindowSize int
	// RelativeRefs enables the opt-in relative addressing mode where
	// Metric[Q0] is the newest quarter and Metric[Q-1] one older. The
	// canonical absolute mode (Q1 = oldest of the window) is always on.
	RelativeRefs bool
	// Fallbacks extends the built-in metric alias table.
	Fallbacks []metrics.FallbackRule
}

// Engine evaluates formulas against quarterly datasets. It holds no
// mutable state, so a single Engine is safe for concurrent use across a
// batch of companies.
type Engine struct {
	resolver     *metrics.Resolver
	windowSize   int
	relativeRefs bool
}

func NewEngine(cfg Config) *Engine {
	size := cfg.WindowSize
	if size <= 0 {
		size = quarters.DefaultWindowSize
	}
	return &Engine{
		resolver:     metrics.NewResolver(cfg.Fallbacks...),
		windowSize:   size,
		relativeRefs: cfg.RelativeRefs,
	}
}

// Request is one evaluation: a formula and the company's materialized
// quarterly dataset, with optional window overrides.
type Request struct {
	Formula types.Formula
	// Quarters is the company's full quarterly dataset, any order.
	Quarters []types.Quarter
	// SelectedQuarters restricts evaluation to these labels when non-empty.
	SelectedQuarters []string
	// WindowSize overrides the engine default when positive.
	WindowSize int
	// WithTrace captures the full replayable trace on the result.
	WithTrace bool
}

// Evaluate runs one formula against one dataset. The returned error is
// reserved for caller-side problems (a cancelled context); formula-level
// parse and runtime failures never escape as Go errors. They come back
// as a result with ResultType "error" and the Error signal, so one bad
// formula can never abort a batch over hundreds of companies.
func (en *Engine) Evaluate(ctx context.Context, req Request) (*types.EvalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	size := req.WindowSize
	if size <= 0 {
		size = en.windowSize
	}
	window := quarters.Window(req.Quarters, req.SelectedQuarters, size)

	var rec Recorder = NopRecorder()
	var tr *TraceRecorder
	if req.WithTrace {
		tr = NewTraceRecorder()
		rec = tr
	}

	root, perr := parse(req.Formula.Expression, en.relativeRefs)
	if perr != nil {
		result := errorResult(types.ErrClassParse, perr.Error())
		if req.WithTrace {
			result.Trace = buildTrace(req.Formula.Expression, tr, "error: "+perr.Error(),
				types.ResultError, nil, start)
		}
		return result, nil
	}

	state := newEvalState(window, en.resolver, rec)
	val, rerr := state.eval(root)

	used := usedLabels(window, state.used)

	var result *types.EvalResult
	var rendered string
	var rtype types.ResultType
	if rerr != nil {
		result = errorResult(types.ErrClassRuntime, rerr.Error())
		rendered = "error: " + rerr.Error()
		rtype = types.ResultError
	} else {
		result = typedResult(val, req.Formula.Signal)
		rendered = val.String()
		rtype = result.ResultType
	}
	result.QuartersUsed = used

	if req.WithTrace {
		trace := buildTrace(req.Formula.Expression, tr, rendered, rtype, used, start)
		result.Trace = trace
	}
	return result, nil
}

// usedLabels returns the touched quarter labels in window (chronological)
// order, so output is deterministic run to run.
func usedLabels(window []types.Quarter, used map[string]bool) []string {
	labels := make([]string, 0, len(used))
	for _, q := range window {
		if used[q.Label] {
			labels = append(labels, q.Label)
		}
	}
	return labels
}

func buildTrace(expr string, tr *TraceRecorder, rendered string, rtype types.ResultType,
	used []string, start time.Time) *types.FormulaTrace {
	return &types.FormulaTrace{
		Formula:        expr,
		Substituted:    substitutedText(expr, tr.Substitutions()),
		Substitutions:  tr.Substitutions(),
		Steps:          tr.Steps(),
		Result:         rendered,
		ResultType:     rtype,
		QuartersUsed:   used,
		DurationMicros: time.Since(start).Microseconds(),
	}
}

func errorResult(class, message string) *types.EvalResult {
	return &types.EvalResult{
		ResultType:   types.ResultError,
		Signal:       types.SignalError,
		ErrorClass:   class,
		ErrorMessage: message,
	}
}

func typedResult(v Value, label string) *types.EvalResult {
	result := &types.EvalResult{Signal: MapSignal(v, label)}
	switch v.Kind {
	case KindNumber:
		n := v.Num
		result.ResultType = types.ResultNumber
		result.Number = &n
	case KindString:
		s := v.Str
		result.ResultType = types.ResultString
		result.Text = &s
	case KindBool:
		b := v.Bool
		result.ResultType = types.ResultBoolean
		result.Bool = &b
	default:
		result.ResultType = types.ResultNull
	}
	return result
}
