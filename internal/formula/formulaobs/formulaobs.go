package formulaobs

import (
	"context"
	"time"

	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/interfaces"
	"formula-signal-engine/internal/logger"
	"formula-signal-engine/internal/trace"
	"formula-signal-engine/internal/types"
)

// observableEvaluator wraps an Evaluator with logging and tracing
type observableEvaluator struct {
	inner interfaces.Evaluator
}

// Wrap wraps an Evaluator with observability middleware
func Wrap(evaluator interfaces.Evaluator) interfaces.Evaluator {
	return &observableEvaluator{inner: evaluator}
}

// Evaluate wraps the Evaluate method with logging and tracing
func (o *observableEvaluator) Evaluate(ctx context.Context, req formula.Request) (*types.EvalResult, error) {
	ctx, span := trace.StartSpan(ctx, "formula.Evaluate")
	defer span.End()

	logger.Debug(ctx, "Evaluating formula",
		"formula", req.Formula.Expression,
		"quarter_count", len(req.Quarters),
		"with_trace", req.WithTrace)
	start := time.Now()

	result, err := o.inner.Evaluate(ctx, req)

	duration := time.Since(start)

	if err != nil {
		logger.ErrorWithErr(ctx, "Formula evaluation aborted", err,
			"formula", req.Formula.Expression,
			"duration_ms", duration.Milliseconds())
		return nil, err
	}

	fields := []any{
		"formula", req.Formula.Expression,
		"result_type", string(result.ResultType),
		"signal", result.Signal,
		"quarters_used", len(result.QuartersUsed),
		"duration_ms", duration.Milliseconds(),
	}
	if result.ResultType == types.ResultError {
		fields = append(fields, "error_class", result.ErrorClass, "error_message", result.ErrorMessage)
		logger.Warn(ctx, "Formula evaluation returned error result", fields...)
		return result, nil
	}

	logger.Debug(ctx, "Formula evaluation completed", fields...)
	return result, nil
}
