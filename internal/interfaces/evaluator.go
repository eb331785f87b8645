package interfaces

import (
	"context"

	"formula-signal-engine/internal/formula"
	"formula-signal-engine/internal/types"
)

// Evaluator defines the interface for formula evaluation
type Evaluator interface {
	// Evaluate runs one formula against one company's quarterly dataset
	Evaluate(ctx context.Context, req formula.Request) (*types.EvalResult, error)
}
