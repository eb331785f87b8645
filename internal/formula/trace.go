package formula

import (
	"time"

	"formula-signal-engine/internal/types"
)

// Recorder is the evaluation side channel. It is purely observational:
// implementations must never influence control flow, and evaluation
// behaves identically with the no-op recorder, only cheaper.
type Recorder interface {
	Step(category, description string, inputs []string, output string, meta map[string]string)
	Substitution(sub types.Substitution)
}

type nopRecorder struct{}

func (nopRecorder) Step(string, string, []string, string, map[string]string) {}
func (nopRecorder) Substitution(types.Substitution)                          {}

// NopRecorder discards everything; used when the caller does not want a
// trace.
func NopRecorder() Recorder { return nopRecorder{} }

// TraceRecorder accumulates the replayable audit record of one
// evaluation. Steps are append-only and stamped with a monotonic offset
// from recorder creation.
type TraceRecorder struct {
	start time.Time
	steps []types.EvalStep
	subs  []types.Substitution
}

func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{start: time.Now()}
}

func (t *TraceRecorder) Step(category, description string, inputs []string, output string, meta map[string]string) {
	t.steps = append(t.steps, types.EvalStep{
		Seq:          len(t.steps) + 1,
		OffsetMicros: time.Since(t.start).Microseconds(),
		Category:     category,
		Description:  description,
		Inputs:       inputs,
		Output:       output,
		Meta:         meta,
	})
}

func (t *TraceRecorder) Substitution(sub types.Substitution) {
	t.subs = append(t.subs, sub)
}

func (t *TraceRecorder) Steps() []types.EvalStep             { return t.steps }
func (t *TraceRecorder) Substitutions() []types.Substitution { return t.subs }
