package formula

import (
	"fmt"

	"formula-signal-engine/internal/metrics"
	"formula-signal-engine/internal/types"
)

// evalState carries everything one evaluation needs. Nothing here outlives
// the call: state is created per evaluation and discarded with it.
type evalState struct {
	window   []types.Quarter
	resolver *metrics.Resolver
	rec      Recorder
	used     map[string]bool
}

func newEvalState(window []types.Quarter, resolver *metrics.Resolver, rec Recorder) *evalState {
	return &evalState{
		window:   window,
		resolver: resolver,
		rec:      rec,
		used:     make(map[string]bool),
	}
}

// eval walks the tree bottom-up. The only error type produced is
// *RuntimeError; missing data never errors, it evaluates to null.
func (e *evalState) eval(n node) (Value, error) {
	switch t := n.(type) {
	case *numberNode:
		return Number(t.val), nil
	case *stringNode:
		return Text(t.val), nil
	case *refNode:
		return e.resolveRef(t), nil
	case *rangeNode:
		// Parser only admits ranges as aggregate arguments, which expand
		// them before evaluation.
		return Null(), runtimeErr("range", "range %s is only valid inside an aggregate function", t.token)
	case *unaryNode:
		return e.evalUnary(t)
	case *binaryNode:
		if t.compare {
			return e.evalComparison(t)
		}
		return e.evalArithmetic(t)
	case *callNode:
		spec := functionSpecs[t.name]
		return spec.fn(e, t)
	default:
		return Null(), runtimeErr("eval", "unknown node %T", n)
	}
}

// resolveRef maps a metric-quarter reference to a value. An index outside
// the window, a metric absent from the quarter, or a non-numeric raw value
// all resolve to null. Every resolution is recorded as a substitution plus
// a metric_lookup step.
func (e *evalState) resolveRef(ref *refNode) Value {
	pos := ref.index - 1
	if ref.relative {
		pos = len(e.window) - 1 + ref.index
	}

	sub := types.Substitution{Token: ref.token, Metric: ref.metric, Index: ref.index}

	if pos < 0 || pos >= len(e.window) {
		e.rec.Substitution(sub)
		e.rec.Step(types.StepMetricLookup, fmt.Sprintf("%s -> null (no quarter at index %d)", ref.token, ref.index),
			[]string{ref.token}, "null", nil)
		return Null()
	}

	q := e.window[pos]
	e.used[q.Label] = true

	lookup := e.resolver.Resolve(q, ref.metric)
	sub.Quarter = q.Label
	sub.Normalized = lookup.Normalized
	sub.Value = lookup.Value
	if lookup.Found {
		sub.Metric = lookup.Metric
	}
	e.rec.Substitution(sub)

	meta := map[string]string{"quarter": q.Label}
	if lookup.Found {
		meta["metric"] = lookup.Metric
	}
	if lookup.Normalized {
		meta["normalized"] = "true"
	}

	if lookup.Value == nil {
		e.rec.Step(types.StepMetricLookup, fmt.Sprintf("%s -> null", ref.token), []string{ref.token}, "null", meta)
		return Null()
	}

	out := Number(*lookup.Value)
	e.rec.Step(types.StepMetricLookup, fmt.Sprintf("%s -> %s", ref.token, out.String()),
		[]string{ref.token}, out.String(), meta)
	return out
}

func (e *evalState) evalUnary(u *unaryNode) (Value, error) {
	v, err := e.eval(u.operand)
	if err != nil {
		return Null(), err
	}
	if v.IsNull() {
		return Null(), runtimeErr("negate", "null operand")
	}
	if !v.IsNumber() {
		return Null(), runtimeErr("negate", "non-numeric operand %q", v.String())
	}
	out := Number(-v.Num)
	e.rec.Step(types.StepUnary, fmt.Sprintf("-%s = %s", v.String(), out.String()),
		[]string{v.String()}, out.String(), nil)
	return out, nil
}

// evalComparison never raises: a null on either side compares false,
// except "<>" which is true when exactly one side is null. Mismatched
// types compare unequal rather than erroring, so formulas degrade
// gracefully on partial data.
func (e *evalState) evalComparison(b *binaryNode) (Value, error) {
	left, err := e.eval(b.left)
	if err != nil {
		return Null(), err
	}
	right, err := e.eval(b.right)
	if err != nil {
		return Null(), err
	}

	result := compareValues(b.op, left, right)
	out := Boolean(result)
	e.rec.Step(types.StepComparison,
		fmt.Sprintf("%s %s %s = %s", left.String(), b.op, right.String(), out.String()),
		[]string{left.String(), right.String()}, out.String(),
		map[string]string{"op": b.op})
	return out, nil
}

func compareValues(op string, l, r Value) bool {
	if l.IsNull() || r.IsNull() {
		if op == "<>" {
			return l.IsNull() != r.IsNull()
		}
		return false
	}

	if l.Kind != r.Kind {
		return op == "<>"
	}

	switch l.Kind {
	case KindNumber:
		return compareOrdered(op, l.Num, r.Num)
	case KindString:
		return compareOrdered(op, l.Str, r.Str)
	case KindBool:
		switch op {
		case "=":
			return l.Bool == r.Bool
		case "<>":
			return l.Bool != r.Bool
		}
		return false
	}
	return false
}

func compareOrdered[T float64 | string](op string, l, r T) bool {
	switch op {
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	case "=":
		return l == r
	case "<>":
		return l != r
	}
	return false
}

func (e *evalState) evalArithmetic(b *binaryNode) (Value, error) {
	left, err := e.eval(b.left)
	if err != nil {
		return Null(), err
	}
	right, err := e.eval(b.right)
	if err != nil {
		return Null(), err
	}

	ln, err := asNumber(b.op, left)
	if err != nil {
		return Null(), err
	}
	rn, err := asNumber(b.op, right)
	if err != nil {
		return Null(), err
	}

	var result float64
	switch b.op {
	case "+":
		result = ln + rn
	case "-":
		result = ln - rn
	case "*":
		result = ln * rn
	case "/":
		if rn == 0 {
			return Null(), runtimeErr("/", "division by zero")
		}
		result = ln / rn
	default:
		return Null(), runtimeErr(b.op, "unknown arithmetic operator")
	}

	out := Number(result)
	e.rec.Step(types.StepArithmetic,
		fmt.Sprintf("%s %s %s = %s", left.String(), b.op, right.String(), out.String()),
		[]string{left.String(), right.String()}, out.String(),
		map[string]string{"op": b.op})
	return out, nil
}

// asNumber enforces the numeric-operand contract for arithmetic and the
// numeric function library. Division by zero and non-numeric operands are
// RuntimeErrors, never Infinity or NaN, so callers can tell "computed
// zero" from "could not compute".
func asNumber(op string, v Value) (float64, error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindNull:
		return 0, runtimeErr(op, "null operand")
	default:
		return 0, runtimeErr(op, "non-numeric operand %q", v.String())
	}
}

// evalArgs evaluates every argument of an eager function, left to right,
// propagating the first RuntimeError.
func (e *evalState) evalArgs(c *callNode) ([]Value, error) {
	vals := make([]Value, 0, len(c.args))
	for _, arg := range c.args {
		v, err := e.eval(arg)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// expandArg turns one aggregate argument into its value list: a range
// becomes one value per window index, anything else a single value.
func (e *evalState) expandArg(arg node) ([]Value, error) {
	rng, ok := arg.(*rangeNode)
	if !ok {
		v, err := e.eval(arg)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}

	from, to := rng.from, rng.to
	if from > to {
		from, to = to, from
	}
	vals := make([]Value, 0, to-from+1)
	for i := from; i <= to; i++ {
		ref := &refNode{
			metric:   rng.metric,
			index:    i,
			relative: rng.relative,
			token:    fmt.Sprintf("%s[Q%d]", rng.metric, i),
		}
		vals = append(vals, e.resolveRef(ref))
	}
	return vals, nil
}

// expandArgs flattens all arguments of an aggregate call.
func (e *evalState) expandArgs(c *callNode) ([]Value, error) {
	var vals []Value
	for _, arg := range c.args {
		expanded, err := e.expandArg(arg)
		if err != nil {
			return nil, err
		}
		vals = append(vals, expanded...)
	}
	return vals, nil
}
