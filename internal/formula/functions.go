package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"formula-signal-engine/internal/types"
)

type evalFunc func(e *evalState, c *callNode) (Value, error)

// funcSpec declares one function of the library: its arity (maxArgs of -1
// means unbounded), whether colon ranges are legal arguments, and its
// implementation. Arity is validated at parse time so a wrong argument
// count is a ParseError, never a partial evaluation.
type funcSpec struct {
	minArgs      int
	maxArgs      int
	acceptsRange bool
	fn           evalFunc
}

func (s funcSpec) arityString() string {
	switch {
	case s.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", s.minArgs)
	case s.minArgs == s.maxArgs:
		return fmt.Sprintf("%d argument(s)", s.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", s.minArgs, s.maxArgs)
	}
}

// functionSpecs is populated in init: the specs reference the fn
// implementations, which reach back into the table through eval, so a
// plain package-level map literal would be an initialization cycle.
var functionSpecs map[string]funcSpec

func init() {
	functionSpecs = map[string]funcSpec{
		// Logical
		"AND":      {1, -1, false, fnAnd},
		"OR":       {1, -1, false, fnOr},
		"IF":       {3, 3, false, fnIf},
		"NOT":      {1, 1, false, fnNot},
		"XOR":      {2, 2, false, fnXor},
		"ISNUMBER": {1, 1, false, fnIsNumber},
		"ISBLANK":  {1, 1, false, fnIsBlank},

		// Math / aggregates
		"SUM":       {1, -1, true, fnSum},
		"AVERAGE":   {1, -1, true, fnAverage},
		"MAX":       {1, -1, true, fnMax},
		"MIN":       {1, -1, true, fnMin},
		"COUNT":     {1, -1, true, fnCount},
		"ROUND":     {2, 2, false, fnRound},
		"ROUNDUP":   {2, 2, false, fnRoundUp},
		"ROUNDDOWN": {2, 2, false, fnRoundDown},
		"ABS":       {1, 1, false, fnAbs},
		"SQRT":      {1, 1, false, fnSqrt},
		"POWER":     {2, 2, false, fnPower},
		"LOG":       {1, 2, false, fnLog},
		"CEILING":   {1, 2, false, fnCeiling},
		"FLOOR":     {1, 2, false, fnFloor},

		// Text
		"TRIM":        {1, 1, false, fnConcatOrTrim},
		"CONCAT":      {2, -1, false, fnConcatOrTrim},
		"CONCATENATE": {2, -1, false, fnConcatOrTrim},

		// Error handling
		"IFERROR":  {2, 2, false, fnIfError},
		"NOTNULL":  {1, -1, false, fnCoalesce},
		"COALESCE": {1, -1, false, fnCoalesce},

		// Conditional aggregation
		"SUMIF":   {2, 3, true, fnSumIf},
		"COUNTIF": {2, 2, true, fnCountIf},
	}
}

// ---- logical ----

// fnAnd evaluates arguments left to right and stops at the first falsy
// one. Skipped arguments are never evaluated, so they produce no trace
// steps and no metric lookups.
func fnAnd(e *evalState, c *callNode) (Value, error) {
	for i, arg := range c.args {
		v, err := e.eval(arg)
		if err != nil {
			return Null(), err
		}
		ok, rerr := v.Truthy()
		if rerr != nil {
			return Null(), rerr
		}
		if !ok {
			e.rec.Step(types.StepLogical, fmt.Sprintf("AND short-circuited false at argument %d", i+1),
				[]string{v.String()}, "false", nil)
			return Boolean(false), nil
		}
	}
	e.rec.Step(types.StepLogical, fmt.Sprintf("AND(%d args) = true", len(c.args)), nil, "true", nil)
	return Boolean(true), nil
}

// fnOr short-circuits true at the first truthy argument.
func fnOr(e *evalState, c *callNode) (Value, error) {
	for i, arg := range c.args {
		v, err := e.eval(arg)
		if err != nil {
			return Null(), err
		}
		ok, rerr := v.Truthy()
		if rerr != nil {
			return Null(), rerr
		}
		if ok {
			e.rec.Step(types.StepLogical, fmt.Sprintf("OR short-circuited true at argument %d", i+1),
				[]string{v.String()}, "true", nil)
			return Boolean(true), nil
		}
	}
	e.rec.Step(types.StepLogical, fmt.Sprintf("OR(%d args) = false", len(c.args)), nil, "false", nil)
	return Boolean(false), nil
}

func fnIf(e *evalState, c *callNode) (Value, error) {
	cond, err := e.eval(c.args[0])
	if err != nil {
		return Null(), err
	}
	ok, rerr := cond.Truthy()
	if rerr != nil {
		return Null(), rerr
	}

	branch := c.args[2]
	taken := "else"
	if ok {
		branch = c.args[1]
		taken = "then"
	}
	out, err := e.eval(branch)
	if err != nil {
		return Null(), err
	}
	e.rec.Step(types.StepLogical, fmt.Sprintf("IF(%s) took %s branch", cond.String(), taken),
		[]string{cond.String()}, out.String(), map[string]string{"branch": taken})
	return out, nil
}

func fnNot(e *evalState, c *callNode) (Value, error) {
	v, err := e.eval(c.args[0])
	if err != nil {
		return Null(), err
	}
	ok, rerr := v.Truthy()
	if rerr != nil {
		return Null(), rerr
	}
	out := Boolean(!ok)
	e.rec.Step(types.StepLogical, fmt.Sprintf("NOT(%s) = %s", v.String(), out.String()),
		[]string{v.String()}, out.String(), nil)
	return out, nil
}

func fnXor(e *evalState, c *callNode) (Value, error) {
	left, err := e.eval(c.args[0])
	if err != nil {
		return Null(), err
	}
	right, err := e.eval(c.args[1])
	if err != nil {
		return Null(), err
	}
	lok, rerr := left.Truthy()
	if rerr != nil {
		return Null(), rerr
	}
	rok, rerr := right.Truthy()
	if rerr != nil {
		return Null(), rerr
	}
	out := Boolean(lok != rok)
	e.rec.Step(types.StepLogical, fmt.Sprintf("XOR(%s, %s) = %s", left.String(), right.String(), out.String()),
		[]string{left.String(), right.String()}, out.String(), nil)
	return out, nil
}

func fnIsNumber(e *evalState, c *callNode) (Value, error) {
	v, err := e.eval(c.args[0])
	if err != nil {
		return Null(), err
	}
	out := Boolean(v.IsNumber())
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("ISNUMBER(%s) = %s", v.String(), out.String()),
		[]string{v.String()}, out.String(), nil)
	return out, nil
}

func fnIsBlank(e *evalState, c *callNode) (Value, error) {
	v, err := e.eval(c.args[0])
	if err != nil {
		return Null(), err
	}
	out := Boolean(v.IsNull())
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("ISBLANK(%s) = %s", v.String(), out.String()),
		[]string{v.String()}, out.String(), nil)
	return out, nil
}

// ---- aggregates ----

func numericValues(vals []Value) []float64 {
	nums := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v.IsNumber() {
			nums = append(nums, v.Num)
		}
	}
	return nums
}

func valueStrings(vals []Value) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.String()
	}
	return out
}

// fnSum ignores null entries; an all-null range sums to 0.
func fnSum(e *evalState, c *callNode) (Value, error) {
	vals, err := e.expandArgs(c)
	if err != nil {
		return Null(), err
	}
	total := 0.0
	for _, n := range numericValues(vals) {
		total += n
	}
	out := Number(total)
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("SUM over %d value(s) = %s", len(vals), out.String()),
		valueStrings(vals), out.String(), nil)
	return out, nil
}

// fnAverage raises "no numeric values" on an all-null range instead of
// producing NaN.
func fnAverage(e *evalState, c *callNode) (Value, error) {
	vals, err := e.expandArgs(c)
	if err != nil {
		return Null(), err
	}
	nums := numericValues(vals)
	if len(nums) == 0 {
		return Null(), runtimeErr("AVERAGE", "no numeric values")
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	out := Number(total / float64(len(nums)))
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("AVERAGE over %d numeric value(s) = %s", len(nums), out.String()),
		valueStrings(vals), out.String(), nil)
	return out, nil
}

func fnMax(e *evalState, c *callNode) (Value, error) {
	return e.extremum(c, "MAX", func(a, b float64) bool { return a > b })
}

func fnMin(e *evalState, c *callNode) (Value, error) {
	return e.extremum(c, "MIN", func(a, b float64) bool { return a < b })
}

func (e *evalState) extremum(c *callNode, name string, better func(a, b float64) bool) (Value, error) {
	vals, err := e.expandArgs(c)
	if err != nil {
		return Null(), err
	}
	nums := numericValues(vals)
	if len(nums) == 0 {
		return Null(), runtimeErr(name, "no numeric values")
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if better(n, best) {
			best = n
		}
	}
	out := Number(best)
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("%s over %d numeric value(s) = %s", name, len(nums), out.String()),
		valueStrings(vals), out.String(), nil)
	return out, nil
}

func fnCount(e *evalState, c *callNode) (Value, error) {
	vals, err := e.expandArgs(c)
	if err != nil {
		return Null(), err
	}
	out := Number(float64(len(numericValues(vals))))
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("COUNT over %d value(s) = %s", len(vals), out.String()),
		valueStrings(vals), out.String(), nil)
	return out, nil
}

// ---- scalar math ----

func (e *evalState) numericArgs(c *callNode) ([]float64, []Value, error) {
	vals, err := e.evalArgs(c)
	if err != nil {
		return nil, nil, err
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, err := asNumber(c.name, v)
		if err != nil {
			return nil, nil, err
		}
		nums[i] = n
	}
	return nums, vals, nil
}

func (e *evalState) mathResult(c *callNode, vals []Value, result float64) (Value, error) {
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return Null(), runtimeErr(c.name, "result is not a finite number")
	}
	out := Number(result)
	e.rec.Step(types.StepFunctionCall,
		fmt.Sprintf("%s(%s) = %s", c.name, strings.Join(valueStrings(vals), ", "), out.String()),
		valueStrings(vals), out.String(), nil)
	return out, nil
}

func fnRound(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	p := math.Pow(10, math.Trunc(nums[1]))
	return e.mathResult(c, vals, math.Round(nums[0]*p)/p)
}

func fnRoundUp(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	p := math.Pow(10, math.Trunc(nums[1]))
	// Rounds away from zero, like Excel's ROUNDUP.
	scaled := math.Ceil(math.Abs(nums[0]) * p)
	return e.mathResult(c, vals, math.Copysign(scaled/p, nums[0]))
}

func fnRoundDown(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	p := math.Pow(10, math.Trunc(nums[1]))
	return e.mathResult(c, vals, math.Trunc(nums[0]*p)/p)
}

func fnAbs(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	return e.mathResult(c, vals, math.Abs(nums[0]))
}

func fnSqrt(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	if nums[0] < 0 {
		return Null(), runtimeErr("SQRT", "square root of negative number")
	}
	return e.mathResult(c, vals, math.Sqrt(nums[0]))
}

func fnPower(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	return e.mathResult(c, vals, math.Pow(nums[0], nums[1]))
}

// fnLog is base 10 with one argument, explicit base with two.
func fnLog(e *evalState, c *callNode) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	if nums[0] <= 0 {
		return Null(), runtimeErr("LOG", "logarithm of non-positive number")
	}
	base := 10.0
	if len(nums) == 2 {
		base = nums[1]
	}
	if base <= 0 || base == 1 {
		return Null(), runtimeErr("LOG", "invalid logarithm base %s", formatNumber(base))
	}
	return e.mathResult(c, vals, math.Log(nums[0])/math.Log(base))
}

func fnCeiling(e *evalState, c *callNode) (Value, error) {
	return e.significanceRound(c, math.Ceil)
}

func fnFloor(e *evalState, c *callNode) (Value, error) {
	return e.significanceRound(c, math.Floor)
}

func (e *evalState) significanceRound(c *callNode, round func(float64) float64) (Value, error) {
	nums, vals, err := e.numericArgs(c)
	if err != nil {
		return Null(), err
	}
	sig := 1.0
	if len(nums) == 2 {
		sig = nums[1]
	}
	if sig == 0 {
		return Null(), runtimeErr(c.name, "zero significance")
	}
	return e.mathResult(c, vals, round(nums[0]/sig)*sig)
}

// ---- text ----

// stringify renders a value for text functions: null becomes the empty
// string so CONCAT over partial data stays usable.
func stringify(v Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func fnConcatOrTrim(e *evalState, c *callNode) (Value, error) {
	vals, err := e.evalArgs(c)
	if err != nil {
		return Null(), err
	}

	var out Value
	if c.name == "TRIM" {
		out = Text(strings.TrimSpace(stringify(vals[0])))
	} else {
		var b strings.Builder
		for _, v := range vals {
			b.WriteString(stringify(v))
		}
		out = Text(b.String())
	}
	e.rec.Step(types.StepFunctionCall,
		fmt.Sprintf("%s(%s) = %q", c.name, strings.Join(valueStrings(vals), ", "), out.Str),
		valueStrings(vals), out.Str, nil)
	return out, nil
}

// ---- error handling ----

// fnIfError evaluates its first argument and, if that raises a
// RuntimeError, returns the fallback instead. ParseErrors never reach
// here: a formula that fails to parse is not evaluated at all.
func fnIfError(e *evalState, c *callNode) (Value, error) {
	v, err := e.eval(c.args[0])
	if err == nil {
		e.rec.Step(types.StepFunctionCall, "IFERROR passed value through", []string{v.String()}, v.String(), nil)
		return v, nil
	}

	fallback, ferr := e.eval(c.args[1])
	if ferr != nil {
		return Null(), ferr
	}
	e.rec.Step(types.StepFunctionCall, "IFERROR caught error, returned fallback",
		[]string{err.Error()}, fallback.String(), map[string]string{"caught": err.Error()})
	return fallback, nil
}

// fnCoalesce returns the first non-null argument, evaluating lazily left
// to right. All-null arguments coalesce to null.
func fnCoalesce(e *evalState, c *callNode) (Value, error) {
	for i, arg := range c.args {
		v, err := e.eval(arg)
		if err != nil {
			return Null(), err
		}
		if !v.IsNull() {
			e.rec.Step(types.StepFunctionCall,
				fmt.Sprintf("%s returned argument %d", c.name, i+1),
				[]string{v.String()}, v.String(), nil)
			return v, nil
		}
	}
	e.rec.Step(types.StepFunctionCall, fmt.Sprintf("%s: all arguments null", c.name), nil, "null", nil)
	return Null(), nil
}

// ---- conditional aggregation ----

// criteria is a parsed SUMIF/COUNTIF condition like ">5" or "<>0".
type criteria struct {
	op  string
	val Value
}

func parseCriteria(v Value) criteria {
	if v.Kind != KindString {
		return criteria{op: "=", val: v}
	}
	s := strings.TrimSpace(v.Str)
	for _, op := range []string{">=", "<=", "<>", ">", "<", "="} {
		if strings.HasPrefix(s, op) {
			rest := strings.TrimSpace(strings.TrimPrefix(s, op))
			if n, err := strconv.ParseFloat(rest, 64); err == nil {
				return criteria{op: op, val: Number(n)}
			}
			return criteria{op: op, val: Text(rest)}
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return criteria{op: "=", val: Number(n)}
	}
	return criteria{op: "=", val: Text(s)}
}

// matches applies a criteria to one range entry. Null entries never match.
func (cr criteria) matches(v Value) bool {
	if v.IsNull() {
		return false
	}
	return compareValues(cr.op, v, cr.val)
}

func fnSumIf(e *evalState, c *callNode) (Value, error) {
	rangeVals, err := e.expandArg(c.args[0])
	if err != nil {
		return Null(), err
	}
	critVal, err := e.eval(c.args[1])
	if err != nil {
		return Null(), err
	}
	cr := parseCriteria(critVal)

	sumVals := rangeVals
	if len(c.args) == 3 {
		sumVals, err = e.expandArg(c.args[2])
		if err != nil {
			return Null(), err
		}
		if len(sumVals) != len(rangeVals) {
			return Null(), runtimeErr("SUMIF", "criteria range and sum range differ in size (%d vs %d)",
				len(rangeVals), len(sumVals))
		}
	}

	total := 0.0
	matched := 0
	for i, v := range rangeVals {
		if cr.matches(v) && sumVals[i].IsNumber() {
			total += sumVals[i].Num
			matched++
		}
	}
	out := Number(total)
	e.rec.Step(types.StepFunctionCall,
		fmt.Sprintf("SUMIF matched %d of %d value(s) = %s", matched, len(rangeVals), out.String()),
		valueStrings(rangeVals), out.String(), map[string]string{"criteria": critVal.String()})
	return out, nil
}

func fnCountIf(e *evalState, c *callNode) (Value, error) {
	rangeVals, err := e.expandArg(c.args[0])
	if err != nil {
		return Null(), err
	}
	critVal, err := e.eval(c.args[1])
	if err != nil {
		return Null(), err
	}
	cr := parseCriteria(critVal)

	matched := 0
	for _, v := range rangeVals {
		if cr.matches(v) {
			matched++
		}
	}
	out := Number(float64(matched))
	e.rec.Step(types.StepFunctionCall,
		fmt.Sprintf("COUNTIF matched %d of %d value(s)", matched, len(rangeVals)),
		valueStrings(rangeVals), out.String(), map[string]string{"criteria": critVal.String()})
	return out, nil
}
