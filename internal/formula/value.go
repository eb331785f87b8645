package formula

import "strconv"

// Kind is the dynamic type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

// Value is the evaluator's runtime value: a number, string, boolean or
// null. Null represents absent data and is a first-class citizen so that
// data-starved formulas degrade instead of failing.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

func Null() Value            { return Value{Kind: KindNull} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Text(s string) Value    { return Value{Kind: KindString, Str: s} }
func Boolean(b bool) Value   { return Value{Kind: KindBool, Bool: b} }

func (v Value) IsNull() bool   { return v.Kind == KindNull }
func (v Value) IsNumber() bool { return v.Kind == KindNumber }

// Truthy converts a value to a condition result. Null is falsy, numbers
// follow the nonzero convention, strings cannot be conditions.
func (v Value) Truthy() (bool, *RuntimeError) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindNumber:
		return v.Num != 0, nil
	case KindNull:
		return false, nil
	default:
		return false, runtimeErr("condition", "cannot use string %q as a condition", v.Str)
	}
}

// String renders a value the way it appears in traces and substituted
// formula text.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return formatNumber(v.Num)
	case KindString:
		return v.Str
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "null"
	}
}

// formatNumber trims trailing zeros so traces read like the source data
// (500, not 500.000000).
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
