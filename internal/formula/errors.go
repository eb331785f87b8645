package formula

import "fmt"

// ParseError reports malformed formula syntax: unbalanced parentheses,
// unknown function names, wrong argument counts, malformed references.
// A formula that fails to parse is never partially evaluated.
type ParseError struct {
	Token   string
	Message string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("parse error at %q: %s", e.Token, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// RuntimeError reports an arithmetic or type failure during evaluation:
// division by zero, a non-numeric operand, an empty aggregate. It
// propagates up the expression tree to the nearest IFERROR or, uncaught,
// to the top level where it maps to the Error signal.
//
// Missing metric data is NOT a RuntimeError; absence is represented as
// null and flows through comparisons as false.
type RuntimeError struct {
	Op      string
	Message string
}

func (e *RuntimeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func runtimeErr(op, format string, args ...any) *RuntimeError {
	return &RuntimeError{Op: op, Message: fmt.Sprintf(format, args...)}
}
