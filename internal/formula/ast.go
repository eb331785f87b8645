package formula

// node is an expression tree vertex. The tree is immutable after parsing,
// so concurrent evaluations of the same parsed formula never interfere.
type node interface{}

type numberNode struct {
	val float64
}

type stringNode struct {
	val string
}

// refNode is a metric-quarter reference like Sales[Q12]. For absolute
// references index is 1-based into the window (1 = oldest, N = newest).
// When relative is true, index is an offset from the newest quarter
// (0 = newest, -1 = one older); this mode is opt-in.
type refNode struct {
	metric   string
	index    int
	relative bool
	token    string
}

// rangeNode is a colon range of references over one metric, e.g.
// Sales[Q1]:Sales[Q6]. Ranges are only legal as arguments to aggregate
// functions and are expanded to individual references before evaluation.
type rangeNode struct {
	metric   string
	from     int
	to       int
	relative bool
	token    string
}

type binaryNode struct {
	op      string
	left    node
	right   node
	compare bool
}

type unaryNode struct {
	op      string
	operand node
}

type callNode struct {
	name string // canonical upper-case function name
	args []node
}
