package formula

import (
	"fmt"
	"strconv"
	"strings"

	"formula-signal-engine/internal/metrics"
)

type parser struct {
	src           string
	toks          []token
	pos           int
	allowRelative bool
}

// parse turns formula text into an expression tree. The text must start
// with "="; everything after it follows the grammar:
//
//	Expression := Term (("+" | "-") Term)*
//	Term       := Factor (("*" | "/") Factor)*
//	Factor     := Number | String | MetricRef | FunctionCall | "(" Expression ")"
//	MetricRef  := Identifier "[" "Q" Integer "]"
//
// Comparisons are only valid as function arguments (e.g. inside IF), and
// colon ranges only as arguments to aggregate functions.
func parse(text string, allowRelative bool) (node, *ParseError) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "=") {
		return nil, &ParseError{Token: trimmed, Message: "formula must start with '='"}
	}

	toks, perr := tokenize(trimmed[1:])
	if perr != nil {
		return nil, perr
	}

	p := &parser{src: trimmed[1:], toks: toks, allowRelative: allowRelative}
	root, perr := p.parseExpression()
	if perr != nil {
		return nil, perr
	}
	if p.peek().kind != tokEOF {
		tok := p.peek()
		if isCompOp(tok.kind) {
			return nil, &ParseError{Token: tok.text, Message: "comparison is only valid inside a function argument"}
		}
		return nil, &ParseError{Token: tok.text, Message: "unexpected trailing input"}
	}
	return root, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func isCompOp(k tokenKind) bool {
	switch k {
	case tokGT, tokLT, tokGE, tokLE, tokNE, tokEQ:
		return true
	}
	return false
}

func (p *parser) parseExpression() (node, *ParseError) {
	left, perr := p.parseTerm()
	if perr != nil {
		return nil, perr
	}
	for {
		switch p.peek().kind {
		case tokPlus, tokMinus:
			op := p.next().text
			right, perr := p.parseTerm()
			if perr != nil {
				return nil, perr
			}
			left = &binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (node, *ParseError) {
	left, perr := p.parseFactor()
	if perr != nil {
		return nil, perr
	}
	for {
		switch p.peek().kind {
		case tokStar, tokSlash:
			op := p.next().text
			right, perr := p.parseFactor()
			if perr != nil {
				return nil, perr
			}
			left = &binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (node, *ParseError) {
	tok := p.peek()
	switch tok.kind {
	case tokNumber:
		p.next()
		val, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &ParseError{Token: tok.text, Message: "malformed number"}
		}
		return &numberNode{val: val}, nil

	case tokString:
		p.next()
		return &stringNode{val: tok.text}, nil

	case tokMinus:
		p.next()
		operand, perr := p.parseFactor()
		if perr != nil {
			return nil, perr
		}
		return &unaryNode{op: "-", operand: operand}, nil

	case tokPlus:
		p.next()
		return p.parseFactor()

	case tokLParen:
		p.next()
		inner, perr := p.parseExpression()
		if perr != nil {
			return nil, perr
		}
		if p.peek().kind != tokRParen {
			return nil, &ParseError{Token: p.peek().text, Message: "unbalanced parentheses"}
		}
		p.next()
		return inner, nil

	case tokIdent:
		p.next()
		switch p.peek().kind {
		case tokLParen:
			return p.parseCall(tok.text)
		case tokLBracket:
			return p.parseRef(tok.text, tok.pos)
		default:
			return nil, &ParseError{Token: tok.text, Message: "expected '(' for a function call or '[' for a metric reference"}
		}

	default:
		return nil, &ParseError{Token: tok.text, Message: "unexpected token"}
	}
}

// parseCall parses a function call; the opening identifier has already
// been consumed and the next token is "(".
func (p *parser) parseCall(name string) (node, *ParseError) {
	canonical := strings.ToUpper(name)
	spec, known := functionSpecs[canonical]
	if !known {
		return nil, &ParseError{Token: name, Message: "unknown function"}
	}

	p.next() // "("

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, perr := p.parseArgument(canonical, spec)
			if perr != nil {
				return nil, perr
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.peek().kind != tokRParen {
		return nil, &ParseError{Token: p.peek().text, Message: "unbalanced parentheses"}
	}
	p.next()

	if len(args) < spec.minArgs || (spec.maxArgs >= 0 && len(args) > spec.maxArgs) {
		return nil, &ParseError{
			Token:   canonical,
			Message: fmt.Sprintf("wrong argument count: %s takes %s, got %d", canonical, spec.arityString(), len(args)),
		}
	}
	return &callNode{name: canonical, args: args}, nil
}

// parseArgument parses one function argument: an expression, optionally a
// comparison, or (for aggregate functions) a colon range of references.
func (p *parser) parseArgument(fn string, spec funcSpec) (node, *ParseError) {
	left, perr := p.parseExpression()
	if perr != nil {
		return nil, perr
	}

	if p.peek().kind == tokColon {
		ref, ok := left.(*refNode)
		if !ok {
			return nil, &ParseError{Token: p.peek().text, Message: "malformed range: ':' must join two metric references"}
		}
		if !spec.acceptsRange {
			return nil, &ParseError{Token: ref.token, Message: fmt.Sprintf("range argument not allowed in %s", fn)}
		}
		p.next() // ":"
		rightFactor, perr := p.parseFactor()
		if perr != nil {
			return nil, perr
		}
		end, ok := rightFactor.(*refNode)
		if !ok {
			return nil, &ParseError{Token: ref.token, Message: "malformed range: ':' must join two metric references"}
		}
		if metrics.Normalize(end.metric) != metrics.Normalize(ref.metric) || end.relative != ref.relative {
			return nil, &ParseError{
				Token:   ref.token + ":" + end.token,
				Message: "malformed range: both ends must reference the same metric",
			}
		}
		return &rangeNode{
			metric:   ref.metric,
			from:     ref.index,
			to:       end.index,
			relative: ref.relative,
			token:    ref.token + ":" + end.token,
		}, nil
	}

	if isCompOp(p.peek().kind) {
		op := p.next().text
		if op == "==" {
			op = "="
		}
		if op == "!=" {
			op = "<>"
		}
		right, perr := p.parseExpression()
		if perr != nil {
			return nil, perr
		}
		return &binaryNode{op: op, left: left, right: right, compare: true}, nil
	}

	return left, nil
}

// parseRef parses the "[Q<N>]" tail of a metric reference; the metric
// identifier has already been consumed and the next token is "[". start
// is the source offset of the identifier, so the recorded token is the
// exact source substring and substituted-text replacement always matches.
func (p *parser) parseRef(metric string, start int) (node, *ParseError) {
	p.next() // "["

	idx := p.peek()
	if idx.kind != tokIdent || !strings.HasPrefix(strings.ToUpper(idx.text), "Q") {
		return nil, &ParseError{Token: metric + "[" + idx.text, Message: "malformed metric reference"}
	}
	p.next()

	digits := strings.ToUpper(idx.text)[1:]
	negative := false
	if digits == "" {
		// "Q" alone: only legal as the relative form Q-<n>.
		if p.peek().kind != tokMinus {
			return nil, &ParseError{Token: metric + "[" + idx.text, Message: "malformed metric reference"}
		}
		p.next()
		num := p.peek()
		if num.kind != tokNumber {
			return nil, &ParseError{Token: metric + "[Q-" + num.text, Message: "malformed metric reference"}
		}
		p.next()
		digits = num.text
		negative = true
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil, &ParseError{Token: metric + "[" + idx.text + "]", Message: "malformed metric reference"}
	}

	if p.peek().kind != tokRBracket {
		return nil, &ParseError{Token: metric + "[" + idx.text, Message: "malformed metric reference: missing ']'"}
	}
	closing := p.next()

	ref := &refNode{metric: metric, token: p.src[start : closing.pos+1]}
	switch {
	case negative:
		ref.index = -n
		ref.relative = true
	case n == 0:
		ref.relative = true
	default:
		ref.index = n
	}
	if ref.relative && !p.allowRelative {
		return nil, &ParseError{Token: ref.token, Message: "relative quarter references are disabled"}
	}
	return ref, nil
}
