package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokColon
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokGT
	tokLT
	tokGE
	tokLE
	tokNE
	tokEQ
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// tokenize scans a formula body (the text after the leading "=") into a
// flat token stream. The only error cases are unterminated string
// literals and characters outside the grammar.
func tokenize(src string) ([]token, *ParseError) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case c == '"' || c == '\'':
			quote := c
			start := i
			i++
			var b strings.Builder
			for i < len(src) && src[i] != quote {
				b.WriteByte(src[i])
				i++
			}
			if i >= len(src) {
				return nil, &ParseError{Token: src[start:], Message: "unterminated string literal"}
			}
			i++ // closing quote
			toks = append(toks, token{tokString, b.String(), start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			start := i
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch {
			case two == ">=":
				toks = append(toks, token{tokGE, two, start})
				i += 2
			case two == "<=":
				toks = append(toks, token{tokLE, two, start})
				i += 2
			case two == "<>" || two == "!=":
				toks = append(toks, token{tokNE, two, start})
				i += 2
			case two == "==":
				toks = append(toks, token{tokEQ, two, start})
				i += 2
			default:
				var kind tokenKind
				switch c {
				case '(':
					kind = tokLParen
				case ')':
					kind = tokRParen
				case '[':
					kind = tokLBracket
				case ']':
					kind = tokRBracket
				case ',':
					kind = tokComma
				case ':':
					kind = tokColon
				case '+':
					kind = tokPlus
				case '-':
					kind = tokMinus
				case '*':
					kind = tokStar
				case '/':
					kind = tokSlash
				case '>':
					kind = tokGT
				case '<':
					kind = tokLT
				case '=':
					kind = tokEQ
				default:
					return nil, &ParseError{
						Token:   string(c),
						Message: fmt.Sprintf("unexpected character at offset %d", i),
					}
				}
				toks = append(toks, token{kind, string(c), start})
				i++
			}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
