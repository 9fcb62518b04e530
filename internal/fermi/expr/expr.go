// Package expr evaluates arithmetic formulas over numerals. It accepts
// numbers, + - * /, parentheses and unary minus, and nothing else.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrRejected is returned for any input outside the arithmetic grammar.
	ErrRejected = errors.New("expression rejected")

	// ErrDivisionByZero is returned when a divisor evaluates to zero.
	ErrDivisionByZero = errors.New("division by zero")
)

const maxNesting = 64

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	num  float64
	op   byte
	pos  int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, op: c, pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case (c >= '0' && c <= '9') || c == '.':
			start := i
			dots := 0
			for i < len(s) && ((s[i] >= '0' && s[i] <= '9') || s[i] == '.') {
				if s[i] == '.' {
					dots++
				}
				i++
			}
			lit := s[start:i]
			if dots > 1 || lit == "." {
				return nil, fmt.Errorf("%w: malformed number %q at %d", ErrRejected, lit, start)
			}
			v, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed number %q at %d", ErrRejected, lit, start)
			}
			toks = append(toks, token{kind: tokNumber, num: v, pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrRejected, c, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Eval evaluates an arithmetic expression.
func Eval(s string) (float64, error) {
	toks, err := tokenize(s)
	if err != nil {
		return 0, err
	}
	if len(toks) == 0 {
		return 0, fmt.Errorf("%w: empty expression", ErrRejected)
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.toks) {
		return 0, fmt.Errorf("%w: trailing input at %d", ErrRejected, p.toks[p.pos].pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite result", ErrRejected)
	}
	return v, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return 0, err
		}
		if t.op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		if t.op == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		left /= right
	}
}

func (p *parser) unary() (float64, error) {
	t, ok := p.peek()
	if ok && t.kind == tokOp && t.op == '-' {
		p.pos++
		if err := p.enter(); err != nil {
			return 0, err
		}
		defer p.leave()
		v, err := p.unary()
		return -v, err
	}
	return p.primary()
}

func (p *parser) primary() (float64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrRejected)
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.num, nil
	case tokLParen:
		p.pos++
		if err := p.enter(); err != nil {
			return 0, err
		}
		defer p.leave()
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if c, ok := p.peek(); !ok || c.kind != tokRParen {
			return 0, fmt.Errorf("%w: unbalanced parenthesis at %d", ErrRejected, t.pos)
		}
		p.pos++
		return v, nil
	default:
		return 0, fmt.Errorf("%w: unexpected token at %d", ErrRejected, t.pos)
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return fmt.Errorf("%w: nesting deeper than %d", ErrRejected, maxNesting)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// RHS returns the right-hand side of "name = expression", or the formula
// unchanged when it has no assignment.
func RHS(formula string) string {
	if i := strings.IndexByte(formula, '='); i >= 0 {
		return strings.TrimSpace(formula[i+1:])
	}
	return strings.TrimSpace(formula)
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// Identifiers returns the distinct variable names referenced by the
// right-hand side of formula, in order of first appearance.
func Identifiers(formula string) []string {
	var out []string
	seen := make(map[string]bool)
	scanIdents(RHS(formula), func(name string) string {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		return name
	})
	return out
}

// Substitute replaces each identifier in the right-hand side of formula
// with its parenthesized value. Values are written in plain decimal
// notation so the result stays inside the numeral grammar. Unknown
// identifiers are left in place and make Eval reject the result.
func Substitute(formula string, values map[string]float64) string {
	return scanIdents(RHS(formula), func(name string) string {
		v, ok := values[name]
		if !ok {
			return name
		}
		return "(" + strconv.FormatFloat(v, 'f', -1, 64) + ")"
	})
}

func scanIdents(s string, replace func(string) string) string {
	var b strings.Builder
	rs := []rune(s)
	for i := 0; i < len(rs); {
		if !isIdentStart(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		j := i + 1
		for j < len(rs) && isIdentPart(rs[j]) {
			j++
		}
		b.WriteString(replace(string(rs[i:j])))
		i = j
	}
	return b.String()
}
