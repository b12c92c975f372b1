// core/boolexpr.go
package core

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// BoolExpr is an immutable Boolean expression tree over named gene nodes.
// A single parsed tree is shared by every cloned network (rules are pure
// functions of the state snapshot they are evaluated against), so Eval must
// never mutate the receiver.
type BoolExpr interface {
	// Eval substitutes each referenced node's truth value from states and
	// evaluates the expression. Referencing a name absent from states is an
	// evaluation error; callers treat the result as false for that step.
	Eval(states map[string]bool) (bool, error)

	// String renders the expression in canonical form.
	String() string
}

type varExpr struct{ name string }

func (e *varExpr) Eval(states map[string]bool) (bool, error) {
	v, ok := states[e.name]
	if !ok {
		return false, fmt.Errorf("rule references unknown node %q", e.name)
	}
	return v, nil
}

func (e *varExpr) String() string { return e.name }

type constExpr struct{ value bool }

func (e *constExpr) Eval(map[string]bool) (bool, error) { return e.value, nil }

func (e *constExpr) String() string {
	if e.value {
		return "TRUE"
	}
	return "FALSE"
}

type notExpr struct{ inner BoolExpr }

func (e *notExpr) Eval(states map[string]bool) (bool, error) {
	v, err := e.inner.Eval(states)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (e *notExpr) String() string { return "NOT " + parenthesize(e.inner) }

type binaryOp int

const (
	opAnd binaryOp = iota
	opOr
	opXor
)

type binaryExpr struct {
	op    binaryOp
	left  BoolExpr
	right BoolExpr
}

func (e *binaryExpr) Eval(states map[string]bool) (bool, error) {
	l, err := e.left.Eval(states)
	if err != nil {
		return false, err
	}
	r, err := e.right.Eval(states)
	if err != nil {
		return false, err
	}
	switch e.op {
	case opAnd:
		return l && r, nil
	case opOr:
		return l || r, nil
	default:
		return l != r, nil
	}
}

func (e *binaryExpr) String() string {
	var op string
	switch e.op {
	case opAnd:
		op = "AND"
	case opOr:
		op = "OR"
	default:
		op = "XOR"
	}
	return parenthesize(e.left) + " " + op + " " + parenthesize(e.right)
}

func parenthesize(e BoolExpr) string {
	switch e.(type) {
	case *varExpr, *constExpr:
		return e.String()
	default:
		return "(" + e.String() + ")"
	}
}

// ExprInputs returns the sorted set of node names referenced by the
// expression.
func ExprInputs(e BoolExpr) []string {
	set := make(map[string]struct{})
	collectInputs(e, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectInputs(e BoolExpr, set map[string]struct{}) {
	switch v := e.(type) {
	case *varExpr:
		set[v.name] = struct{}{}
	case *notExpr:
		collectInputs(v.inner, set)
	case *binaryExpr:
		collectInputs(v.left, set)
		collectInputs(v.right, set)
	}
}

// ParseBoolExpr parses a logic string over node names combined with
// AND / OR / NOT / XOR (case-insensitive; && || ! accepted as synonyms) and
// parentheses. Precedence, tightest first: NOT, AND, XOR, OR.
func ParseBoolExpr(input string) (BoolExpr, error) {
	toks, err := tokenizeExpr(input)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("unexpected token %q in rule %q", p.peek(), input)
	}
	return expr, nil
}

type exprParser struct {
	toks []string
	pos  int
}

func (p *exprParser) eof() bool { return p.pos >= len(p.toks) }

func (p *exprParser) peek() string {
	if p.eof() {
		return ""
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) parseOr() (BoolExpr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "OR") || p.peek() == "||" {
		p.next()
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opOr, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseXor() (BoolExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "XOR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opXor, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (BoolExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "AND") || p.peek() == "&&" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opAnd, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (BoolExpr, error) {
	if strings.EqualFold(p.peek(), "NOT") || p.peek() == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (BoolExpr, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of rule")
	case tok == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return inner, nil
	case strings.EqualFold(tok, "TRUE"):
		p.next()
		return &constExpr{value: true}, nil
	case strings.EqualFold(tok, "FALSE"):
		p.next()
		return &constExpr{value: false}, nil
	case isIdentToken(tok) && !isReservedWord(tok):
		p.next()
		return &varExpr{name: tok}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", tok)
	}
}

// Operator keywords can never name a node; treating them as identifiers
// would silently absorb malformed rules like "A AND AND".
func isReservedWord(tok string) bool {
	for _, kw := range []string{"AND", "OR", "NOT", "XOR"} {
		if strings.EqualFold(tok, kw) {
			return true
		}
	}
	return false
}

func isIdentToken(tok string) bool {
	if tok == "" {
		return false
	}
	for i, r := range tok {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

func tokenizeExpr(input string) ([]string, error) {
	var toks []string
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			toks = append(toks, string(r))
			i++
		case r == '!':
			toks = append(toks, "!")
			i++
		case r == '&' || r == '|':
			// Accept both the single and doubled forms.
			if i+1 < len(runes) && runes[i+1] == r {
				i++
			}
			if r == '&' {
				toks = append(toks, "&&")
			} else {
				toks = append(toks, "||")
			}
			i++
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			toks = append(toks, string(runes[i:j]))
			i = j
		default:
			return nil, fmt.Errorf("invalid character %q in rule %q", string(r), input)
		}
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty rule")
	}
	return toks, nil
}
