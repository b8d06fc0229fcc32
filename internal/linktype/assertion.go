package linktype

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/emrgen/cdr/internal/store"
	"gorm.io/gorm/clause"
)

var ErrSyntax = errors.New("invalid property expression")

const (
	OpEqual      = "=="
	OpNotEqual   = "!="
	OpPickEqual  = "+="
	OpPickNotEq  = "-="
	conjAnd      = "AND"
	conjOr       = "OR"
	wildcardText = "*"
)

// Node is one node of a parsed LinkTargetContains expression.
type Node interface {
	// Test evaluates the node against one known target document.
	Test(ctx context.Context, st store.QueryTermStore, table string, docID uint) (bool, error)
	// Condition builds the equivalent clause for selecting candidate
	// targets out of the documents table.
	Condition(table string) clause.Expression
	String() string
}

// Assertion tests whether the target indexes a value at a path. A nil
// Value is the wildcard: the path must be present with any value.
type Assertion struct {
	Path   string
	Op     string
	Value  *string
	Negate bool
}

// PicklistOnly reports whether the assertion only narrows candidate lists;
// such assertions always pass during validation.
func (a *Assertion) PicklistOnly() bool {
	return a.Op == OpPickEqual || a.Op == OpPickNotEq
}

func (a *Assertion) Test(ctx context.Context, st store.QueryTermStore, table string, docID uint) (bool, error) {
	if a.PicklistOnly() {
		return true, nil
	}
	count, err := st.CountQueryTerms(ctx, table, docID, a.Path, a.Value)
	if err != nil {
		return false, err
	}
	result := count > 0
	if a.Op == OpNotEqual {
		result = !result
	}
	return result != a.Negate, nil
}

func (a *Assertion) Condition(table string) clause.Expression {
	sql := "id IN (SELECT doc_id FROM " + table + " WHERE path = ?"
	vars := []any{a.Path}
	if a.Value != nil {
		sql += " AND value = ?"
		vars = append(vars, *a.Value)
	}
	sql += ")"
	if a.Op == OpNotEqual || a.Op == OpPickNotEq {
		sql = "NOT " + sql
	}
	var expr clause.Expression = clause.Expr{SQL: sql, Vars: vars}
	if a.Negate {
		expr = clause.Not(expr)
	}
	return expr
}

func (a *Assertion) String() string {
	value := wildcardText
	if a.Value != nil {
		value = fmt.Sprintf("%q", *a.Value)
	}
	s := fmt.Sprintf("%s %s %s", a.Path, a.Op, value)
	if a.Negate {
		return "NOT " + s
	}
	return s
}

// Assertions is a group of nodes joined by one conjunction.
type Assertions struct {
	Nodes  []Node
	Conj   string
	Negate bool
}

// Test folds left to right, stopping once the outcome is settled.
func (g *Assertions) Test(ctx context.Context, st store.QueryTermStore, table string, docID uint) (bool, error) {
	result := g.Conj == conjAnd
	for _, n := range g.Nodes {
		ok, err := n.Test(ctx, st, table, docID)
		if err != nil {
			return false, err
		}
		if g.Conj == conjOr && ok {
			result = true
			break
		}
		if g.Conj == conjAnd && !ok {
			result = false
			break
		}
	}
	return result != g.Negate, nil
}

func (g *Assertions) Condition(table string) clause.Expression {
	exprs := make([]clause.Expression, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		exprs = append(exprs, n.Condition(table))
	}
	var expr clause.Expression
	if g.Conj == conjOr {
		expr = clause.Or(exprs...)
	} else {
		expr = clause.And(exprs...)
	}
	if g.Negate {
		expr = clause.Not(expr)
	}
	return expr
}

func (g *Assertions) String() string {
	parts := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		parts = append(parts, n.String())
	}
	s := "(" + strings.Join(parts, " "+g.Conj+" ") + ")"
	if g.Negate {
		return "NOT " + s
	}
	return s
}

// Conditions flattens a tree into clauses combined with AND; a top-level
// OR run stays one grouped clause.
func Conditions(n Node, table string) []clause.Expression {
	if g, ok := n.(*Assertions); ok && g.Conj == conjAnd && !g.Negate {
		out := make([]clause.Expression, 0, len(g.Nodes))
		for _, child := range g.Nodes {
			out = append(out, child.Condition(table))
		}
		return out
	}
	return []clause.Expression{n.Condition(table)}
}

type tokenKind int

const (
	tokValue tokenKind = iota
	tokPath
	tokOp
	tokOpen
	tokClose
	tokAnd
	tokOr
	tokNot
	tokWildcard
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var out []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated value", ErrSyntax)
			}
			out = append(out, token{kind: tokValue, text: string(rs[i+1 : j])})
			i = j + 1
		case r == '/':
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune("()=", rs[j]) {
				if strings.ContainsRune("!+-", rs[j]) && j+1 < len(rs) && rs[j+1] == '=' {
					break
				}
				j++
			}
			out = append(out, token{kind: tokPath, text: string(rs[i:j])})
			i = j
		case r == '(':
			out = append(out, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			out = append(out, token{kind: tokClose, text: ")"})
			i++
		case r == '*':
			out = append(out, token{kind: tokWildcard, text: wildcardText})
			i++
		case strings.ContainsRune("=!+-", r):
			if i+1 >= len(rs) || rs[i+1] != '=' {
				return nil, fmt.Errorf("%w: bad operator at %d", ErrSyntax, i)
			}
			out = append(out, token{kind: tokOp, text: string(rs[i : i+2])})
			i += 2
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			word := strings.ToUpper(string(rs[i:j]))
			switch word {
			case conjAnd:
				out = append(out, token{kind: tokAnd, text: word})
			case conjOr:
				out = append(out, token{kind: tokOr, text: word})
			case "NOT":
				out = append(out, token{kind: tokNot, text: word})
			default:
				return nil, fmt.Errorf("%w: unexpected word %q", ErrSyntax, string(rs[i:j]))
			}
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, r)
		}
	}
	return out, nil
}

type parser struct {
	toks []token
	pos  int
}

// ParseExpression parses a LinkTargetContains property value. AND binds
// tighter than OR; parentheses group.
func ParseExpression(s string) (Node, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.toks[p.pos].text)
	}
	return n, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	p.pos++
	return t, nil
}

func (p *parser) or() (Node, error) {
	return p.joined(conjOr, tokOr, p.and)
}

func (p *parser) and() (Node, error) {
	return p.joined(conjAnd, tokAnd, p.unary)
}

func (p *parser) joined(conj string, kind tokenKind, operand func() (Node, error)) (Node, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != kind {
			break
		}
		p.pos++
		n, err := operand()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return &Assertions{Nodes: nodes, Conj: conj}, nil
}

func (p *parser) unary() (Node, error) {
	negate := false
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokNot {
			break
		}
		p.pos++
		negate = !negate
	}
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	if !negate {
		return n, nil
	}
	switch v := n.(type) {
	case *Assertion:
		v.Negate = !v.Negate
	case *Assertions:
		v.Negate = !v.Negate
	}
	return n, nil
}

func (p *parser) primary() (Node, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokOpen:
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		closing, err := p.next()
		if err != nil || closing.kind != tokClose {
			return nil, fmt.Errorf("%w: missing )", ErrSyntax)
		}
		// a parenthesized single assertion still forms its own group
		if a, ok := n.(*Assertion); ok {
			return &Assertions{Nodes: []Node{a}, Conj: conjAnd}, nil
		}
		return n, nil
	case tokPath:
		op, err := p.next()
		if err != nil {
			return nil, err
		}
		if op.kind != tokOp {
			return nil, fmt.Errorf("%w: expected operator after %s", ErrSyntax, t.text)
		}
		val, err := p.next()
		if err != nil {
			return nil, err
		}
		a := &Assertion{Path: t.text, Op: op.text}
		switch val.kind {
		case tokValue:
			v := val.text
			a.Value = &v
		case tokWildcard:
		default:
			return nil, fmt.Errorf("%w: expected value after %s", ErrSyntax, op.text)
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
}
