package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

var (
	ErrEmptyExpression  = errors.New("empty expression")
	ErrUnbalancedParens = errors.New("unbalanced parentheses")
	ErrUnexpectedToken  = errors.New("unexpected token")
	ErrMalformed        = errors.New("malformed expression")
)

// ParseError reports why an id expression could not be parsed.
type ParseError struct {
	Expr string
	Pos  int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at %d: %v", e.Expr, e.Pos, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type tokenKind int

const (
	tokAtom tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	atom int64
	pos  int
}

// tokenize splits an id expression. Keywords are case-insensitive.
func tokenize(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case r >= '0' && r <= '9':
			j := i
			for j < len(rs) && rs[j] >= '0' && rs[j] <= '9' {
				j++
			}
			n, err := strconv.ParseInt(string(rs[i:j]), 10, 64)
			if err != nil {
				return nil, &ParseError{Expr: expr, Pos: i, Err: ErrUnexpectedToken}
			}
			toks = append(toks, token{kind: tokAtom, atom: n, pos: i})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			var kind tokenKind
			switch strings.ToUpper(string(rs[i:j])) {
			case "AND":
				kind = tokAnd
			case "OR":
				kind = tokOr
			case "NOT":
				kind = tokNot
			default:
				return nil, &ParseError{Expr: expr, Pos: i, Err: ErrUnexpectedToken}
			}
			toks = append(toks, token{kind: kind, pos: i})
			i = j
		default:
			return nil, &ParseError{Expr: expr, Pos: i, Err: ErrUnexpectedToken}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

// parser lowers a token stream to a fully parenthesised CEL expression
// over the list variable "t" of true atom ids.
//
//	or    := and ("OR" and)*
//	and   := unary ("AND" unary)*
//	unary := "NOT" unary | atom | "(" or ")"
type parser struct {
	expr  string
	toks  []token
	i     int
	atoms map[int64]struct{}
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) fail(t token, err error) error {
	return &ParseError{Expr: p.expr, Pos: t.pos, Err: err}
}

func (p *parser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	terms := []string{left}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		terms = append(terms, right)
	}
	return chain(terms, " || "), nil
}

func (p *parser) parseAnd() (string, error) {
	left, err := p.parseUnary()
	if err != nil {
		return "", err
	}
	terms := []string{left}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		terms = append(terms, right)
	}
	return chain(terms, " && "), nil
}

// chain joins a run of one operator flat so long chains stay within
// CEL's nesting limit.
func chain(terms []string, op string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, op) + ")"
}

func (p *parser) parseUnary() (string, error) {
	t := p.next()
	switch t.kind {
	case tokNot:
		operand, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		return "!" + operand, nil
	case tokAtom:
		p.atoms[t.atom] = struct{}{}
		return fmt.Sprintf("(%d in t)", t.atom), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return "", p.fail(closing, ErrUnbalancedParens)
		}
		return inner, nil
	default:
		return "", p.fail(t, ErrMalformed)
	}
}

// Expression is a compiled id expression.
type Expression struct {
	Source string
	// Atoms are the distinct ids referenced, in first-seen order.
	Atoms   []int64
	program cel.Program
}

// Eval evaluates the expression. Ids absent from truth are false.
func (x *Expression) Eval(truth map[int64]bool) (bool, error) {
	t := make([]int64, 0, len(truth))
	for id, ok := range truth {
		if ok {
			t = append(t, id)
		}
	}

	out, _, err := x.program.Eval(map[string]any{"t": t})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", x.Source, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: non-boolean result %v", x.Source, out)
	}
	return bool(b), nil
}

type compiled struct {
	expr *Expression
	err  error
}

// Evaluator compiles id expressions with CEL and caches them by source.
// It is safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]compiled
}

// NewEvaluator creates an expression evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("t", cel.ListType(cel.IntType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		compiled: make(map[string]compiled),
	}, nil
}

// Compile parses and compiles expr. Results, including parse errors, are cached.
func (e *Evaluator) Compile(expr string) (*Expression, error) {
	e.mu.RLock()
	c, ok := e.compiled[expr]
	e.mu.RUnlock()
	if ok {
		return c.expr, c.err
	}

	x, err := e.compile(expr)

	e.mu.Lock()
	e.compiled[expr] = compiled{expr: x, err: err}
	e.mu.Unlock()

	return x, err
}

// Evaluate compiles expr if needed and evaluates it over atom values.
func (e *Evaluator) Evaluate(expr string, atoms map[int64]bool) (bool, error) {
	x, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return x.Eval(atoms)
}

// Cached returns the number of cached expressions.
func (e *Evaluator) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Evaluator) compile(expr string) (*Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &ParseError{Expr: expr, Err: ErrEmptyExpression}
	}

	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{expr: expr, toks: toks, atoms: make(map[int64]struct{})}
	src, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if rest := p.peek(); rest.kind != tokEOF {
		if rest.kind == tokRParen {
			return nil, p.fail(rest, ErrUnbalancedParens)
		}
		return nil, p.fail(rest, ErrMalformed)
	}

	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}

	atoms := make([]int64, 0, len(p.atoms))
	for _, t := range toks {
		if t.kind != tokAtom {
			continue
		}
		if _, ok := p.atoms[t.atom]; ok {
			atoms = append(atoms, t.atom)
			delete(p.atoms, t.atom)
		}
	}

	return &Expression{Source: expr, Atoms: atoms, program: program}, nil
}
