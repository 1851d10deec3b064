package metastore

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/teranos/tablescan/errors"
)

// ErrInvalidFilter is returned for filter expressions that do not parse or
// that name keys the table is not partitioned by.
var ErrInvalidFilter = errors.New("invalid partition filter")

// Filter is a parsed partition filter. The zero Filter matches everything.
//
// Grammar:
//
//	expr   = term { "or" term }
//	term   = factor { "and" factor }
//	factor = "(" expr ")" | key op value
//	op     = "=" | "!=" | "<>" | "<" | "<=" | ">" | ">="
//
// Values are single or double quoted strings or bare tokens. Two values that
// both parse as numbers compare numerically, anything else compares as strings.
type Filter struct {
	expr string
	root node
}

// ParseFilter parses expr. An empty or blank expr yields a Filter that
// matches every partition.
func ParseFilter(expr string) (Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return Filter{expr: expr}, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return Filter{}, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return Filter{}, err
	}
	if !p.done() {
		return Filter{}, invalidFilter(expr, "unexpected %q", p.peek().text)
	}
	return Filter{expr: expr, root: root}, nil
}

// Match reports whether a partition with the given key values satisfies f.
// A clause on a key missing from values is false.
func (f Filter) Match(values map[string]string) bool {
	if f.root == nil {
		return true
	}
	return f.root.eval(values)
}

// Keys returns the distinct partition keys the filter mentions, sorted
func (f Filter) Keys() []string {
	if f.root == nil {
		return nil
	}
	seen := map[string]bool{}
	f.root.keys(seen)
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CheckKeys fails with ErrInvalidFilter if the filter references a key not
// in allowed.
func (f Filter) CheckKeys(allowed []string) error {
	for _, k := range f.Keys() {
		if !slices.Contains(allowed, k) {
			err := invalidFilter(f.expr, "unknown partition key %q", k)
			return errors.WithHintf(err, "partition keys are: %s", strings.Join(allowed, ", "))
		}
	}
	return nil
}

// IsEmpty reports whether f matches everything
func (f Filter) IsEmpty() bool { return f.root == nil }

func (f Filter) String() string { return f.expr }

func invalidFilter(expr, format string, args ...interface{}) error {
	err := errors.Wrapf(ErrInvalidFilter, format, args...)
	return errors.WithDetailf(err, "filter: %s", expr)
}

type node interface {
	eval(values map[string]string) bool
	keys(seen map[string]bool)
}

type logicalNode struct {
	and         bool
	left, right node
}

func (n *logicalNode) eval(values map[string]string) bool {
	if n.and {
		return n.left.eval(values) && n.right.eval(values)
	}
	return n.left.eval(values) || n.right.eval(values)
}

func (n *logicalNode) keys(seen map[string]bool) {
	n.left.keys(seen)
	n.right.keys(seen)
}

type compareNode struct {
	key   string
	op    string
	value string
}

func (n *compareNode) eval(values map[string]string) bool {
	actual, ok := values[n.key]
	if !ok {
		return false
	}
	c := compareValues(actual, n.value)
	switch n.op {
	case "=":
		return c == 0
	case "!=", "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func (n *compareNode) keys(seen map[string]bool) { seen[n.key] = true }

func compareValues(a, b string) int {
	fa, okA := finiteNumber(a)
	fb, okB := finiteNumber(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// finiteNumber parses s as a finite decimal number. NaN, infinities, hex
// floats and digit separators compare as strings.
func finiteNumber(s string) (float64, bool) {
	if strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '\'' || r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != r {
				end++
			}
			if end == len(rs) {
				return nil, invalidFilter(expr, "unterminated string starting at offset %d", i)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : end])})
			i = end + 1
		case isOpRune(r):
			end := i + 1
			if end < len(rs) && isOpRune(rs[end]) {
				end++
			}
			op := string(rs[i:end])
			switch op {
			case "=", "!=", "<>", "<", "<=", ">", ">=":
			default:
				return nil, invalidFilter(expr, "unknown operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = end
		default:
			end := i
			for end < len(rs) && !unicode.IsSpace(rs[end]) && !isOpRune(rs[end]) &&
				rs[end] != '(' && rs[end] != ')' && rs[end] != '\'' && rs[end] != '"' {
				end++
			}
			toks = append(toks, token{tokWord, string(rs[i:end])})
			i = end
		}
	}
	return toks, nil
}

func isOpRune(r rune) bool {
	return r == '=' || r == '!' || r == '<' || r == '>'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return !p.done() && t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (p *parser) source() string {
	parts := make([]string, len(p.toks))
	for i, t := range p.toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (node, error) {
	if p.done() {
		return nil, invalidFilter(p.source(), "unexpected end of filter")
	}
	if p.peek().kind == tokLParen {
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, invalidFilter(p.source(), "missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	key := p.peek()
	if key.kind != tokWord || strings.EqualFold(key.text, "and") || strings.EqualFold(key.text, "or") {
		return nil, invalidFilter(p.source(), "expected partition key, got %q", key.text)
	}
	p.pos++

	op := p.peek()
	if p.done() || op.kind != tokOp {
		return nil, invalidFilter(p.source(), "expected operator after %q", key.text)
	}
	p.pos++

	value := p.peek()
	if p.done() || (value.kind != tokWord && value.kind != tokString) {
		return nil, invalidFilter(p.source(), "expected value after %s %s", key.text, op.text)
	}
	p.pos++

	return &compareNode{key: key.text, op: op.text, value: value.text}, nil
}
