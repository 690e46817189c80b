package realm

import (
	"bytes"
	"container/list"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dop251/goja"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultQueryCacheSize bounds the number of compiled predicates kept.
const DefaultQueryCacheSize = 256

var programs = newProgramCache(DefaultQueryCacheSize)

// query is a compiled filter predicate together with its bound arguments.
type query struct {
	source  string
	program *vm.Program
	args    []any
}

// queryEnv is what a compiled predicate sees. Every key path becomes a call
// to field and every comparison a call to compare, so expr only supplies the
// boolean structure.
type queryEnv struct {
	Field   func(path string) any                       `expr:"field"`
	Compare func(a any, op string, b any, ci bool) bool `expr:"compare"`
	Args    []any                                       `expr:"args"`
}

func (q *query) match(e *Env, rec *record) bool {
	out, err := expr.Run(q.program, queryEnv{
		Field:   func(path string) any { return resolvePath(rec, path) },
		Compare: compareOp,
		Args:    q.args,
	})
	if err != nil {
		e.logger.Warn("query evaluation failed", "query", q.source, "error", err)
		return false
	}
	b, _ := out.(bool)
	return b
}

// compileQuery parses a predicate such as `age > $0 AND name BEGINSWITH[c] "a"`.
func compileQuery(src string, args []any) (*query, error) {
	p := &queryParser{src: src}
	if err := p.tokenize(); err != nil {
		return nil, err
	}
	code, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.maxArg >= len(args) {
		return nil, fmt.Errorf("Request for argument at index %d but only %d arguments are provided", p.maxArg, len(args))
	}
	program, ok := programs.Get(code)
	if !ok {
		program, err = expr.Compile(code, expr.Env(queryEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("Invalid predicate: '%s': %w", src, err)
		}
		programs.Put(code, program)
	}
	return &query{source: src, program: program, args: args}, nil
}

// queryValue converts a query argument into the stored representation.
func queryValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case *Object:
		return x.rec
	case goja.ArrayBuffer:
		return x.Bytes()
	case time.Time:
		return x
	case map[string]any:
		if s, ok := x["$oid"].(string); ok {
			if id, err := ParseObjectID(s); err == nil {
				return id
			}
		}
		if s, ok := x["$numberDecimal"].(string); ok {
			if d, err := ParseDecimal128(s); err == nil {
				return d
			}
		}
		return x
	default:
		return x
	}
}

func splitPath(path string) []string { return strings.Split(path, ".") }

type valueKind int

const (
	kindNone valueKind = iota
	kindBool
	kindNumber
	kindString
	kindDate
	kindObjectID
	kindData
	kindLink
)

func kindOf(v any) valueKind {
	switch v.(type) {
	case bool:
		return kindBool
	case int64, float64, Decimal128:
		return kindNumber
	case string:
		return kindString
	case time.Time:
		return kindDate
	case ObjectID:
		return kindObjectID
	case []byte:
		return kindData
	case *record:
		return kindLink
	}
	return kindNone
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

// compareOp evaluates one comparison. Operands of different kinds are never
// equal and never ordered.
func compareOp(a any, op string, b any, ci bool) bool {
	a, b = normalize(a), normalize(b)
	if ci {
		if s, ok := a.(string); ok {
			a = strings.ToLower(s)
		}
		if s, ok := b.(string); ok {
			b = strings.ToLower(s)
		}
	}
	if a == nil || b == nil {
		switch op {
		case "==":
			return a == nil && b == nil
		case "!=":
			return !(a == nil && b == nil)
		}
		return false
	}
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb || ka == kindNone {
		return op == "!="
	}
	switch op {
	case "BEGINSWITH", "ENDSWITH", "CONTAINS":
		var x, y []byte
		switch ka {
		case kindString:
			x, y = []byte(a.(string)), []byte(b.(string))
		case kindData:
			x, y = a.([]byte), b.([]byte)
		default:
			return false
		}
		switch op {
		case "BEGINSWITH":
			return bytes.HasPrefix(x, y)
		case "ENDSWITH":
			return bytes.HasSuffix(x, y)
		}
		return bytes.Contains(x, y)
	}
	var c int
	switch ka {
	case kindLink:
		if a.(*record) != b.(*record) {
			c = 1
		}
	case kindData:
		c = bytes.Compare(a.([]byte), b.([]byte))
	default:
		c = compareValues(a, b)
	}
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	}
	if ka == kindLink || ka == kindBool {
		return false
	}
	switch op {
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

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokArg
	tokOp
	tokLParen
	tokRParen
	tokCaseFlag
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type queryParser struct {
	src    string
	toks   []token
	i      int
	maxArg int
}

func (p *queryParser) errorf(format string, args ...any) error {
	return fmt.Errorf("Invalid predicate: '%s': %s", p.src, fmt.Sprintf(format, args...))
}

func (p *queryParser) tokenize() error {
	p.maxArg = -1
	s := p.src
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			p.toks = append(p.toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			p.toks = append(p.toks, token{tokRParen, ")", i})
			i++
		case c == '[':
			if !strings.HasPrefix(strings.ToLower(s[i:]), "[c]") {
				return p.errorf("unexpected '[' at %d", i)
			}
			p.toks = append(p.toks, token{tokCaseFlag, "[c]", i})
			i += 3
		case c == '"' || c == '\'':
			j := i + 1
			var sb strings.Builder
			for ; j < len(s) && rune(s[j]) != c; j++ {
				if s[j] == '\\' && j+1 < len(s) {
					j++
				}
				sb.WriteByte(s[j])
			}
			if j >= len(s) {
				return p.errorf("unterminated string at %d", i)
			}
			p.toks = append(p.toks, token{tokString, sb.String(), i})
			i = j + 1
		case c == '$':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == i+1 {
				return p.errorf("expected an argument index at %d", i)
			}
			n, _ := strconv.Atoi(s[i+1 : j])
			p.maxArg = max(p.maxArg, n)
			p.toks = append(p.toks, token{tokArg, s[i+1 : j], i})
			i = j
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.' || s[j] == 'e' || s[j] == 'E' ||
				(s[j] == '-' || s[j] == '+') && (s[j-1] == 'e' || s[j-1] == 'E')) {
				j++
			}
			if _, err := strconv.ParseFloat(s[i:j], 64); err != nil {
				return p.errorf("invalid number '%s'", s[i:j])
			}
			p.toks = append(p.toks, token{tokNumber, s[i:j], i})
			i = j
		case c == '_' || c == '@' || unicode.IsLetter(c):
			j := i + 1
			for j < len(s) && (s[j] == '_' || s[j] == '.' || s[j] == '@' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			p.toks = append(p.toks, token{tokIdent, s[i:j], i})
			i = j
		default:
			j := i
			for j < len(s) && strings.ContainsRune("=!<>&|", rune(s[j])) {
				j++
			}
			if j == i {
				return p.errorf("unexpected character '%c' at %d", c, i)
			}
			p.toks = append(p.toks, token{tokOp, s[i:j], i})
			i = j
		}
	}
	p.toks = append(p.toks, token{kind: tokEOF, pos: len(s)})
	return nil
}

func (p *queryParser) peek() token { return p.toks[p.i] }

func (p *queryParser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *queryParser) keyword(t token, words ...string) bool {
	if t.kind != tokIdent && t.kind != tokOp {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *queryParser) parse() (string, error) {
	if p.peek().kind == tokEOF {
		return "", p.errorf("empty predicate")
	}
	code, err := p.or()
	if err != nil {
		return "", err
	}
	if t := p.peek(); t.kind != tokEOF {
		return "", p.errorf("unexpected '%s' at %d", t.text, t.pos)
	}
	return code, nil
}

func (p *queryParser) or() (string, error) {
	left, err := p.and()
	if err != nil {
		return "", err
	}
	for p.keyword(p.peek(), "||", "OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return "", err
		}
		left = "(" + left + " || " + right + ")"
	}
	return left, nil
}

func (p *queryParser) and() (string, error) {
	left, err := p.not()
	if err != nil {
		return "", err
	}
	for p.keyword(p.peek(), "&&", "AND") {
		p.next()
		right, err := p.not()
		if err != nil {
			return "", err
		}
		left = "(" + left + " && " + right + ")"
	}
	return left, nil
}

func (p *queryParser) not() (string, error) {
	if p.keyword(p.peek(), "!", "NOT") {
		p.next()
		inner, err := p.not()
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	}
	return p.atom()
}

func (p *queryParser) atom() (string, error) {
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		inner, err := p.or()
		if err != nil {
			return "", err
		}
		if p.next().kind != tokRParen {
			return "", p.errorf("expected ')'")
		}
		return inner, nil
	case p.keyword(t, "TRUEPREDICATE"):
		p.next()
		return "true", nil
	case p.keyword(t, "FALSEPREDICATE"):
		p.next()
		return "false", nil
	}
	left, err := p.operand()
	if err != nil {
		return "", err
	}
	op, err := p.operator()
	if err != nil {
		return "", err
	}
	ci := false
	if p.peek().kind == tokCaseFlag {
		p.next()
		ci = true
	}
	right, err := p.operand()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("compare(%s, %q, %s, %t)", left, op, right, ci), nil
}

func (p *queryParser) operator() (string, error) {
	t := p.next()
	switch {
	case t.kind == tokOp:
		switch t.text {
		case "==", "=":
			return "==", nil
		case "!=", "<>":
			return "!=", nil
		case "<", "<=", ">", ">=":
			return t.text, nil
		case "=<":
			return "<=", nil
		case "=>":
			return ">=", nil
		}
	case p.keyword(t, "BEGINSWITH", "ENDSWITH", "CONTAINS"):
		return strings.ToUpper(t.text), nil
	}
	return "", p.errorf("expected an operator at %d, got '%s'", t.pos, t.text)
}

func (p *queryParser) operand() (string, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return strconv.Quote(t.text), nil
	case tokNumber:
		return t.text, nil
	case tokArg:
		return "args[" + t.text + "]", nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true", "false":
			return strings.ToLower(t.text), nil
		case "null", "nil":
			return "nil", nil
		}
		return fmt.Sprintf("field(%q)", t.text), nil
	}
	return "", p.errorf("expected a value at %d", t.pos)
}

// programCache is a bounded LRU cache of compiled predicates keyed by their
// translated source.
type programCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

func newProgramCache(maxSize int) *programCache {
	if maxSize < 1 {
		maxSize = DefaultQueryCacheSize
	}
	return &programCache{
		entries: make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns a cached program and marks it most recently used.
func (c *programCache) Get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).program, true
}

// Put adds or replaces a program, evicting the least recently used entry
// when full.
func (c *programCache) Put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).program = program
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, program: program})
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.entries, back.Value.(*cacheEntry).key)
		c.lru.Remove(back)
	}
}

// Len returns the number of cached programs.
func (c *programCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns hit and miss counts.
func (c *programCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
