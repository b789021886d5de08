package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/logging"
	"github.com/hupe1980/polymesh/registry"
)

// NativeOptions configures the native engine.
type NativeOptions struct {
	Logger logging.Logger
}

// Native is a minimal line-oriented evaluator for glue scripts that only
// move values around. It exists so simple plumbing does not need a full
// language runtime.
//
// Statement forms, one per line:
//
//	name = expr        assign into the environment
//	$get name          read an environment value
//	$set name expr     write an environment value
//	$call fn expr...   invoke a registered function
//	expr               evaluate an expression
//
// Expressions cover literals (quoted strings, numbers, true, false, null),
// list literals, environment names, arithmetic and string concatenation,
// registered function calls `fn(args)` and method calls `obj.method(args)`
// against values or remote references. The value of the last statement is
// the script result.
type Native struct {
	logger logging.Logger
}

// NewNative creates the native engine.
func NewNative(optFns ...func(o *NativeOptions)) *Native {
	opts := NativeOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Native{logger: opts.Logger}
}

// Name implements Engine.
func (n *Native) Name() string { return "native" }

// IsExecution implements Engine.
func (n *Native) IsExecution() bool { return true }

// Execute implements Engine.
func (n *Native) Execute(ctx *core.Context, env *core.Environment, source string) (any, error) {
	var result any

	for lineNo, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		v, err := n.statement(env, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		result = v
	}

	ctx.SetLastLanguage(n.Name())
	return MarshalResult(ctx, n.Name(), result), nil
}

func (n *Native) statement(env *core.Environment, line string) (any, error) {
	if strings.HasPrefix(line, "$get ") {
		name := strings.TrimSpace(strings.TrimPrefix(line, "$get "))
		if err := core.CheckIdentifier(name); err != nil {
			return nil, err
		}
		v, ok := env.Get(name)
		if !ok {
			return nil, fmt.Errorf("undefined name %q", name)
		}
		return v, nil
	}

	if strings.HasPrefix(line, "$set ") {
		rest := strings.TrimSpace(strings.TrimPrefix(line, "$set "))
		name, expr, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, fmt.Errorf("$set needs a name and a value")
		}
		if err := core.CheckIdentifier(name); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, strings.TrimSpace(expr))
		if err != nil {
			return nil, err
		}
		env.Set(name, v)
		return v, nil
	}

	if strings.HasPrefix(line, "$call ") {
		fields := strings.Fields(strings.TrimPrefix(line, "$call "))
		if len(fields) == 0 {
			return nil, fmt.Errorf("$call needs a function name")
		}
		args := make([]any, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := evalExpr(env, f)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return env.CallFunction(fields[0], args...)
	}

	if name, expr, ok := splitAssignment(line); ok {
		if err := core.CheckIdentifier(name); err != nil {
			return nil, err
		}
		v, err := evalExpr(env, expr)
		if err != nil {
			return nil, err
		}
		env.Set(name, v)
		return v, nil
	}

	return evalExpr(env, line)
}

// splitAssignment recognizes "name = expr" without mistaking comparison
// operators for assignments.
func splitAssignment(line string) (name, expr string, ok bool) {
	idx := strings.Index(line, "=")
	if idx <= 0 || idx+1 >= len(line) {
		return "", "", false
	}
	if line[idx+1] == '=' {
		return "", "", false
	}
	head := strings.TrimSpace(line[:idx])
	if !core.ValidIdentifier(head) {
		return "", "", false
	}
	return head, strings.TrimSpace(line[idx+1:]), true
}

// expression parsing

type token struct {
	kind string // "num", "str", "ident", "sym"
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, token{kind: "str", text: src[i : j+1]})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: "num", text: src[i:j]})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			toks = append(toks, token{kind: "ident", text: src[i:j]})
			i = j
		case strings.ContainsRune("+-*/()[],.", rune(c)):
			toks = append(toks, token{kind: "sym", text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

type parser struct {
	env  *core.Environment
	toks []token
	pos  int
}

func evalExpr(env *core.Environment, src string) (any, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{env: env, toks: toks}
	v, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("cannot evaluate %q", src)
	}
	return v, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos < len(p.toks) {
		return p.toks[p.pos], true
	}
	return token{}, false
}

func (p *parser) accept(sym string) bool {
	if t, ok := p.peek(); ok && t.kind == "sym" && t.text == sym {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(sym string) error {
	if !p.accept(sym) {
		return fmt.Errorf("expected %q", sym)
	}
	return nil
}

func (p *parser) expr() (any, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("+"):
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			left, err = add(left, right)
			if err != nil {
				return nil, err
			}
		case p.accept("-"):
			right, err := p.term()
			if err != nil {
				return nil, err
			}
			left, err = arith(left, right, func(a, b float64) float64 { return a - b })
			if err != nil {
				return nil, err
			}
		default:
			return left, nil
		}
	}
}

func (p *parser) term() (any, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("*"):
			right, err := p.factor()
			if err != nil {
				return nil, err
			}
			left, err = arith(left, right, func(a, b float64) float64 { return a * b })
			if err != nil {
				return nil, err
			}
		case p.accept("/"):
			right, err := p.factor()
			if err != nil {
				return nil, err
			}
			left, err = divide(left, right)
			if err != nil {
				return nil, err
			}
		default:
			return left, nil
		}
	}
}

func (p *parser) factor() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case "num":
		p.pos++
		if strings.Contains(t.text, ".") {
			return strconv.ParseFloat(t.text, 64)
		}
		return strconv.ParseInt(t.text, 10, 64)

	case "str":
		p.pos++
		return strconv.Unquote(t.text)

	case "ident":
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		// fn(args)
		if p.accept("(") {
			args, err := p.argList()
			if err != nil {
				return nil, err
			}
			return p.env.CallFunction(t.text, args...)
		}
		// obj.method(args)
		if p.accept(".") {
			m, ok := p.peek()
			if !ok || m.kind != "ident" {
				return nil, fmt.Errorf("expected method name after %q", t.text)
			}
			p.pos++
			if err := p.expect("("); err != nil {
				return nil, err
			}
			args, err := p.argList()
			if err != nil {
				return nil, err
			}
			return p.methodCall(t.text, m.text, args)
		}
		v, ok := p.env.Get(t.text)
		if !ok {
			return nil, fmt.Errorf("undefined name %q", t.text)
		}
		return v, nil

	case "sym":
		switch t.text {
		case "(":
			p.pos++
			v, err := p.expr()
			if err != nil {
				return nil, err
			}
			return v, p.expect(")")
		case "[":
			p.pos++
			items, err := p.listItems()
			if err != nil {
				return nil, err
			}
			return items, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// argList parses the arguments after an already consumed "(".
func (p *parser) argList() ([]any, error) {
	var args []any
	if p.accept(")") {
		return args, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.accept(",") {
			continue
		}
		return args, p.expect(")")
	}
}

// listItems parses the elements after an already consumed "[".
func (p *parser) listItems() ([]any, error) {
	items := []any{}
	if p.accept("]") {
		return items, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.accept(",") {
			continue
		}
		return items, p.expect("]")
	}
}

func (p *parser) methodCall(name, method string, args []any) (any, error) {
	obj, ok := p.env.Get(name)
	if !ok {
		return nil, fmt.Errorf("undefined name %q", name)
	}
	if ref, isRef := obj.(*registry.RemoteRef); isRef {
		return ref.Call(method, args...)
	}
	return registry.Invoke(obj, method, args)
}

func add(a, b any) (any, error) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as + bs, nil
		}
		return as + fmt.Sprintf("%v", b), nil
	}
	return arith(a, b, func(x, y float64) float64 { return x + y })
}

func divide(a, b any) (any, error) {
	bf, ok := toFloat(b)
	if ok && bf == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return arith(a, b, func(x, y float64) float64 { return x / y })
}

// arith applies a float operation, returning int64 when both operands are
// integers and the result is whole.
func arith(a, b any, op func(x, y float64) float64) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot apply arithmetic to %T and %T", a, b)
	}
	r := op(af, bf)
	if isInt(a) && isInt(b) && r == float64(int64(r)) {
		return int64(r), nil
	}
	return r, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}
