package expr

import (
	"fmt"
	"strconv"
)

// evalFn is a compiled expression fragment.
type evalFn func(Resolver) (any, error)

// wordOps are the operator spellings usable inside XML attributes.
var wordOps = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

type parser struct {
	src  string
	toks []token
	pos  int
	refs map[string]bool
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// op returns the operator spelled by t, translating word operators.
func op(t token) string {
	switch t.kind {
	case tokOp:
		return t.text
	case tokIdent:
		return wordOps[t.text]
	}
	return ""
}

func (p *parser) accept(ops ...string) (string, bool) {
	o := op(p.peek())
	for _, want := range ops {
		if o == want {
			p.next()
			return o, true
		}
	}
	return "", false
}

func (p *parser) expect(o string) error {
	if _, ok := p.accept(o); !ok {
		return p.errorf("expected %q, found %s", o, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Expr: p.src, Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseExpr() (evalFn, error) {
	return p.parseTernary()
}

func (p *parser) parseTernary() (evalFn, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if _, ok := p.accept("?"); !ok {
		return cond, nil
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return func(r Resolver) (any, error) {
		c, err := cond(r)
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return then(r)
		}
		return els(r)
	}, nil
}

// precedence levels, loosest first.
var levels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!=", "===", "!=="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) parseBinary(level int) (evalFn, error) {
	if level == len(levels) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		o, ok := p.accept(levels[level]...)
		if !ok {
			return left, nil
		}
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = binary(o, left, right)
	}
}

func binary(o string, left, right evalFn) evalFn {
	switch o {
	case "&&":
		return func(r Resolver) (any, error) {
			l, err := left(r)
			if err != nil || !Truthy(l) {
				return l, err
			}
			return right(r)
		}
	case "||":
		return func(r Resolver) (any, error) {
			l, err := left(r)
			if err != nil || Truthy(l) {
				return l, err
			}
			return right(r)
		}
	}
	return func(r Resolver) (any, error) {
		l, err := left(r)
		if err != nil {
			return nil, err
		}
		rv, err := right(r)
		if err != nil {
			return nil, err
		}
		return apply(o, l, rv)
	}
}

func (p *parser) parseUnary() (evalFn, error) {
	if o, ok := p.accept("!", "-", "+"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return func(r Resolver) (any, error) {
			v, err := operand(r)
			if err != nil {
				return nil, err
			}
			switch o {
			case "!":
				return !Truthy(v), nil
			case "-":
				return negate(v)
			default:
				n, ok := toNumber(v)
				if !ok {
					return nil, fmt.Errorf("cannot convert %T to number", v)
				}
				return n, nil
			}
		}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (evalFn, error) {
	target, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch op(p.peek()) {
		case ".":
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, p.errorf("expected property name after '.'")
			}
			target = memberOf(target, name.text)
		case "[":
			p.next()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			target = indexOf(target, index)
		default:
			return target, nil
		}
	}
}

func memberOf(target evalFn, name string) evalFn {
	return func(r Resolver) (any, error) {
		v, err := target(r)
		if err != nil {
			return nil, err
		}
		return Member(v, name)
	}
}

func indexOf(target, index evalFn) evalFn {
	return func(r Resolver) (any, error) {
		v, err := target(r)
		if err != nil {
			return nil, err
		}
		i, err := index(r)
		if err != nil {
			return nil, err
		}
		return Index(v, i)
	}
}

func (p *parser) parsePrimary() (evalFn, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if n, err := strconv.Atoi(t.text); err == nil {
			return constant(n), nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &ParseError{Expr: p.src, Pos: t.pos, Msg: "bad number " + strconv.Quote(t.text)}
		}
		return constant(f), nil

	case tokString:
		return constant(t.text), nil

	case tokIdent:
		switch t.text {
		case "true":
			return constant(true), nil
		case "false":
			return constant(false), nil
		case "null", "undefined":
			return constant(nil), nil
		}
		if _, isWord := wordOps[t.text]; isWord {
			return nil, &ParseError{Expr: p.src, Pos: t.pos, Msg: "unexpected operator " + strconv.Quote(t.text)}
		}
		name := t.text
		p.refs[name] = true
		return func(r Resolver) (any, error) {
			v, _ := r.Lookup(name)
			return v, nil
		}, nil

	case tokOp:
		switch t.text {
		case "(":
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return p.parseList()
		}
	}
	return nil, &ParseError{Expr: p.src, Pos: t.pos, Msg: "unexpected " + t.String()}
}

func (p *parser) parseList() (evalFn, error) {
	var items []evalFn
	if _, ok := p.accept("]"); !ok {
		for {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if _, ok := p.accept(","); ok {
				continue
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			break
		}
	}
	return func(r Resolver) (any, error) {
		out := make([]any, len(items))
		for i, item := range items {
			v, err := item(r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}, nil
}

func constant(v any) evalFn {
	return func(Resolver) (any, error) { return v, nil }
}
