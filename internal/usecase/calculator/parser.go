package calculator

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokName
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	runes := []rune(src)
	var out []token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			out = append(out, token{tokNumber, string(runes[start:i])})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			out = append(out, token{tokName, string(runes[start:i])})
		case r == '\'' || r == '"':
			start := i
			i++
			for i < len(runes) && runes[i] != r {
				i++
			}
			if i >= len(runes) {
				return nil, errSyntax
			}
			i++
			out = append(out, token{tokString, string(runes[start:i])})
		case r == '*' || r == '/':
			if i+1 < len(runes) && runes[i+1] == r {
				out = append(out, token{tokOp, string([]rune{r, r})})
				i += 2
				continue
			}
			out = append(out, token{tokOp, string(r)})
			i++
		case r == '+' || r == '-' || r == '%':
			out = append(out, token{tokOp, string(r)})
			i++
		case r == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case r == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case r == ',':
			out = append(out, token{tokComma, ","})
			i++
		default:
			return nil, errSyntax
		}
	}
	return append(out, token{kind: tokEOF}), nil
}

// parser — рекурсивный спуск с приоритетами:
// expr := term (('+'|'-') term)*
// term := unary (('*'|'/'|'//'|'%') unary)*
// unary := ('+'|'-') unary | power
// power := primary ('**' unary)?
type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, errSyntax
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: op, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*", "/", "//", "%")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: op, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	if op, ok := p.isOp("+", "-"); ok {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryOp{op: op, operand: operand}, nil
	}
	return p.power()
}

func (p *parser) power() (node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("**"); ok {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return binaryOp{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errSyntax
		}
		return number(v), nil
	case tokString:
		return nil, fmt.Errorf("unsupported constant type: str")
	case tokName:
		if p.peek().kind != tokLParen {
			return constant(t.text), nil
		}
		if _, ok := functions[t.text]; !ok {
			return nil, fmt.Errorf("unsupported function: %s", t.text)
		}
		p.next()
		args, err := p.arguments()
		if err != nil {
			return nil, err
		}
		return call{name: t.text, args: args}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, errSyntax
		}
		return inner, nil
	}
	return nil, errSyntax
}

func (p *parser) arguments() ([]node, error) {
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.next().kind {
		case tokComma:
			if p.peek().kind == tokRParen {
				p.next()
				return args, nil
			}
		case tokRParen:
			return args, nil
		default:
			return nil, errSyntax
		}
	}
}
