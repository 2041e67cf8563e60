// Package calculator вычисляет арифметические выражения по белому списку.
// Выражение разбирается в дерево; всё, что не входит в список операторов,
// функций и констант, отклоняется.
package calculator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxExpressionLength ограничивает длину выражения в символах.
const MaxExpressionLength = 200

var errSyntax = errors.New("invalid syntax")

type function struct {
	minArgs, maxArgs int
	call             func(args []float64) (float64, error)
}

var functions = map[string]function{
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"sqrt":  {1, 1, func(a []float64) (float64, error) { return domainCheck(a[0] >= 0, math.Sqrt(a[0])) }},
	"log":   {1, 2, logFn},
	"abs":   unary(math.Abs),
	"round": {1, 2, roundFn},
	"ceil":  unary(math.Ceil),
	"floor": unary(math.Floor),
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

func unary(fn func(float64) float64) function {
	return function{1, 1, func(a []float64) (float64, error) { return fn(a[0]), nil }}
}

func domainCheck(ok bool, v float64) (float64, error) {
	if !ok {
		return 0, errors.New("math domain error")
	}
	return v, nil
}

func logFn(a []float64) (float64, error) {
	if a[0] <= 0 {
		return 0, errors.New("math domain error")
	}
	if len(a) == 1 {
		return math.Log(a[0]), nil
	}
	if a[1] <= 0 || a[1] == 1 {
		return 0, errors.New("math domain error")
	}
	return math.Log(a[0]) / math.Log(a[1]), nil
}

func roundFn(a []float64) (float64, error) {
	if len(a) == 1 {
		return math.RoundToEven(a[0]), nil
	}
	p := math.Pow(10, math.Trunc(a[1]))
	return math.RoundToEven(a[0]*p) / p, nil
}

// Calculate вычисляет выражение и возвращает результат строкой.
// Ошибки возвращаются текстом с префиксом "Error:", паники не бывает.
func Calculate(expression string) string {
	expression = strings.TrimSpace(expression)
	if utf8.RuneCountInString(expression) > MaxExpressionLength {
		return fmt.Sprintf("Error: Expression too long (max %d chars)", MaxExpressionLength)
	}
	tree, err := parse(expression)
	if err != nil {
		if errors.Is(err, errSyntax) {
			return "Error: Invalid syntax"
		}
		return "Error: " + err.Error()
	}
	value, err := tree.eval()
	if err != nil {
		return "Error: " + err.Error()
	}
	return Format(value)
}

// Format печатает целые значения без дробной части,
// остальные с точностью 6 знаков без хвостовых нулей.
func Format(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case v == 0:
		return "0"
	case v == math.Trunc(v):
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

type node interface {
	eval() (float64, error)
}

type number float64

func (n number) eval() (float64, error) { return float64(n), nil }

type constant string

func (c constant) eval() (float64, error) {
	if v, ok := constants[string(c)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown variable or constant: %s", string(c))
}

type unaryOp struct {
	op      string
	operand node
}

func (u unaryOp) eval() (float64, error) {
	v, err := u.operand.eval()
	if err != nil {
		return 0, err
	}
	if u.op == "-" {
		return -v, nil
	}
	return v, nil
}

type binaryOp struct {
	op          string
	left, right node
}

func (b binaryOp) eval() (float64, error) {
	l, err := b.left.eval()
	if err != nil {
		return 0, err
	}
	r, err := b.right.eval()
	if err != nil {
		return 0, err
	}
	switch b.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/", "//", "%":
		if r == 0 {
			return divByZero(l), nil
		}
		switch b.op {
		case "/":
			return l / r, nil
		case "//":
			return math.Floor(l / r), nil
		default:
			m := math.Mod(l, r)
			if m != 0 && (m < 0) != (r < 0) {
				m += r
			}
			return m, nil
		}
	case "**":
		if l == 0 && r < 0 {
			return divByZero(1), nil
		}
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("unsupported operator: %s", b.op)
}

// divByZero возвращает бесконечность со знаком числителя.
func divByZero(numerator float64) float64 {
	if math.Signbit(numerator) {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

type call struct {
	name string
	args []node
}

func (c call) eval() (float64, error) {
	fn, ok := functions[c.name]
	if !ok {
		return 0, fmt.Errorf("unsupported function: %s", c.name)
	}
	if len(c.args) < fn.minArgs || len(c.args) > fn.maxArgs {
		return 0, fmt.Errorf("%s() takes %d argument(s), got %d", c.name, fn.maxArgs, len(c.args))
	}
	values := make([]float64, len(c.args))
	for i, a := range c.args {
		v, err := a.eval()
		if err != nil {
			return 0, err
		}
		values[i] = v
	}
	return fn.call(values)
}
