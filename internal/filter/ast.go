// Package filter evaluates attribute filter expressions against feature
// properties.
//
// Expressions arrive as JSON (leaf objects or nested operator arrays) and are
// parsed once into a Node tree. Evaluation is total: it never panics and
// malformed input never matches.
package filter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Props is the attribute bag of one feature.
type Props = map[string]any

type Node interface {
	Eval(p Props) bool
	// Properties lists every attribute name the node reads.
	Properties() []string
}

type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGe    Op = "ge"
	OpGt    Op = "gt"
	OpLe    Op = "le"
	OpLt    Op = "lt"
	OpLike  Op = "like"
	OpILike Op = "ilike"
)

// Operand yields a comparable value from a feature.
type Operand interface {
	Value(p Props) any
	property() string
}

type Property string

func (n Property) Value(p Props) any { return normalize(p[string(n)]) }
func (n Property) property() string  { return string(n) }

// Coalesce returns the first non-empty operand value.
type Coalesce []Operand

func (c Coalesce) Value(p Props) any {
	for _, o := range c {
		if v := o.Value(p); v != "" {
			return v
		}
	}
	return ""
}

func (c Coalesce) property() string {
	for _, o := range c {
		if s := o.property(); s != "" {
			return s
		}
	}
	return ""
}

type Literal struct{ V any }

func (l Literal) Value(Props) any  { return normalize(l.V) }
func (l Literal) property() string { return "" }

// String renders the literal the way comparisons see it.
func (l Literal) String() string { return toString(l.Value(nil)) }

// Numeric reports whether the literal was given as a JSON number.
func (l Literal) Numeric() bool {
	_, ok := l.V.(float64)
	return ok
}

// Compare is a leaf comparison.
type Compare struct {
	Op    Op
	Left  Operand
	Right Operand

	re *regexp.Regexp
}

func NewCompare(op Op, left, right Operand) (*Compare, error) {
	c := &Compare{Op: op, Left: left, Right: right}
	switch op {
	case OpEq, OpNe, OpGe, OpGt, OpLe, OpLt:
	case OpLike, OpILike:
		lit, ok := right.(Literal)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a literal pattern", ErrMalformed, op)
		}
		re, err := likePattern(toString(lit.Value(nil)), op == OpILike)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		c.re = re
	default:
		return nil, fmt.Errorf("%w: unknown comparitor %q", ErrMalformed, op)
	}
	return c, nil
}

func (c *Compare) Eval(p Props) bool {
	l := c.Left.Value(p)
	switch c.Op {
	case OpLike, OpILike:
		return c.re.MatchString(toString(l))
	case OpEq:
		return equal(l, c.Right.Value(p))
	case OpNe:
		return !equal(l, c.Right.Value(p))
	}
	a, okA := toFloat(l)
	b, okB := toFloat(c.Right.Value(p))
	if !okA || !okB {
		return false
	}
	switch c.Op {
	case OpGe:
		return a >= b
	case OpGt:
		return a > b
	case OpLe:
		return a <= b
	case OpLt:
		return a < b
	}
	return false
}

func (c *Compare) Properties() []string {
	return collect(c.Left.property(), c.Right.property())
}

type And []Node

func (a And) Eval(p Props) bool {
	for _, n := range a {
		if !n.Eval(p) {
			return false
		}
	}
	return true
}

func (a And) Properties() []string { return childProps(a) }

type Or []Node

func (o Or) Eval(p Props) bool {
	for _, n := range o {
		if n.Eval(p) {
			return true
		}
	}
	return false
}

func (o Or) Properties() []string { return childProps(o) }

// Any matches when any of its equality children match.
type Any []Node

func (a Any) Eval(p Props) bool    { return Or(a).Eval(p) }
func (a Any) Properties() []string { return childProps(a) }

// In tests membership of the operand value in Values.
type In struct {
	Target Operand
	Values []any
}

func (in *In) Eval(p Props) bool {
	v := in.Target.Value(p)
	for _, want := range in.Values {
		if equal(v, normalize(want)) {
			return true
		}
	}
	return false
}

func (in *In) Properties() []string { return collect(in.Target.property()) }

// Never is the parse result of a malformed expression.
type Never struct{}

func (Never) Eval(Props) bool      { return false }
func (Never) Properties() []string { return nil }

func childProps[T ~[]Node](nodes T) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Properties()...)
	}
	return out
}

func collect(names ...string) []string {
	var out []string
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// null and missing values compare as the empty string
func normalize(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// numeric when both sides parse as numbers, string equality otherwise
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return toString(a) == toString(b)
}

// likePattern builds a matcher for like/ilike. Patterns with "*" or "%"
// wildcards are anchored; plain text matches as a substring.
func likePattern(pat string, fold bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if fold {
		b.WriteString("(?i)")
	}
	wild := strings.ContainsAny(pat, "*%")
	if wild {
		b.WriteString("^")
	}
	for _, r := range pat {
		switch r {
		case '*', '%':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if wild {
		b.WriteString("$")
	}
	return regexp.Compile(b.String())
}
