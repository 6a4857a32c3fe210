package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed filter")

const maxDepth = 32

// Parse builds a Node from a JSON filter. Accepted forms:
//
//	{"name": "OWNER", "value": "x", "comparitor": "eq"}
//	["and" | "or", expr...]
//	["any", ["==", ["coalesce", ["get", "p"], ""], "v"], ...]
//	["in", "p" | ["get", "p"], value...]
//	["==" | "!=" | ">=" | ">" | "<=" | "<", operand, operand]
//	["like" | "ilike", operand, "pattern"]
//
// A bare string operand names a property when it is the left-hand side.
func Parse(raw json.RawMessage) (Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return parseValue(v, 0)
}

// Compile is Parse that fails closed.
func Compile(raw json.RawMessage) Node {
	n, err := Parse(raw)
	if err != nil {
		return Never{}
	}
	return n
}

// Match evaluates a single raw filter against props.
func Match(raw json.RawMessage, props Props) bool {
	return Compile(raw).Eval(props)
}

// All compiles a filter list into one conjunction. An empty list matches
// everything; a malformed member matches nothing.
func All(raws []json.RawMessage) Node {
	out := make(And, 0, len(raws))
	for _, r := range raws {
		out = append(out, Compile(r))
	}
	return out
}

// Canonical re-encodes raw with sorted object keys so equal filters compare
// equal byte-wise.
func Canonical(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// References reports whether raw reads the given property.
func References(raw json.RawMessage, property string) bool {
	n, err := Parse(raw)
	if err != nil {
		return false
	}
	for _, p := range n.Properties() {
		if p == property {
			return true
		}
	}
	return false
}

func parseValue(v any, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d", ErrMalformed, maxDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		return parseLeaf(t)
	case []any:
		return parseTree(t, depth)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, v)
	}
}

func parseLeaf(m map[string]any) (Node, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: leaf without name", ErrMalformed)
	}
	comp, _ := m["comparitor"].(string)
	if comp == "" {
		comp, _ = m["comparator"].(string)
	}
	if comp == "" {
		comp = string(OpEq)
	}
	op, ok := leafOps[strings.ToLower(comp)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown comparitor %q", ErrMalformed, comp)
	}
	return NewCompare(op, Property(name), Literal{V: m["value"]})
}

var leafOps = map[string]Op{
	"eq": OpEq, "ne": OpNe, "ge": OpGe, "gt": OpGt, "le": OpLe, "lt": OpLt,
	"like": OpLike, "ilike": OpILike,
}

var treeOps = map[string]Op{
	"==": OpEq, "!=": OpNe, ">=": OpGe, ">": OpGt, "<=": OpLe, "<": OpLt,
	"like": OpLike, "ilike": OpILike,
}

func parseTree(arr []any, depth int) (Node, error) {
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrMalformed)
	}
	head, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: operator must be a string", ErrMalformed)
	}
	args := arr[1:]
	head = strings.ToLower(head)

	switch head {
	case "and", "all", "or", "any":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: %s without operands", ErrMalformed, head)
		}
		kids := make([]Node, 0, len(args))
		for _, a := range args {
			n, err := parseValue(a, depth+1)
			if err != nil {
				return nil, err
			}
			kids = append(kids, n)
		}
		switch head {
		case "and", "all":
			return And(kids), nil
		case "or":
			return Or(kids), nil
		default:
			return Any(kids), nil
		}
	case "in":
		if len(args) < 1 {
			return nil, fmt.Errorf("%w: in without target", ErrMalformed)
		}
		target, err := parseOperand(args[0], true, depth+1)
		if err != nil {
			return nil, err
		}
		values := args[1:]
		// ["in", target, ["literal", [a, b]]]
		if len(values) == 1 {
			if lit, ok := values[0].([]any); ok && len(lit) == 2 && lit[0] == "literal" {
				if list, ok := lit[1].([]any); ok {
					values = list
				}
			}
		}
		return &In{Target: target, Values: values}, nil
	}

	op, ok := treeOps[head]
	if !ok {
		op, ok = leafOps[head]
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformed, head)
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: %s takes two operands, got %d", ErrMalformed, head, len(args))
	}
	left, err := parseOperand(args[0], true, depth+1)
	if err != nil {
		return nil, err
	}
	right, err := parseOperand(args[1], false, depth+1)
	if err != nil {
		return nil, err
	}
	return NewCompare(op, left, right)
}

// parseOperand reads a value position. A bare string on the left is a
// property name (legacy form); elsewhere it is a literal.
func parseOperand(v any, left bool, depth int) (Operand, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d", ErrMalformed, maxDepth)
	}
	switch t := v.(type) {
	case string:
		if left {
			return Property(t), nil
		}
		return Literal{V: t}, nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: empty operand", ErrMalformed)
		}
		head, _ := t[0].(string)
		switch strings.ToLower(head) {
		case "get":
			if len(t) != 2 {
				return nil, fmt.Errorf("%w: get takes one property", ErrMalformed)
			}
			name, ok := t[1].(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("%w: get needs a property name", ErrMalformed)
			}
			return Property(name), nil
		case "coalesce":
			out := make(Coalesce, 0, len(t)-1)
			for _, a := range t[1:] {
				o, err := parseOperand(a, false, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, o)
			}
			if len(out) == 0 {
				return nil, fmt.Errorf("%w: empty coalesce", ErrMalformed)
			}
			return out, nil
		case "literal":
			if len(t) != 2 {
				return nil, fmt.Errorf("%w: literal takes one value", ErrMalformed)
			}
			return Literal{V: t[1]}, nil
		}
		return nil, fmt.Errorf("%w: unknown operand expression %q", ErrMalformed, head)
	case map[string]any:
		return nil, fmt.Errorf("%w: object is not an operand", ErrMalformed)
	default:
		return Literal{V: t}, nil
	}
}
