package ags

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/mapbook-query/internal/filter"
)

var sqlOps = map[filter.Op]string{
	filter.OpEq: "=",
	filter.OpNe: "<>",
	filter.OpGe: ">=",
	filter.OpGt: ">",
	filter.OpLe: "<=",
	filter.OpLt: "<",
}

// whereClause turns attribute filters into an ArcGIS where expression.
// Top-level filters are joined with "and".
func whereClause(fields []json.RawMessage) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, raw := range fields {
		n, err := filter.Parse(raw)
		if err != nil {
			return "", err
		}
		s, err := toSQL(n)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " and "), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlValue(l filter.Literal) string {
	if l.Numeric() {
		return l.String()
	}
	return quote(l.String())
}

func toSQL(n filter.Node) (string, error) {
	switch v := n.(type) {
	case *filter.Compare:
		prop, ok := v.Left.(filter.Property)
		if !ok {
			return "", fmt.Errorf("filter left side must be a property")
		}
		lit, ok := v.Right.(filter.Literal)
		if !ok {
			return "", fmt.Errorf("filter right side must be a literal")
		}
		switch v.Op {
		case filter.OpLike:
			return fmt.Sprintf("%s like %s", prop, quote(strings.ReplaceAll(lit.String(), "*", "%"))), nil
		case filter.OpILike:
			return fmt.Sprintf("upper(%s) like upper(%s)", prop, quote(strings.ReplaceAll(lit.String(), "*", "%"))), nil
		}
		op, ok := sqlOps[v.Op]
		if !ok {
			return "", fmt.Errorf("comparitor %q has no where equivalent", v.Op)
		}
		return fmt.Sprintf("%s %s %s", prop, op, sqlValue(lit)), nil
	case filter.And:
		return join("and", v)
	case filter.Or:
		return join("or", v)
	case filter.Any:
		return join("or", v)
	case *filter.In:
		prop, ok := v.Target.(filter.Property)
		if !ok {
			return "", fmt.Errorf("in filter must target a property")
		}
		if len(v.Values) == 0 {
			return "", fmt.Errorf("in filter on %q has no values", prop)
		}
		vals := make([]string, len(v.Values))
		for i, val := range v.Values {
			vals[i] = sqlValue(filter.Literal{V: val})
		}
		return fmt.Sprintf("%s in (%s)", prop, strings.Join(vals, ", ")), nil
	}
	return "", fmt.Errorf("filter %T has no where equivalent", n)
}

func join[T ~[]filter.Node](op string, nodes T) (string, error) {
	if len(nodes) == 0 {
		return "", fmt.Errorf("empty %s filter", op)
	}
	parts := make([]string, 0, len(nodes))
	for _, c := range nodes {
		s, err := toSQL(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", nil
}
