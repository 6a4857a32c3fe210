package wfs

import (
	"encoding/json"
	"fmt"

	"github.com/mohammed-shakir/mapbook-query/internal/core/ogc"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
)

var comparisonOps = map[filter.Op]string{
	filter.OpEq: "PropertyIsEqualTo",
	filter.OpNe: "PropertyIsNotEqualTo",
	filter.OpGe: "PropertyIsGreaterThanOrEqualTo",
	filter.OpGt: "PropertyIsGreaterThan",
	filter.OpLe: "PropertyIsLessThanOrEqualTo",
	filter.OpLt: "PropertyIsLessThan",
}

// fieldFilters converts attribute filters into OGC filters.
func fieldFilters(fields []json.RawMessage) ([]ogc.Filter, error) {
	out := make([]ogc.Filter, 0, len(fields))
	for _, raw := range fields {
		n, err := filter.Parse(raw)
		if err != nil {
			return nil, err
		}
		f, err := toOGC(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func toOGC(n filter.Node) (ogc.Filter, error) {
	switch v := n.(type) {
	case *filter.Compare:
		prop, ok := v.Left.(filter.Property)
		if !ok {
			return nil, fmt.Errorf("filter left side must be a property")
		}
		lit, ok := v.Right.(filter.Literal)
		if !ok {
			return nil, fmt.Errorf("filter right side must be a literal")
		}
		switch v.Op {
		case filter.OpLike:
			return ogc.Like{Property: string(prop), Pattern: lit.String(), WildCard: "*", SingleChar: ".", EscapeChar: "!"}, nil
		case filter.OpILike:
			no := false
			return ogc.Like{Property: string(prop), Pattern: lit.String(), WildCard: "%", SingleChar: "_", EscapeChar: `\`, MatchCase: &no}, nil
		}
		op, ok := comparisonOps[v.Op]
		if !ok {
			return nil, fmt.Errorf("comparitor %q has no wfs equivalent", v.Op)
		}
		return ogc.Comparison{Op: op, Property: string(prop), Literal: lit.String()}, nil
	case filter.And:
		return chain("And", v)
	case filter.Or:
		return chain("Or", v)
	case filter.Any:
		return chain("Or", v)
	case *filter.In:
		prop, ok := v.Target.(filter.Property)
		if !ok {
			return nil, fmt.Errorf("in filter must target a property")
		}
		if len(v.Values) == 0 {
			return nil, fmt.Errorf("in filter on %q has no values", prop)
		}
		eqs := make([]ogc.Filter, 0, len(v.Values))
		for _, val := range v.Values {
			eqs = append(eqs, ogc.Comparison{Op: "PropertyIsEqualTo", Property: string(prop), Literal: filter.Literal{V: val}.String()})
		}
		return ogc.Chain("Or", eqs...), nil
	}
	return nil, fmt.Errorf("filter %T has no wfs equivalent", n)
}

func chain[T ~[]filter.Node](op string, nodes T) (ogc.Filter, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("empty %s filter", op)
	}
	fs := make([]ogc.Filter, 0, len(nodes))
	for _, c := range nodes {
		f, err := toOGC(c)
		if err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	return ogc.Chain(op, fs...), nil
}
