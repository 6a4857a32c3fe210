package mapsource

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

func checkTransform(t model.Transform) error {
	if t.Attribute == "" {
		return fmt.Errorf("transform %q needs an attribute", t.Op)
	}
	switch strings.ToLower(t.Op) {
	case "upper", "lower", "trim", "prefix", "suffix", "default":
	case "rename":
		if t.Arg == "" {
			return fmt.Errorf("rename of %s needs a target name", t.Attribute)
		}
	case "round":
		if _, err := strconv.Atoi(t.Arg); t.Arg != "" && err != nil {
			return fmt.Errorf("round of %s: decimals %q: %w", t.Attribute, t.Arg, err)
		}
	default:
		return fmt.Errorf("unknown transform op %q", t.Op)
	}
	return nil
}

// ApplyTransforms rewrites feature properties in place, in rule order.
// Features are expected to be freshly fetched and unshared.
func ApplyTransforms(rules []model.Transform, feats []*geojson.Feature) {
	if len(rules) == 0 {
		return
	}
	for _, f := range feats {
		if f == nil {
			continue
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		for _, t := range rules {
			apply(t, f.Properties)
		}
	}
}

func apply(t model.Transform, p geojson.Properties) {
	v, ok := p[t.Attribute]
	switch strings.ToLower(t.Op) {
	case "upper":
		if s, isStr := v.(string); isStr {
			p[t.Attribute] = strings.ToUpper(s)
		}
	case "lower":
		if s, isStr := v.(string); isStr {
			p[t.Attribute] = strings.ToLower(s)
		}
	case "trim":
		if s, isStr := v.(string); isStr {
			p[t.Attribute] = strings.TrimSpace(s)
		}
	case "prefix":
		if ok && v != nil {
			p[t.Attribute] = t.Arg + fmt.Sprint(v)
		}
	case "suffix":
		if ok && v != nil {
			p[t.Attribute] = fmt.Sprint(v) + t.Arg
		}
	case "rename":
		if ok {
			delete(p, t.Attribute)
			p[t.Arg] = v
		}
	case "round":
		if f, isNum := number(v); isNum {
			d, _ := strconv.Atoi(t.Arg)
			pow := math.Pow(10, float64(d))
			p[t.Attribute] = math.Round(f*pow) / pow
		}
	case "default":
		if !ok || v == nil || v == "" {
			p[t.Attribute] = t.Arg
		}
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
