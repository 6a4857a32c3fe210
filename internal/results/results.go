// Package results derives the flat, filtered and highlight views of a
// settled result set. Every function is pure; inputs are never modified.
package results

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
)

// HotClass marks features matching the hot filter in the highlight view.
const HotClass = "hot"

// LayerLookup resolves a layer path to its definition. nil means unknown.
type LayerLookup func(path string) *model.Layer

// Flatten concatenates the features of every non-failed layer in layer
// order.
func Flatten(rs model.ResultSet) []*geojson.Feature {
	out := []*geojson.Feature{}
	for _, path := range order(rs) {
		r, ok := rs.ByLayer[path]
		if !ok || r.Failed {
			continue
		}
		out = append(out, r.Features...)
	}
	return out
}

// ApplyFilter keeps the features that pass every filter. An empty list
// keeps everything; a malformed filter keeps nothing.
func ApplyFilter(feats []*geojson.Feature, filters []json.RawMessage) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(feats))
	if len(filters) == 0 {
		return append(out, feats...)
	}
	n := filter.All(filters)
	for _, f := range feats {
		if f != nil && n.Eval(f.Properties) {
			out = append(out, f)
		}
	}
	return out
}

// Filtered is Flatten followed by ApplyFilter.
func Filtered(rs model.ResultSet, filters []json.RawMessage) []*geojson.Feature {
	return ApplyFilter(Flatten(rs), filters)
}

// Highlight is the filtered view restricted to layers that take part in
// highlighting for service. Features matching hot are returned as copies
// carrying displayClass "hot".
func Highlight(rs model.ResultSet, service string, layerOf LayerLookup, filters []json.RawMessage, hot json.RawMessage) []*geojson.Feature {
	var hotNode filter.Node
	if len(hot) > 0 {
		hotNode = filter.Compile(hot)
	}
	out := []*geojson.Feature{}
	for _, path := range order(rs) {
		r, ok := rs.ByLayer[path]
		if !ok || r.Failed {
			continue
		}
		if layerOf != nil {
			if l := layerOf(path); l != nil && !l.Highlights(service) {
				continue
			}
		}
		for _, f := range ApplyFilter(r.Features, filters) {
			if hotNode != nil && hotNode.Eval(f.Properties) {
				f = markHot(f)
			}
			out = append(out, f)
		}
	}
	return out
}

func markHot(f *geojson.Feature) *geojson.Feature {
	c := geojson.NewFeature(f.Geometry)
	c.ID = f.ID
	for k, v := range f.Properties {
		c.Properties[k] = v
	}
	c.Properties["displayClass"] = HotClass
	return c
}

// Counts returns the total features and the number of layers with a
// non-failed entry.
func Counts(rs model.ResultSet) (features, layers int) {
	for _, r := range rs.ByLayer {
		if r.Failed {
			continue
		}
		layers++
		features += len(r.Features)
	}
	return features, layers
}

// AsSelection turns the flattened results into selection features for a
// follow-up query. Only geometries carry over.
func AsSelection(rs model.ResultSet) []*geojson.Feature {
	flat := Flatten(rs)
	out := make([]*geojson.Feature, 0, len(flat))
	for _, f := range flat {
		if f == nil || f.Geometry == nil {
			continue
		}
		out = append(out, geojson.NewFeature(f.Geometry))
	}
	return out
}

// Layer paths in query order, then any extra entries sorted.
func order(rs model.ResultSet) []string {
	out := dedupe(rs.Layers)
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p] = true
	}
	var extra []string
	for p := range rs.ByLayer {
		if !seen[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
