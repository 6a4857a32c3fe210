// Package vector answers queries against features held in memory by the
// map source registry. No network call is made.
package vector

import (
	"context"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
)

type Adapter struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: backend.OrDiscard(logger)}
}

// Query keeps the features that intersect any selection geometry and pass
// the attribute filters and the layer's own filter. With no selection every
// feature is a spatial match.
func (a *Adapter) Query(ctx context.Context, req backend.Request) backend.Result {
	var sel []*geojson.Feature
	var fields filter.Node = filter.And{}
	if req.Query != nil {
		for _, f := range req.Query.Selection {
			if f != nil && f.Geometry != nil {
				sel = append(sel, f)
			}
		}
		fields = filter.All(req.Query.Fields)
	}
	var layerFilter filter.Node = filter.And{}
	if req.LayerDef != nil && len(req.LayerDef.Filter) > 0 {
		layerFilter = filter.Compile(req.LayerDef.Filter)
	}

	out := []*geojson.Feature{}
	for _, f := range req.Source.Features {
		if f == nil {
			continue
		}
		if len(sel) > 0 && !hits(sel, f) {
			continue
		}
		if !fields.Eval(f.Properties) || !layerFilter.Eval(f.Properties) {
			continue
		}
		out = append(out, clone(f))
	}
	a.logger.DebugContext(ctx, "vector layer settled", "layer", req.Layer,
		"candidates", len(req.Source.Features), "features", len(out))
	backend.Decorate(req.Source, out, false)
	return backend.Success(req.Layer, out)
}

func hits(sel []*geojson.Feature, f *geojson.Feature) bool {
	if f.Geometry == nil {
		return false
	}
	for _, s := range sel {
		if geo.Intersects(s.Geometry, f.Geometry) {
			return true
		}
	}
	return false
}

// clone copies the property bag so transforms never touch the stored
// feature. Geometries are shared and treated as immutable.
func clone(f *geojson.Feature) *geojson.Feature {
	c := *f
	c.Properties = make(geojson.Properties, len(f.Properties))
	for k, v := range f.Properties {
		c.Properties[k] = v
	}
	return &c
}
