// Package backend defines the per-protocol query adapters and the closed
// dispatch that routes a layer to the adapter for its source kind.
package backend

import (
	"context"
	"io"
	"log/slog"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
)

// ServerErrorMessage is reported when an upstream cannot be reached or
// answers with a non-2xx status.
const ServerErrorMessage = "Server error. Check network logs."

// Request is everything an adapter needs to query one layer.
type Request struct {
	Layer    string // layer path
	LayerDef *model.Layer
	Source   *model.MapSource
	View     model.MapView
	Query    *model.QueryDefinition
}

// Result is the settled outcome of one layer. Adapters never return errors;
// failures are reported through Failed and Message.
type Result struct {
	Layer    string
	Features []*geojson.Feature
	Failed   bool
	Message  string
}

func Failure(layer, msg string) Result {
	return Result{Layer: layer, Features: []*geojson.Feature{}, Failed: true, Message: msg}
}

func Success(layer string, feats []*geojson.Feature) Result {
	if feats == nil {
		feats = []*geojson.Feature{}
	}
	return Result{Layer: layer, Features: feats}
}

func (r Result) LayerResult() model.LayerResult {
	return model.LayerResult{Features: r.Features, Failed: r.Failed, Message: r.Message}
}

type Adapter interface {
	Query(ctx context.Context, req Request) Result
}

type AdapterFunc func(ctx context.Context, req Request) Result

func (f AdapterFunc) Query(ctx context.Context, req Request) Result { return f(ctx, req) }

// Dispatcher routes each request to the adapter registered for its source
// kind. Kinds without an adapter go to the unsupported variant.
type Dispatcher struct {
	byKind      map[model.SourceKind]Adapter
	unsupported Adapter
}

func NewDispatcher(logger *slog.Logger, adapters map[model.SourceKind]Adapter) *Dispatcher {
	m := make(map[model.SourceKind]Adapter, len(adapters))
	for k, a := range adapters {
		if a != nil && k != model.KindUnsupported {
			m[k] = a
		}
	}
	return &Dispatcher{byKind: m, unsupported: Unsupported{logger: OrDiscard(logger)}}
}

func (d *Dispatcher) Query(ctx context.Context, req Request) Result {
	if req.Source == nil {
		return d.unsupported.Query(ctx, req)
	}
	if a, ok := d.byKind[req.Source.Kind()]; ok {
		return a.Query(ctx, req)
	}
	return d.unsupported.Query(ctx, req)
}

// Unsupported answers for source types nothing can query. The layer gets an
// empty feature list so the rest of the query is unaffected.
type Unsupported struct {
	logger *slog.Logger
}

func (u Unsupported) Query(ctx context.Context, req Request) Result {
	typ := ""
	if req.Source != nil {
		typ = req.Source.Type
	}
	OrDiscard(u.logger).WarnContext(ctx, "unsupported map source type",
		"layer", req.Layer, "type", typ)
	return Success(req.Layer, nil)
}

// PixelTolerance reads the source's pixel-tolerance config value, falling
// back to def when it is missing or not a number.
func PixelTolerance(src *model.MapSource, def float64) float64 {
	if src == nil {
		return def
	}
	if v := src.ConfigValue("pixel-tolerance"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

// Decorate stamps boundedBy on each feature and runs the source transforms.
func Decorate(src *model.MapSource, feats []*geojson.Feature, bounds bool) {
	if bounds {
		for _, f := range feats {
			if f == nil || f.Geometry == nil {
				continue
			}
			if f.Properties == nil {
				f.Properties = geojson.Properties{}
			}
			f.Properties["boundedBy"] = geo.BoundedBy(f.Geometry)
		}
	}
	if src != nil {
		mapsource.ApplyTransforms(src.Transforms, feats)
	}
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
