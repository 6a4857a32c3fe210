// Package wms queries WMS layers with GetFeatureInfo at a clicked point.
package wms

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/executor"
	"github.com/mohammed-shakir/mapbook-query/internal/core/ogc"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
)

type Options struct {
	FeatureCount int
	// Projection is used when the view does not carry one.
	Projection string
}

type Adapter struct {
	exec   executor.Interface
	logger *slog.Logger
	opts   Options
}

func New(exec executor.Interface, logger *slog.Logger, opts Options) *Adapter {
	if opts.Projection == "" {
		opts.Projection = geo.EPSG3857
	}
	return &Adapter{exec: exec, logger: backend.OrDiscard(logger), opts: opts}
}

func (a *Adapter) Query(ctx context.Context, req backend.Request) backend.Result {
	log := a.logger.With("layer", req.Layer)

	var pt orb.Point
	found := false
	if req.Query != nil {
		for _, f := range req.Query.Selection {
			if f == nil {
				continue
			}
			if p, ok := f.Geometry.(orb.Point); ok {
				pt, found = p, true
				break
			}
		}
	}
	if !found {
		return backend.Failure(req.Layer, "No valid selection geometry")
	}
	if len(req.Source.URLs) == 0 {
		log.WarnContext(ctx, "wms source has no url", "source", req.Source.Name)
		return backend.Success(req.Layer, nil)
	}

	layerName := ""
	if req.LayerDef != nil {
		layerName = req.LayerDef.Name
	}
	params := ogc.FeatureInfo{
		Point:        pt,
		Resolution:   req.View.Resolution,
		Projection:   req.View.ProjectionOr(a.opts.Projection),
		QueryLayers:  layerName,
		FeatureCount: a.opts.FeatureCount,
		BaseParams:   req.Source.Params,
	}.Params()

	resp, err := a.exec.Do(ctx, executor.Request{
		Upstream: "wms",
		URL:      req.Source.URLs[0],
		Query:    params,
	})
	if err != nil {
		log.WarnContext(ctx, "wms request failed", "err", err)
		return backend.Failure(req.Layer, backend.ServerErrorMessage)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		log.WarnContext(ctx, "wms returned an empty body")
		return backend.Failure(req.Layer, "Empty response from server")
	}
	if msg, ok := ogc.Exception(resp.Body); ok {
		return backend.Failure(req.Layer, msg)
	}
	feats, err := ogc.ReadGML(resp.Body)
	if err != nil {
		log.WarnContext(ctx, "wms response not parseable", "err", err)
		return backend.Failure(req.Layer, "Could not parse server response")
	}
	backend.Decorate(req.Source, feats, false)
	return backend.Success(req.Layer, feats)
}
