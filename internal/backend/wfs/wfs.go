// Package wfs queries WFS 1.1.0 feature types with an XML GetFeature POST.
package wfs

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/executor"
	"github.com/mohammed-shakir/mapbook-query/internal/core/ogc"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
)

const DefaultGeometryName = "geom"

type Options struct {
	// PixelTolerance buffers a single point selection, in screen pixels.
	PixelTolerance float64
	Projection     string
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
	src := req.Source
	log := a.logger.With("layer", req.Layer, "source", src.Name)

	typeName := src.ConfigValue("typename")
	if typeName == "" {
		typeName = src.Param("typename")
	}
	if typeName == "" || len(src.URLs) == 0 {
		log.WarnContext(ctx, "wfs source is missing a typename or url")
		return backend.Success(req.Layer, nil)
	}
	geomName := src.ConfigValue("geometry-name")
	if geomName == "" {
		geomName = DefaultGeometryName
	}
	outputFormat := src.Param("outputFormat")
	if outputFormat == "" {
		outputFormat = ogc.DefaultWFSOutputFormat
	}

	mapProj := req.View.ProjectionOr(a.opts.Projection)
	queryProj := mapProj
	if src.WGS84Hack {
		queryProj = geo.EPSG4326
	}

	var sel []*geojson.Feature
	if req.Query != nil {
		sel = req.Query.Selection
	}
	if len(sel) == 1 {
		sel = []*geojson.Feature{geo.ApplyPixelTolerance(sel[0],
			backend.PixelTolerance(src, a.opts.PixelTolerance), req.View.Resolution)}
	}
	spatial := make([]ogc.Filter, 0, len(sel))
	for _, f := range sel {
		if f == nil || f.Geometry == nil {
			continue
		}
		spatial = append(spatial, ogc.Intersects{
			Property: geomName,
			Geometry: geo.Reproject(f.Geometry, mapProj, queryProj),
			SRSName:  queryProj,
		})
	}

	filters := []ogc.Filter{}
	if sf := ogc.Chain("Or", spatial...); sf != nil {
		filters = append(filters, sf)
	}
	if req.Query != nil {
		ff, err := fieldFilters(req.Query.Fields)
		if err != nil {
			log.WarnContext(ctx, "wfs filter not convertible", "err", err)
			return backend.Failure(req.Layer, "Unsupported filter: "+err.Error())
		}
		filters = append(filters, ff...)
	}

	body, err := ogc.GetFeature{
		TypeName:     typeName,
		SRSName:      queryProj,
		OutputFormat: outputFormat,
		Filter:       ogc.Chain("And", filters...),
	}.Encode()
	if err != nil {
		log.WarnContext(ctx, "wfs request not encodable", "err", err)
		return backend.Failure(req.Layer, "Could not build request: "+err.Error())
	}

	q := url.Values{}
	for k, v := range src.Params {
		q.Set(k, v)
	}
	resp, err := a.exec.Do(ctx, executor.Request{
		Upstream:    "wfs",
		Method:      "POST",
		URL:         src.URLs[0],
		Query:       q,
		Body:        body,
		ContentType: "text/xml",
	})
	if err != nil {
		log.WarnContext(ctx, "wfs request failed", "err", err)
		return backend.Failure(req.Layer, backend.ServerErrorMessage)
	}
	if msg, ok := ogc.Exception(resp.Body); ok {
		log.WarnContext(ctx, "wfs exception", "msg", msg)
		return backend.Failure(req.Layer, msg)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return backend.Failure(req.Layer, "Empty response from server")
	}

	var feats []*geojson.Feature
	if strings.Contains(strings.ToLower(outputFormat), "json") {
		fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
		if err != nil {
			log.WarnContext(ctx, "wfs json not parseable", "err", err)
			return backend.Failure(req.Layer, "Could not parse server response")
		}
		feats = fc.Features
	} else {
		feats, err = ogc.ReadGML(resp.Body)
		if err != nil {
			log.WarnContext(ctx, "wfs gml not parseable", "err", err)
			return backend.Failure(req.Layer, "Could not parse server response")
		}
	}
	geo.ReprojectFeatures(feats, queryProj, mapProj)
	backend.Decorate(src, feats, true)
	log.DebugContext(ctx, "wfs layer settled", "features", len(feats))
	return backend.Success(req.Layer, feats)
}
