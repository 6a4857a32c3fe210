// Package ags queries ArcGIS REST map and feature service layers.
//
// Sources of type "ags-vector" are fetched in two steps: the matching object
// ids first, then the features in id batches sized to keep each GET under
// the URL length budget.
package ags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/executor"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
)

// WebMercator is the wkid ArcGIS uses for EPSG:3857.
const WebMercator = 102100

type Options struct {
	PixelTolerance float64
	MaxURLLength   int
}

type Adapter struct {
	exec   executor.Interface
	logger *slog.Logger
	opts   Options
}

func New(exec executor.Interface, logger *slog.Logger, opts Options) *Adapter {
	if opts.MaxURLLength <= 0 {
		opts.MaxURLLength = DefaultMaxURLLength
	}
	return &Adapter{exec: exec, logger: backend.OrDiscard(logger), opts: opts}
}

// layerError carries a message meant for the result set.
type layerError struct{ msg string }

func (e *layerError) Error() string { return e.msg }

func (a *Adapter) Query(ctx context.Context, req backend.Request) backend.Result {
	src := req.Source
	log := a.logger.With("layer", req.Layer, "source", src.Name)
	if len(src.URLs) == 0 {
		log.WarnContext(ctx, "ags source has no url")
		return backend.Success(req.Layer, nil)
	}

	params, err := a.params(req)
	if err != nil {
		log.WarnContext(ctx, "ags request not buildable", "err", err)
		return backend.Failure(req.Layer, err.Error())
	}
	endpoint := strings.TrimRight(src.URLs[0], "/") + "/query/"

	var feats []*geojson.Feature
	if strings.EqualFold(src.Type, "ags-vector") {
		feats, err = a.fetchBatched(ctx, endpoint, params)
	} else {
		feats, err = a.fetch(ctx, endpoint, params)
	}
	if err != nil {
		log.WarnContext(ctx, "ags layer failed", "err", err)
		var le *layerError
		if errors.As(err, &le) {
			return backend.Failure(req.Layer, le.msg)
		}
		return backend.Failure(req.Layer, backend.ServerErrorMessage)
	}
	backend.Decorate(src, feats, true)
	log.DebugContext(ctx, "ags layer settled", "features", len(feats))
	return backend.Success(req.Layer, feats)
}

func (a *Adapter) params(req backend.Request) (url.Values, error) {
	sr := strconv.Itoa(WebMercator)
	p := url.Values{}
	p.Set("f", "json")
	p.Set("returnGeometry", "true")
	p.Set("spatialReference", fmt.Sprintf(`{"wkid":%d}`, WebMercator))
	p.Set("inSR", sr)
	p.Set("outSR", sr)
	p.Set("outFields", "*")

	hasGeometry := false
	if req.Query != nil && len(req.Query.Selection) > 0 && req.Query.Selection[0] != nil {
		sel := geo.ApplyPixelTolerance(req.Query.Selection[0],
			backend.PixelTolerance(req.Source, a.opts.PixelTolerance), req.View.Resolution)
		if sel.Geometry != nil {
			gt, ok := geometryType(sel.Geometry)
			if !ok {
				return nil, &layerError{fmt.Sprintf("Unsupported selection geometry %s", sel.Geometry.GeoJSONType())}
			}
			eg, err := toEsri(sel.Geometry, WebMercator)
			if err != nil {
				return nil, &layerError{err.Error()}
			}
			b, err := json.Marshal(eg)
			if err != nil {
				return nil, fmt.Errorf("encode selection: %w", err)
			}
			p.Set("geometry", string(b))
			p.Set("geometryType", gt)
			p.Set("spatialRel", "esriSpatialRelIntersects")
			hasGeometry = true
		}
	}

	var where string
	if req.Query != nil {
		w, err := whereClause(req.Query.Fields)
		if err != nil {
			return nil, &layerError{"Unsupported filter: " + err.Error()}
		}
		where = w
	}
	if where == "" && !hasGeometry {
		where = "1=1"
	}
	p.Set("where", where)

	for k, v := range req.Source.Params {
		p.Set(k, v)
	}
	return p, nil
}

func (a *Adapter) get(ctx context.Context, endpoint string, params url.Values) (*queryResponse, error) {
	resp, err := a.exec.Do(ctx, executor.Request{
		Upstream: "ags",
		URL:      endpoint,
		Query:    params,
		Accept:   "application/json",
	})
	if err != nil {
		return nil, err
	}
	var qr queryResponse
	if err := json.Unmarshal(resp.Body, &qr); err != nil {
		return nil, &layerError{"Could not parse server response"}
	}
	if qr.Error != nil && qr.Error.Code != 200 {
		return nil, &layerError{qr.Error.message()}
	}
	return &qr, nil
}

func (a *Adapter) fetch(ctx context.Context, endpoint string, params url.Values) ([]*geojson.Feature, error) {
	qr, err := a.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	feats, err := toFeatures(qr.Features)
	if err != nil {
		return nil, &layerError{"Could not parse server response"}
	}
	return feats, nil
}

func (a *Adapter) fetchBatched(ctx context.Context, endpoint string, params url.Values) ([]*geojson.Feature, error) {
	idParams := cloneValues(params)
	idParams.Set("returnIdsOnly", "true")
	qr, err := a.get(ctx, endpoint, idParams)
	if err != nil {
		return nil, err
	}
	if len(qr.ObjectIDs) == 0 {
		return []*geojson.Feature{}, nil
	}
	ids := make([]string, len(qr.ObjectIDs))
	for i, id := range qr.ObjectIDs {
		ids[i] = id.String()
	}

	batches := batchIDs(ids, a.opts.MaxURLLength, urlLength(endpoint, params))
	a.logger.DebugContext(ctx, "ags id batches", "ids", len(ids), "batches", len(batches))
	out := []*geojson.Feature{}
	for _, batch := range batches {
		p := cloneValues(params)
		p.Set("returnIdsOnly", "false")
		p.Set("objectIds", strings.Join(batch, ","))
		feats, err := a.fetch(ctx, endpoint, p)
		if err != nil {
			return nil, err
		}
		out = append(out, feats...)
	}
	return out, nil
}
