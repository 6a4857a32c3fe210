// Package router exposes the query lifecycle over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
	"github.com/mohammed-shakir/mapbook-query/internal/lifecycle"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

const maxBody = 8 << 20

// Lifecycle is the single owner of query state.
type Lifecycle interface {
	StartService(name string, defaults []results.FieldValue, feats []*geojson.Feature) (lifecycle.State, error)
	FinishService() lifecycle.State
	Submit(ctx context.Context, q *model.QueryDefinition, view model.MapView) (uint64, error)
	Wait(ctx context.Context, instance uint64) (lifecycle.State, error)
	Snapshot() lifecycle.State
	Dispatch(e lifecycle.Event) (lifecycle.State, error)
}

// Catalog is the map source registry as seen by HTTP clients.
type Catalog interface {
	Sources() []*model.MapSource
	Lookup(path string) (*model.MapSource, *model.Layer, error)
	Revision(source string) uint64
	AddFeatures(source string, feats []*geojson.Feature) error
}

type Refresher interface {
	Apply(ctx context.Context, ev refresh.Event) (refresh.Outcome, error)
}

type API struct {
	life    Lifecycle
	catalog Catalog
	refresh Refresher
	logger  *slog.Logger
	// WaitTimeout bounds POST /query?wait=true.
	WaitTimeout time.Duration
}

func New(life Lifecycle, catalog Catalog, refresher Refresher, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{life: life, catalog: catalog, refresh: refresher, logger: logger, WaitTimeout: 60 * time.Second}
}

func (a *API) Mount(r chi.Router) {
	r.Post("/services/{name}/start", a.startService)
	r.Post("/services/finish", a.finishService)

	r.Route("/query", func(r chi.Router) {
		r.Post("/", a.createQuery)
		r.Get("/", a.status)
		r.Get("/results", a.results)
		r.Get("/selection", a.selection)
		r.Post("/filters", a.addFilter)
		r.Delete("/filters/{property}", a.removeFilter)
		r.Put("/hot-filter", a.setHotFilter)
	})

	r.Get("/mapsources", a.mapSources)
	r.Post("/mapsources/{name}/features", a.addFeatures)
	r.Delete("/mapsources/{name}/features", a.clearFeatures)
	r.Post("/mapsources/{name}/refresh", a.refreshSource)
}

type statusView struct {
	lifecycle.State
	FeatureCount int  `json:"featureCount"`
	LayerCount   int  `json:"layerCount"`
	Complete     bool `json:"complete"`
}

func view(s lifecycle.State) statusView {
	f, l := results.Counts(s.Results)
	return statusView{State: s, FeatureCount: f, LayerCount: l, Complete: s.Phase == lifecycle.Results}
}

type startRequest struct {
	Fields       []results.ServiceField `json:"fields"`
	Defaults     map[string]any         `json:"defaults"`
	WithFeatures []*geojson.Feature     `json:"withFeatures"`
}

func (a *API) startService(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := a.life.StartService(chi.URLParam(r, "name"), fieldValues(req), req.WithFeatures)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(st))
}

// fieldValues pairs declared fields with supplied defaults. Without field
// declarations the supplied map is used as is, sorted by name.
func fieldValues(req startRequest) []results.FieldValue {
	if len(req.Fields) > 0 {
		return results.NormalizeFieldValues(req.Fields, req.Defaults)
	}
	if len(req.Defaults) == 0 {
		return nil
	}
	names := make([]string, 0, len(req.Defaults))
	for k := range req.Defaults {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]results.FieldValue, 0, len(names))
	for _, n := range names {
		out = append(out, results.FieldValue{Name: n, Value: req.Defaults[n]})
	}
	return out
}

func (a *API) finishService(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view(a.life.FinishService()))
}

type queryRequest struct {
	Query model.QueryDefinition `json:"query"`
	View  model.MapView         `json:"view"`
}

func (a *API) createQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateQueryBody(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "decode query: "+err.Error(), http.StatusBadRequest)
		return
	}
	for i, f := range req.Query.Fields {
		if err := filter.Validate(f); err != nil {
			http.Error(w, fmt.Sprintf("fields[%d]: %v", i, err), http.StatusBadRequest)
			return
		}
	}
	if req.Query.Layers == nil {
		req.Query.Layers = []string{}
	}

	inst, err := a.life.Submit(r.Context(), &req.Query, req.View)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.InfoContext(r.Context(), "query submitted", "instance", inst, "layers", len(req.Query.Layers))

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, view(a.life.Snapshot()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.WaitTimeout)
	defer cancel()
	st, err := a.life.Wait(ctx, inst)
	if err != nil {
		writeJSON(w, http.StatusAccepted, view(st))
		return
	}
	if st.Instance != inst || st.Phase != lifecycle.Results {
		// superseded or discarded by a service change while waiting
		writeJSON(w, http.StatusConflict, view(st))
		return
	}
	writeJSON(w, http.StatusOK, view(st))
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view(a.life.Snapshot()))
}

func (a *API) results(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st := a.life.Snapshot()
	format := resultFormat(r)

	var parts [][]*geojson.Feature
	switch v := q.Get("view"); v {
	case "", "layers":
		if format == "json" {
			writeJSON(w, http.StatusOK, st.Results)
			return
		}
		for _, l := range st.Results.Layers {
			if res, ok := st.Results.ByLayer[l]; ok && !res.Failed {
				parts = append(parts, res.Features)
			}
		}
	case "flat":
		parts = [][]*geojson.Feature{results.Flatten(st.Results)}
	case "filtered":
		parts = [][]*geojson.Feature{results.Filtered(st.Results, st.Filters)}
	case "highlight":
		parts = [][]*geojson.Feature{results.Highlight(st.Results, st.Service, a.layerOf, st.Filters, st.Hot)}
	default:
		http.Error(w, fmt.Sprintf("unknown view %q (want layers|flat|filtered|highlight)", v), http.StatusBadRequest)
		return
	}

	switch format {
	case "json":
		writeJSON(w, http.StatusOK, nonNil(parts))
	case "geojson":
		a.writeCollection(w, r, parts)
	default:
		http.Error(w, fmt.Sprintf("unknown format %q (want json|geojson)", format), http.StatusBadRequest)
	}
}

func (a *API) writeCollection(w http.ResponseWriter, r *http.Request, parts [][]*geojson.Feature) {
	q := r.URL.Query()
	keys, err := geojsonagg.ParseSort(q.Get("sort"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		http.Error(w, "limit: "+err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		http.Error(w, "offset: "+err.Error(), http.StatusBadRequest)
		return
	}
	dedup, _ := strconv.ParseBool(q.Get("dedup"))

	out, diag, err := geojsonagg.New(dedup).Merge(parts, geojsonagg.Query{Sort: keys, Limit: limit, StartIndex: offset})
	if err != nil {
		a.logger.WarnContext(r.Context(), "results export failed", "err", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Total-Features", strconv.Itoa(diag.TotalIn-diag.DedupByID-diag.DedupByGH))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (a *API) selection(w http.ResponseWriter, _ *http.Request) {
	fc := geojson.NewFeatureCollection()
	fc.Features = results.AsSelection(a.life.Snapshot().Results)
	w.Header().Set("Content-Type", "application/geo+json")
	writeJSON(w, http.StatusOK, fc)
}

func (a *API) addFilter(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := filter.Validate(raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, lifecycle.AddFilter{Filter: json.RawMessage(raw)})
}

func (a *API) removeFilter(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, lifecycle.RemoveFilter{Property: chi.URLParam(r, "property")})
}

// setHotFilter clears the hot filter on an empty or null body.
func (a *API) setHotFilter(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		a.dispatch(w, r, lifecycle.SetHotFilter{})
		return
	}
	if err := filter.Validate(raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, lifecycle.SetHotFilter{Filter: json.RawMessage(raw)})
}

func (a *API) dispatch(w http.ResponseWriter, r *http.Request, e lifecycle.Event) {
	st, err := a.life.Dispatch(e)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(st))
}

type layerView struct {
	Path string `json:"path"`
	On   bool   `json:"on"`
}

type sourceView struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Kind     string      `json:"kind"`
	Revision uint64      `json:"revision"`
	Layers   []layerView `json:"layers"`
}

func (a *API) mapSources(w http.ResponseWriter, _ *http.Request) {
	srcs := a.catalog.Sources()
	out := make([]sourceView, 0, len(srcs))
	for _, s := range srcs {
		sv := sourceView{Name: s.Name, Type: s.Type, Kind: s.Kind().String(), Revision: a.catalog.Revision(s.Name), Layers: []layerView{}}
		for _, l := range s.Layers {
			sv.Layers = append(sv.Layers, layerView{Path: model.LayerPath(s.Name, l.Name), On: l.On})
		}
		out = append(out, sv)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) addFeatures(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		http.Error(w, "decode features: "+err.Error(), http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "name")
	if err := a.catalog.AddFeatures(name, fc.Features); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": name, "added": len(fc.Features), "revision": a.catalog.Revision(name)})
}

func (a *API) clearFeatures(w http.ResponseWriter, r *http.Request) {
	a.applyRefresh(w, r, refresh.OpClear)
}

func (a *API) refreshSource(w http.ResponseWriter, r *http.Request) {
	a.applyRefresh(w, r, refresh.OpRefresh)
}

func (a *API) applyRefresh(w http.ResponseWriter, r *http.Request, op string) {
	if a.refresh == nil {
		http.Error(w, "refresh not configured", http.StatusNotImplemented)
		return
	}
	out, err := a.refresh.Apply(r.Context(), refresh.Event{
		Version: 1,
		Op:      op,
		Source:  chi.URLParam(r, "name"),
		TS:      time.Now().UTC(),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) layerOf(path string) *model.Layer {
	_, l, err := a.catalog.Lookup(path)
	if err != nil {
		return nil
	}
	return l
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "err", err)
	} else {
		a.logger.DebugContext(r.Context(), "request rejected", "status", code, "err", err)
	}
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mapsource.ErrUnknownSource), errors.Is(err, mapsource.ErrUnknownLayer):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNoService), errors.Is(err, lifecycle.ErrServiceMismatch):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeOptional(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("want a non-negative integer, got %q", s)
	}
	return n, nil
}

func nonNil(parts [][]*geojson.Feature) []*geojson.Feature {
	if len(parts) == 0 || parts[0] == nil {
		return []*geojson.Feature{}
	}
	return parts[0]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
