package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/lifecycle"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

type funcRunner func(q *model.QueryDefinition) model.ResultSet

func (f funcRunner) Run(_ context.Context, _ model.MapView, q *model.QueryDefinition) model.ResultSet {
	return f(q)
}

func feature(n float64, status string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{n, n})
	f.Properties["n"] = n
	f.Properties["status"] = status
	return f
}

// parcels answers with three features, roads with one, closed fails.
func fixedRunner(q *model.QueryDefinition) model.ResultSet {
	rs := model.NewResultSet(q.Layers)
	for _, l := range q.Layers {
		switch l {
		case "parcels/parcels":
			rs.ByLayer[l] = model.LayerResult{Features: []*geojson.Feature{feature(3, "open"), feature(1, "closed"), feature(2, "open")}}
		case "roads/roads":
			rs.ByLayer[l] = model.LayerResult{Features: []*geojson.Feature{feature(4, "closed")}}
		default:
			rs.ByLayer[l] = model.LayerResult{Failed: true, Message: "boom"}
		}
	}
	return rs
}

type fixture struct {
	srv   *httptest.Server
	store *lifecycle.Store
	reg   *mapsource.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, funcRunner(fixedRunner))
}

func newFixtureWith(t *testing.T, runner lifecycle.Runner) *fixture {
	t.Helper()
	reg, err := mapsource.NewRegistry([]*model.MapSource{
		{Name: "parcels", Type: "wfs", URLs: []string{"http://example.invalid/wfs"}, Params: map[string]string{"typename": "parcels"}, Layers: []model.Layer{{Name: "parcels", On: true}}},
		{Name: "roads", Type: "wms", URLs: []string{"http://example.invalid/wms"}, Layers: []model.Layer{{Name: "roads"}}},
		{Name: "sketch", Type: "vector", Layers: []model.Layer{{Name: "sketch"}}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := lifecycle.NewStore(runner, nil)
	api := New(store, reg, refresh.NewHandler(reg, nil, nil), nil)
	r := chi.NewRouter()
	api.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

type status struct {
	Phase        string            `json:"phase"`
	ServiceName  string            `json:"serviceName"`
	Instance     uint64            `json:"instance"`
	Filter       []json.RawMessage `json:"filter"`
	HotFilter    json.RawMessage   `json:"hotFilter"`
	FeatureCount int               `json:"featureCount"`
	LayerCount   int               `json:"layerCount"`
	Complete     bool              `json:"complete"`
}

const queryBody = `{"query":{"layers":["parcels/parcels","roads/roads","broken/layer"],"fields":[{"name":"status","value":"open"}]},"view":{"resolution":2,"projection":"EPSG:3857"}}`

func (f *fixture) runQuery(t *testing.T) status {
	t.Helper()
	if res, b := f.do(t, http.MethodPost, "/services/identify/start", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, b)
	}
	res, b := f.do(t, http.MethodPost, "/query?wait=true", queryBody)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query: %d %s", res.StatusCode, b)
	}
	return decode[status](t, b)
}

func TestQueryLifecycle(t *testing.T) {
	f := newFixture(t)

	if res, _ := f.do(t, http.MethodPost, "/query", queryBody); res.StatusCode != http.StatusConflict {
		t.Fatalf("query without service: want 409, got %d", res.StatusCode)
	}

	st := f.runQuery(t)
	if st.Phase != "results" || !st.Complete || st.ServiceName != "identify" || st.Instance != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.FeatureCount != 4 || st.LayerCount != 2 {
		t.Fatalf("counts: features=%d layers=%d", st.FeatureCount, st.LayerCount)
	}

	res, b := f.do(t, http.MethodGet, "/query/results", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("results: %d %s", res.StatusCode, b)
	}
	byLayer := decode[map[string]json.RawMessage](t, b)
	if !strings.Contains(string(byLayer["broken/layer"]), `"failed":true`) {
		t.Fatalf("failed layer should carry its failure: %s", b)
	}

	_, b = f.do(t, http.MethodPost, "/services/finish", "")
	if st := decode[status](t, b); st.Phase != "finished" || st.ServiceName != "" {
		t.Fatalf("finish: %+v", st)
	}
}

func TestStartService_NormalizesDefaults(t *testing.T) {
	f := newFixture(t)
	body := `{"fields":[{"name":"owner","default":"anyone"},{"name":"zip"}],"defaults":{"owner":"","zip":"55101"}}`
	res, b := f.do(t, http.MethodPost, "/services/search/start", body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, b)
	}
	type fieldValue struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	got := decode[struct {
		DefaultValues []fieldValue `json:"defaultValues"`
	}](t, b)
	if len(got.DefaultValues) != 2 || got.DefaultValues[0].Value != "anyone" || got.DefaultValues[1].Value != "55101" {
		t.Fatalf("defaults: %+v", got.DefaultValues)
	}
}

func TestCreateQuery_RejectsMalformed(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/services/identify/start", "")

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing query", `{"view":{}}`},
		{"bad layer path", `{"query":{"layers":["nolayer"]}}`},
		{"bad selection", `{"query":{"selection":[{"geometry":null}]}}`},
		{"bad field", `{"query":{"fields":[{"value":1}]}}`},
	}
	for _, tc := range cases {
		if res, b := f.do(t, http.MethodPost, "/query", tc.body); res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d %s", tc.name, res.StatusCode, b)
		}
	}
}

func TestResultViews(t *testing.T) {
	f := newFixture(t)
	f.runQuery(t)

	cases := []struct {
		query string
		want  []float64
	}{
		{"?view=flat", []float64{3, 1, 2, 4}},
		{"?view=flat&format=geojson&sort=n:asc", []float64{1, 2, 3, 4}},
		{"?view=layers&format=geojson&sort=n:desc&limit=2", []float64{4, 3}},
		{"?view=flat&format=geojson&sort=n&offset=3", []float64{4}},
	}
	for _, tc := range cases {
		res, b := f.do(t, http.MethodGet, "/query/results"+tc.query, "")
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", tc.query, res.StatusCode, b)
		}
		if got := ns(t, b); !equal(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.query, got, tc.want)
		}
	}

	if res, _ := f.do(t, http.MethodGet, "/query/results?view=nope", ""); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown view should be 400, got %d", res.StatusCode)
	}
	if res, _ := f.do(t, http.MethodGet, "/query/results?format=geojson&limit=-1", ""); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative limit should be 400, got %d", res.StatusCode)
	}
}

func TestFiltersAndHighlight(t *testing.T) {
	f := newFixture(t)
	f.runQuery(t)

	res, b := f.do(t, http.MethodPost, "/query/filters", `{"name":"status","value":"open"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add filter: %d %s", res.StatusCode, b)
	}
	if st := decode[status](t, b); len(st.Filter) != 1 {
		t.Fatalf("filter list: %+v", st.Filter)
	}
	_, b = f.do(t, http.MethodGet, "/query/results?view=filtered", "")
	if got := ns(t, b); !equal(got, []float64{3, 2}) {
		t.Fatalf("filtered: %v", got)
	}

	if res, _ := f.do(t, http.MethodPost, "/query/filters", `{"value":1}`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed filter should be 400, got %d", res.StatusCode)
	}

	res, b = f.do(t, http.MethodPut, "/query/hot-filter", `{"name":"n","value":2}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hot filter: %d %s", res.StatusCode, b)
	}
	_, b = f.do(t, http.MethodGet, "/query/results?view=highlight", "")
	hl := decode[[]*geojson.Feature](t, b)
	if len(hl) != 2 {
		t.Fatalf("highlight: want 2 features, got %d", len(hl))
	}
	hot := 0
	for _, ft := range hl {
		if ft.Properties["displayClass"] != nil {
			hot++
		}
	}
	if hot != 1 {
		t.Fatalf("want exactly one hot feature, got %d", hot)
	}

	_, b = f.do(t, http.MethodPut, "/query/hot-filter", "")
	if st := decode[status](t, b); len(st.HotFilter) != 0 {
		t.Fatalf("empty body should clear the hot filter: %s", st.HotFilter)
	}

	_, b = f.do(t, http.MethodDelete, "/query/filters/status", "")
	if st := decode[status](t, b); len(st.Filter) != 0 {
		t.Fatalf("remove filter: %+v", st.Filter)
	}
}

func TestSelection(t *testing.T) {
	f := newFixture(t)
	f.runQuery(t)
	res, b := f.do(t, http.MethodGet, "/query/selection", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("selection: %d", res.StatusCode)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		t.Fatalf("selection not a feature collection: %v", err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("selection size %d", len(fc.Features))
	}
}

func TestMapSources(t *testing.T) {
	f := newFixture(t)

	_, b := f.do(t, http.MethodGet, "/mapsources", "")
	srcs := decode[[]sourceView](t, b)
	if len(srcs) != 3 || srcs[0].Name != "parcels" || srcs[0].Kind != "transactional-vector" || srcs[0].Layers[0].Path != "parcels/parcels" {
		t.Fatalf("sources: %+v", srcs)
	}

	body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`
	res, b := f.do(t, http.MethodPost, "/mapsources/sketch/features", body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add features: %d %s", res.StatusCode, b)
	}
	if f.reg.Revision("sketch") != 1 {
		t.Fatalf("adding features should bump the revision")
	}
	if res, _ := f.do(t, http.MethodPost, "/mapsources/parcels/features", body); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("adding to a remote source should be 400, got %d", res.StatusCode)
	}
	if res, _ := f.do(t, http.MethodPost, "/mapsources/nope/features", body); res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown source should be 404, got %d", res.StatusCode)
	}

	res, b = f.do(t, http.MethodDelete, "/mapsources/sketch/features", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear: %d %s", res.StatusCode, b)
	}
	src, _ := f.reg.Source("sketch")
	if len(src.Features) != 0 || f.reg.Revision("sketch") != 2 {
		t.Fatalf("clear should empty the source and bump its revision")
	}

	res, b = f.do(t, http.MethodPost, "/mapsources/roads/refresh", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", res.StatusCode, b)
	}
	if out := decode[refresh.Outcome](t, b); out.Revision != 1 || out.Source != "roads" {
		t.Fatalf("refresh outcome: %+v", out)
	}
}

func ns(t *testing.T, b []byte) []float64 {
	t.Helper()
	var feats []*geojson.Feature
	if strings.Contains(string(b), `"FeatureCollection"`) {
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err != nil {
			t.Fatalf("decode collection: %v", err)
		}
		feats = fc.Features
	} else {
		feats = decode[[]*geojson.Feature](t, b)
	}
	out := make([]float64, 0, len(feats))
	for _, f := range feats {
		v, _ := f.Properties["n"].(float64)
		out = append(out, v)
	}
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWaitConflictsWhenServiceChanges(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixtureWith(t, funcRunner(func(q *model.QueryDefinition) model.ResultSet {
		close(started)
		<-release
		return fixedRunner(q)
	}))
	if res, b := f.do(t, http.MethodPost, "/services/identify/start", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, b)
	}

	type reply struct {
		code int
		body []byte
	}
	done := make(chan reply, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/query?wait=true", strings.NewReader(queryBody))
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- reply{}
			return
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		done <- reply{res.StatusCode, b}
	}()

	<-started
	if _, err := f.store.StartService("select", nil, nil); err != nil {
		t.Fatalf("restart service: %v", err)
	}
	close(release)

	got := <-done
	if got.code != http.StatusConflict {
		t.Fatalf("want 409 for a run discarded by a service change, got %d %s", got.code, got.body)
	}
	if st := decode[status](t, got.body); st.Phase != "start" || st.ServiceName != "select" {
		t.Fatalf("unexpected status %+v", st)
	}
}
