package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

func TestTransitionTable(t *testing.T) {
	var s State
	var err error

	if _, err = Transition(s, CreateQuery{Query: &model.QueryDefinition{}}); !errors.Is(err, ErrNoService) {
		t.Fatalf("query before service: %v", err)
	}
	s, err = Transition(s, StartService{Service: "identify", Defaults: []results.FieldValue{{Name: "a", Value: "b"}}})
	if err != nil || s.Phase != Start || s.Service != "identify" {
		t.Fatalf("start: %+v %v", s, err)
	}
	if _, err = Transition(s, CreateQuery{Query: &model.QueryDefinition{ServiceName: "select"}}); !errors.Is(err, ErrServiceMismatch) {
		t.Fatalf("mismatch: %v", err)
	}

	s, _ = Transition(s, AddFilter{Filter: json.RawMessage(`{"name":"a","value":1}`)})
	s, err = Transition(s, CreateQuery{Query: &model.QueryDefinition{Layers: []string{"s/l"}}})
	if err != nil || s.Phase != Loading || s.Instance != 1 || s.Query.ServiceName != "identify" {
		t.Fatalf("create: %+v %v", s, err)
	}
	if len(s.Filters) != 0 {
		t.Fatalf("a new query must clear the filter list")
	}

	rs := model.NewResultSet([]string{"s/l"})
	rs.ByLayer["s/l"] = model.LayerResult{Features: []*geojson.Feature{geojson.NewFeature(orb.Point{})}}
	if _, err = Transition(s, Settle{Instance: 7, Results: rs}); !errors.Is(err, ErrStale) {
		t.Fatalf("wrong instance should be stale: %v", err)
	}
	s, err = Transition(s, Settle{Instance: 1, Results: rs})
	if err != nil || s.Phase != Results || len(s.Results.ByLayer) != 1 {
		t.Fatalf("settle: %+v %v", s, err)
	}
	if _, err = Transition(s, Settle{Instance: 1, Results: rs}); !errors.Is(err, ErrStale) {
		t.Fatalf("second settle should be stale: %v", err)
	}

	// a new query straight from results is allowed
	s2, err := Transition(s, CreateQuery{Query: &model.QueryDefinition{}})
	if err != nil || s2.Instance != 2 || !s2.Results.Empty() {
		t.Fatalf("requery: %+v %v", s2, err)
	}

	s, _ = Transition(s, StartService{Service: "select"})
	if s.Phase != Start || !s.Results.Empty() || s.Query != nil || s.Instance != 1 {
		t.Fatalf("service change should reset results: %+v", s)
	}
	s, _ = Transition(s, FinishService{})
	if s.Phase != Finished || s.Service != "" || s.Defaults != nil {
		t.Fatalf("finish: %+v", s)
	}
}

func TestFilters(t *testing.T) {
	s := State{Phase: Results}
	a := json.RawMessage(`{"name":"OWNER","value":"x","comparitor":"like"}`)
	a2 := json.RawMessage(`{"comparitor":"like","value":"x","name":"OWNER"}`)
	b := json.RawMessage(`["or", {"name":"CITY","value":"y"}, {"name":"OWNER","value":"z"}]`)
	c := json.RawMessage(`{"name":"ZIP","value":"55101"}`)

	for _, f := range []json.RawMessage{a, b, c, a2} {
		var err error
		if s, err = Transition(s, AddFilter{Filter: f}); err != nil {
			t.Fatalf("add %s: %v", f, err)
		}
	}
	if len(s.Filters) != 3 {
		t.Fatalf("identical filter should replace, got %d filters", len(s.Filters))
	}
	if _, err := Transition(s, AddFilter{Filter: json.RawMessage(`["nope"]`)}); err == nil {
		t.Fatalf("malformed filter should be rejected")
	}
	s, _ = Transition(s, RemoveFilter{Property: "OWNER"})
	if len(s.Filters) != 1 || string(s.Filters[0]) != string(c) {
		t.Fatalf("remove should drop every filter reading OWNER, got %s", s.Filters)
	}
	if s.Phase != Results {
		t.Fatalf("filter events keep the phase")
	}
	s, _ = Transition(s, SetHotFilter{Filter: json.RawMessage(`["==", ["get", "ZIP"], "55101"]`)})
	if len(s.Hot) == 0 {
		t.Fatalf("hot filter not set")
	}
}

type funcRunner func(q *model.QueryDefinition) model.ResultSet

func (f funcRunner) Run(_ context.Context, _ model.MapView, q *model.QueryDefinition) model.ResultSet {
	return f(q)
}

func TestStore_EmptyQuerySettles(t *testing.T) {
	st := NewStore(funcRunner(func(q *model.QueryDefinition) model.ResultSet {
		return model.NewResultSet(q.Layers)
	}), nil)
	if _, err := st.StartService("identify", nil, nil); err != nil {
		t.Fatal(err)
	}
	inst, err := st.Submit(context.Background(), &model.QueryDefinition{Layers: []string{}}, model.MapView{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := st.Wait(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	f, l := results.Counts(s.Results)
	if s.Phase != Results || f != 0 || l != 0 {
		t.Fatalf("phase=%s features=%d layers=%d", s.Phase, f, l)
	}
}

func TestStore_StaleResultsDropped(t *testing.T) {
	release := map[string]chan struct{}{"first/l": make(chan struct{}), "second/l": make(chan struct{})}
	started := make(chan string, 2)
	st := NewStore(funcRunner(func(q *model.QueryDefinition) model.ResultSet {
		l := q.Layers[0]
		started <- l
		<-release[l]
		rs := model.NewResultSet(q.Layers)
		n := 1
		if l == "second/l" {
			n = 2
		}
		feats := make([]*geojson.Feature, n)
		for i := range feats {
			feats[i] = geojson.NewFeature(orb.Point{})
		}
		rs.ByLayer[l] = model.LayerResult{Features: feats}
		return rs
	}), nil)
	if _, err := st.StartService("identify", nil, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	one, err := st.Submit(ctx, &model.QueryDefinition{Layers: []string{"first/l"}}, model.MapView{})
	if err != nil {
		t.Fatal(err)
	}
	cancel() // request contexts ending must not stop the run
	<-started
	two, err := st.Submit(context.Background(), &model.QueryDefinition{Layers: []string{"second/l"}}, model.MapView{})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	close(release["second/l"])
	s, _ := st.Wait(context.Background(), two)
	if s.Phase != Results || s.Instance != two {
		t.Fatalf("second query should settle: %+v", s)
	}
	close(release["first/l"])
	if _, err := st.Wait(context.Background(), one); err != nil {
		t.Fatal(err)
	}

	s = st.Snapshot()
	if _, ok := s.Results.ByLayer["first/l"]; ok {
		t.Fatalf("stale results leaked into state")
	}
	if f, _ := results.Counts(s.Results); f != 2 || s.Instance != two {
		t.Fatalf("state should reflect instance %d only, got instance %d with %d features", two, s.Instance, f)
	}

	drainCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := st.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestStore_SubmitRequiresService(t *testing.T) {
	st := NewStore(funcRunner(func(q *model.QueryDefinition) model.ResultSet { return model.NewResultSet(nil) }), nil)
	if _, err := st.Submit(context.Background(), &model.QueryDefinition{}, model.MapView{}); !errors.Is(err, ErrNoService) {
		t.Fatalf("want ErrNoService, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s, err := st.Wait(ctx, 99); err != nil || s.Phase != Idle {
		t.Fatalf("unknown instance should return immediately: %v %v", s.Phase, err)
	}
}
