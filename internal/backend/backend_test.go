package backend

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

func TestDispatcherRoutesByKind(t *testing.T) {
	var hit string
	mk := func(name string) Adapter {
		return AdapterFunc(func(_ context.Context, req Request) Result {
			hit = name
			return Success(req.Layer, nil)
		})
	}
	d := NewDispatcher(nil, map[model.SourceKind]Adapter{
		model.KindTiledImageInfo:      mk("wms"),
		model.KindTransactionalVector: mk("wfs"),
		model.KindGenericFeature:      mk("ags"),
		model.KindInMemoryVector:      mk("vector"),
		model.KindUnsupported:         mk("never"),
	})

	cases := []struct {
		typ  string
		want string
	}{
		{"wms", "wms"},
		{"WFS", "wfs"},
		{"ags-vector", "ags"},
		{"geojson", "vector"},
		{"xyz", ""},
		{"mystery", ""},
	}
	for _, tc := range cases {
		hit = ""
		res := d.Query(context.Background(), Request{Layer: "s/l", Source: &model.MapSource{Name: "s", Type: tc.typ}})
		if hit != tc.want {
			t.Fatalf("%s routed to %q want %q", tc.typ, hit, tc.want)
		}
		if res.Failed || res.Features == nil {
			t.Fatalf("%s: want an empty success, got %+v", tc.typ, res)
		}
	}

	if res := d.Query(context.Background(), Request{Layer: "gone/l"}); res.Failed || len(res.Features) != 0 {
		t.Fatalf("missing source should degrade to empty, got %+v", res)
	}
}

func TestPixelTolerance(t *testing.T) {
	src := &model.MapSource{Config: map[string]string{"pixel-tolerance": "4"}}
	if got := PixelTolerance(src, 10); got != 4 {
		t.Fatalf("got %v", got)
	}
	src.Config["pixel-tolerance"] = "lots"
	if got := PixelTolerance(src, 10); got != 10 {
		t.Fatalf("bad value should fall back, got %v", got)
	}
	if got := PixelTolerance(nil, 2); got != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestDecorate(t *testing.T) {
	feats := []*geojson.Feature{
		geojson.NewFeature(orb.LineString{{0, 1}, {4, 3}}),
		geojson.NewFeature(nil),
	}
	feats[0].Properties["name"] = " main "
	src := &model.MapSource{Transforms: []model.Transform{{Attribute: "name", Op: "trim"}}}
	Decorate(src, feats, true)
	bb, ok := feats[0].Properties["boundedBy"].([]float64)
	if !ok || bb[0] != 0 || bb[1] != 1 || bb[2] != 4 || bb[3] != 3 {
		t.Fatalf("boundedBy=%v", feats[0].Properties["boundedBy"])
	}
	if _, ok := feats[1].Properties["boundedBy"]; ok {
		t.Fatalf("feature without geometry should not get boundedBy")
	}
	if feats[0].Properties["name"] != "main" {
		t.Fatalf("transform not applied: %q", feats[0].Properties["name"])
	}
}

func TestResultShapes(t *testing.T) {
	f := Failure("a/b", "boom")
	if !f.Failed || f.Features == nil || f.LayerResult().Message != "boom" {
		t.Fatalf("unexpected failure shape %+v", f)
	}
	if s := Success("a/b", nil); s.Failed || s.Features == nil {
		t.Fatalf("unexpected success shape %+v", s)
	}
}
