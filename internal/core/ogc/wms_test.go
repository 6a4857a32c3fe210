package ogc

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestFeatureInfoParams(t *testing.T) {
	fi := FeatureInfo{
		Point:       orb.Point{1000, 2000},
		Resolution:  2,
		Projection:  "EPSG:3857",
		QueryLayers: "parcels",
		BaseParams:  map[string]string{"map": "/maps/parcels.map", "layers": "parcels roads"},
	}
	v := fi.Params()
	want := map[string]string{
		"SERVICE":       "WMS",
		"VERSION":       "1.3.0",
		"REQUEST":       "GetFeatureInfo",
		"MAP":           "/maps/parcels.map",
		"LAYERS":        "parcels roads",
		"QUERY_LAYERS":  "parcels",
		"INFO_FORMAT":   "application/vnd.ogc.gml",
		"FEATURE_COUNT": "1000",
		"WIDTH":         "101",
		"HEIGHT":        "101",
		"I":             "50",
		"J":             "50",
		"CRS":           "EPSG:3857",
		"BBOX":          "899,1899,1101,2101",
	}
	for k, w := range want {
		if got := v.Get(k); got != w {
			t.Fatalf("%s=%q want %q", k, got, w)
		}
	}
}

func TestFeatureInfoParams_Legacy(t *testing.T) {
	fi := FeatureInfo{
		Point:        orb.Point{0, 0},
		Resolution:   1,
		Projection:   "EPSG:26915",
		QueryLayers:  "roads",
		FeatureCount: 5,
		BaseParams:   map[string]string{"VERSION": "1.1.1"},
	}
	v := fi.Params()
	if v.Get("SRS") != "EPSG:26915" || v.Get("X") != "50" || v.Get("CRS") != "" {
		t.Fatalf("1.1.1 params wrong: %v", v)
	}
	if v.Get("LAYERS") != "roads" || v.Get("FEATURE_COUNT") != "5" {
		t.Fatalf("defaults wrong: %v", v)
	}
}
