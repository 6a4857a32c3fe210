package keys

import (
	"encoding/json"
	"regexp"
	"testing"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

func query(fields ...string) *model.QueryDefinition {
	q := &model.QueryDefinition{
		Selection: []*geojson.Feature{geojson.NewFeature(orb.Point{10, 20})},
	}
	for _, f := range fields {
		q.Fields = append(q.Fields, json.RawMessage(f))
	}
	return q
}

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	view := model.MapView{Resolution: 4.77, Projection: "EPSG:3857"}
	k1 := LayerResult("parcels/parcels", 3, Fingerprint(query(`{"name":"OWNER","value":"x"}`), view))
	k2 := LayerResult("parcels/parcels", 3, Fingerprint(query(`{"name":"OWNER","value":"x"}`), view))
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_FieldKeyOrderAndProjectionCase(t *testing.T) {
	a := Fingerprint(query(`{"name":"OWNER","value":"x","comparitor":"like"}`), model.MapView{Resolution: 2, Projection: "epsg:3857"})
	b := Fingerprint(query(`{ "comparitor":"like", "value":"x", "name":"OWNER" }`), model.MapView{Resolution: 2, Projection: " EPSG:3857 "})
	if a != b {
		t.Fatalf("equivalent queries should share a fingerprint: %x vs %x", a, b)
	}
}

func TestDifference(t *testing.T) {
	view := model.MapView{Resolution: 2, Projection: "EPSG:3857"}
	base := Fingerprint(query(`{"name":"a","value":1}`, `{"name":"b","value":2}`), view)

	cases := []struct {
		name string
		fp   uint64
	}{
		{"field order", Fingerprint(query(`{"name":"b","value":2}`, `{"name":"a","value":1}`), view)},
		{"resolution", Fingerprint(query(`{"name":"a","value":1}`, `{"name":"b","value":2}`), model.MapView{Resolution: 4, Projection: "EPSG:3857"})},
		{"selection", Fingerprint(&model.QueryDefinition{
			Selection: []*geojson.Feature{geojson.NewFeature(orb.Point{11, 20})},
			Fields:    query(`{"name":"a","value":1}`, `{"name":"b","value":2}`).Fields,
		}, view)},
	}
	for _, tc := range cases {
		if tc.fp == base {
			t.Fatalf("%s change must change the fingerprint", tc.name)
		}
	}
	if LayerResult("s/l", 1, base) == LayerResult("s/l", 2, base) {
		t.Fatalf("revision must be part of the key")
	}
}

func TestKeyShape(t *testing.T) {
	k := LayerResult(" Göteborg parcels/l:1 ", 7, 0xabc)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !regexp.MustCompile(`^mq:layer:[A-Za-z0-9/_.\-]+:r7:q=0000000000000abc$`).MatchString(k) {
		t.Fatalf("unexpected key shape: %s", k)
	}
	if got := LayerIndex("parcels/parcels"); got != "mq:index:parcels/parcels" {
		t.Fatalf("index key %s", got)
	}
}

func TestFingerprint_NilQuery(t *testing.T) {
	view := model.MapView{Resolution: 1}
	if Fingerprint(nil, view) != Fingerprint(&model.QueryDefinition{}, view) {
		t.Fatalf("nil and empty query should hash alike")
	}
}
