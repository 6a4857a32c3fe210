package ags

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// esriGeometry is the union of the ArcGIS REST geometry encodings.
type esriGeometry struct {
	X      *float64       `json:"x,omitempty"`
	Y      *float64       `json:"y,omitempty"`
	Points [][]float64    `json:"points,omitempty"`
	Paths  [][][]float64  `json:"paths,omitempty"`
	Rings  [][][]float64  `json:"rings,omitempty"`
	XMin   *float64       `json:"xmin,omitempty"`
	YMin   *float64       `json:"ymin,omitempty"`
	XMax   *float64       `json:"xmax,omitempty"`
	YMax   *float64       `json:"ymax,omitempty"`
	SR     map[string]any `json:"spatialReference,omitempty"`
}

type esriFeature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *esriGeometry  `json:"geometry"`
}

type esriError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// queryResponse covers both the feature and the returnIdsOnly replies.
type queryResponse struct {
	Error     *esriError    `json:"error"`
	Features  []esriFeature `json:"features"`
	ObjectIDs []json.Number `json:"objectIds"`
}

func (e *esriError) message() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("ArcGIS error %d", e.Code)
	}
	for _, d := range e.Details {
		if d != "" {
			msg += ": " + d
		}
	}
	return msg
}

// geometryType names the esriGeometry* constant for g.
func geometryType(g orb.Geometry) (string, bool) {
	switch g.(type) {
	case orb.Point:
		return "esriGeometryPoint", true
	case orb.MultiPoint:
		return "esriGeometryMultipoint", true
	case orb.LineString, orb.MultiLineString:
		return "esriGeometryPolyline", true
	case orb.Polygon, orb.MultiPolygon, orb.Bound:
		return "esriGeometryPolygon", true
	}
	return "", false
}

func coords(pts []orb.Point) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

// toEsri encodes a selection geometry for the geometry query parameter.
func toEsri(g orb.Geometry, wkid int) (*esriGeometry, error) {
	sr := map[string]any{"wkid": wkid}
	switch t := g.(type) {
	case orb.Point:
		x, y := t[0], t[1]
		return &esriGeometry{X: &x, Y: &y, SR: sr}, nil
	case orb.MultiPoint:
		return &esriGeometry{Points: coords(t), SR: sr}, nil
	case orb.LineString:
		return &esriGeometry{Paths: [][][]float64{coords(t)}, SR: sr}, nil
	case orb.MultiLineString:
		paths := make([][][]float64, len(t))
		for i, ls := range t {
			paths[i] = coords(ls)
		}
		return &esriGeometry{Paths: paths, SR: sr}, nil
	case orb.Polygon:
		return &esriGeometry{Rings: polygonRings(t), SR: sr}, nil
	case orb.MultiPolygon:
		var rings [][][]float64
		for _, p := range t {
			rings = append(rings, polygonRings(p)...)
		}
		return &esriGeometry{Rings: rings, SR: sr}, nil
	case orb.Bound:
		return &esriGeometry{Rings: polygonRings(t.ToPolygon()), SR: sr}, nil
	}
	return nil, fmt.Errorf("geometry %T cannot be sent to ArcGIS", g)
}

// ArcGIS wants outer rings clockwise and holes counter-clockwise.
func polygonRings(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p))
	for i, r := range p {
		cw := signedArea(r) < 0
		if (i == 0) != cw {
			r = reversed(r)
		}
		out = append(out, coords(r))
	}
	return out
}

func signedArea(r orb.Ring) float64 {
	var s float64
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

func points(raw [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(raw))
	for _, c := range raw {
		if len(c) < 2 {
			return nil, errors.New("coordinate needs x and y")
		}
		out = append(out, orb.Point{c[0], c[1]})
	}
	return out, nil
}

// fromEsri decodes an ArcGIS geometry. Rings are grouped into polygons by
// winding: a clockwise ring starts a polygon, counter-clockwise rings are
// holes of the preceding one.
func fromEsri(g *esriGeometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	switch {
	case g.X != nil && g.Y != nil:
		return orb.Point{*g.X, *g.Y}, nil
	case g.Points != nil:
		pts, err := points(g.Points)
		return orb.MultiPoint(pts), err
	case g.Paths != nil:
		ml := make(orb.MultiLineString, 0, len(g.Paths))
		for _, p := range g.Paths {
			pts, err := points(p)
			if err != nil {
				return nil, err
			}
			ml = append(ml, orb.LineString(pts))
		}
		if len(ml) == 1 {
			return ml[0], nil
		}
		return ml, nil
	case g.Rings != nil:
		var mp orb.MultiPolygon
		for _, raw := range g.Rings {
			pts, err := points(raw)
			if err != nil {
				return nil, err
			}
			if len(pts) == 0 {
				continue
			}
			if pts[0] != pts[len(pts)-1] {
				pts = append(pts, pts[0])
			}
			ring := orb.Ring(pts)
			if signedArea(ring) < 0 || len(mp) == 0 {
				mp = append(mp, orb.Polygon{ring})
			} else {
				mp[len(mp)-1] = append(mp[len(mp)-1], ring)
			}
		}
		if len(mp) == 1 {
			return mp[0], nil
		}
		return mp, nil
	case g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil:
		return orb.Bound{Min: orb.Point{*g.XMin, *g.YMin}, Max: orb.Point{*g.XMax, *g.YMax}}.ToPolygon(), nil
	}
	return nil, nil
}

func toFeatures(in []esriFeature) ([]*geojson.Feature, error) {
	out := make([]*geojson.Feature, 0, len(in))
	for _, ef := range in {
		g, err := fromEsri(ef.Geometry)
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(g)
		for k, v := range ef.Attributes {
			f.Properties[k] = v
		}
		out = append(out, f)
	}
	return out, nil
}
