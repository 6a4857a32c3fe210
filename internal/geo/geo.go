// Package geo holds the geometry helpers used by the query adapters.
//
// Geometries are exchanged in the map projection (EPSG:3857 unless the view
// says otherwise). Sources flagged with the WGS84 hint are queried in
// EPSG:4326 and their results are projected back before merging.
package geo

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

const (
	EPSG3857 = "EPSG:3857"
	EPSG4326 = "EPSG:4326"
)

// SquareBuffer returns a square polygon of the given width centred on pt.
func SquareBuffer(pt orb.Point, width float64) orb.Polygon {
	h := width / 2
	return orb.Polygon{orb.Ring{
		{pt[0] - h, pt[1] - h},
		{pt[0] - h, pt[1] + h},
		{pt[0] + h, pt[1] + h},
		{pt[0] + h, pt[1] - h},
		{pt[0] - h, pt[1] - h},
	}}
}

// ApplyPixelTolerance converts a point selection into a square of
// px*resolution ground units. Other geometries are returned unchanged.
func ApplyPixelTolerance(f *geojson.Feature, px, resolution float64) *geojson.Feature {
	if f == nil || px <= 0 || resolution <= 0 {
		return f
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return f
	}
	out := geojson.NewFeature(SquareBuffer(pt, px*resolution))
	for k, v := range f.Properties {
		out.Properties[k] = v
	}
	return out
}

// NormalizeSelection merges the one-coordinate MultiPoint features a drawing
// tool emits into a single MultiPoint selection feature.
func NormalizeSelection(sel []*geojson.Feature) []*geojson.Feature {
	if len(sel) == 0 || sel[0] == nil {
		return sel
	}
	if _, ok := sel[0].Geometry.(orb.MultiPoint); !ok {
		return sel
	}
	var all orb.MultiPoint
	for _, f := range sel {
		if mp, ok := f.Geometry.(orb.MultiPoint); ok && len(mp) > 0 {
			all = append(all, mp[0])
		}
	}
	return []*geojson.Feature{geojson.NewFeature(all)}
}

// BoundedBy returns [minx, miny, maxx, maxy] for g.
func BoundedBy(g orb.Geometry) []float64 {
	if g == nil {
		return nil
	}
	b := g.Bound()
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// Reproject converts g between EPSG:3857 and EPSG:4326. Unknown or equal
// projections return g unchanged. The input is never modified.
func Reproject(g orb.Geometry, from, to string) orb.Geometry {
	if g == nil {
		return nil
	}
	from, to = normalizeCode(from), normalizeCode(to)
	if from == to {
		return g
	}
	var p orb.Projection
	switch {
	case from == EPSG3857 && to == EPSG4326:
		p = project.Mercator.ToWGS84
	case from == EPSG4326 && to == EPSG3857:
		p = project.WGS84.ToMercator
	default:
		return g
	}
	return project.Geometry(orb.Clone(g), p)
}

// ReprojectFeatures projects every feature geometry in place.
func ReprojectFeatures(feats []*geojson.Feature, from, to string) {
	for _, f := range feats {
		if f != nil && f.Geometry != nil {
			f.Geometry = Reproject(f.Geometry, from, to)
		}
	}
}

func normalizeCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch c {
	case "EPSG:900913", "EPSG:102100", "EPSG:102113", "EPSG:3785":
		return EPSG3857
	case "CRS:84", "WGS84", "URN:OGC:DEF:CRS:EPSG::4326":
		return EPSG4326
	}
	return c
}
