package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const eps = 1e-9

type parts struct {
	points []orb.Point
	lines  []orb.LineString
	polys  []orb.Polygon
}

func decompose(g orb.Geometry, p *parts) {
	switch t := g.(type) {
	case orb.Point:
		p.points = append(p.points, t)
	case orb.MultiPoint:
		p.points = append(p.points, t...)
	case orb.LineString:
		p.lines = append(p.lines, t)
	case orb.MultiLineString:
		p.lines = append(p.lines, t...)
	case orb.Ring:
		p.polys = append(p.polys, orb.Polygon{t})
	case orb.Polygon:
		p.polys = append(p.polys, t)
	case orb.MultiPolygon:
		p.polys = append(p.polys, t...)
	case orb.Bound:
		p.polys = append(p.polys, t.ToPolygon())
	case orb.Collection:
		for _, c := range t {
			decompose(c, p)
		}
	}
}

// Intersects reports whether a and b share at least one point (the negation
// of disjoint). Nil geometries never intersect.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !expand(a.Bound()).Intersects(b.Bound()) {
		return false
	}
	var pa, pb parts
	decompose(a, &pa)
	decompose(b, &pb)
	return partsIntersect(pa, pb) || partsIntersect(pb, pa)
}

func expand(b orb.Bound) orb.Bound {
	return orb.Bound{Min: orb.Point{b.Min[0] - eps, b.Min[1] - eps}, Max: orb.Point{b.Max[0] + eps, b.Max[1] + eps}}
}

// checks a's points and lines against everything in b, and a's polygons
// against b's polygons; the symmetric call covers the rest.
func partsIntersect(a, b parts) bool {
	for _, pt := range a.points {
		for _, q := range b.points {
			if samePoint(pt, q) {
				return true
			}
		}
		for _, ls := range b.lines {
			if pointOnLine(pt, ls) {
				return true
			}
		}
		for _, poly := range b.polys {
			if pointInPolygon(pt, poly) {
				return true
			}
		}
	}
	for _, ls := range a.lines {
		for _, other := range b.lines {
			if linesCross(ls, other) {
				return true
			}
		}
		for _, poly := range b.polys {
			if lineTouchesPolygon(ls, poly) {
				return true
			}
		}
	}
	for _, poly := range a.polys {
		for _, other := range b.polys {
			if polygonsTouch(poly, other) {
				return true
			}
		}
	}
	return false
}

func samePoint(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) <= eps && math.Abs(a[1]-b[1]) <= eps
}

func pointInPolygon(pt orb.Point, poly orb.Polygon) bool {
	if len(poly) == 0 {
		return false
	}
	for _, r := range poly {
		if pointOnLine(pt, orb.LineString(r)) {
			return true
		}
	}
	return planar.PolygonContains(poly, pt)
}

func pointOnLine(pt orb.Point, ls orb.LineString) bool {
	if len(ls) == 1 {
		return samePoint(pt, ls[0])
	}
	for i := 1; i < len(ls); i++ {
		if onSegment(ls[i-1], ls[i], pt) {
			return true
		}
	}
	return false
}

func linesCross(a, b orb.LineString) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if segmentsIntersect(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	if len(a) == 1 {
		return pointOnLine(a[0], b)
	}
	if len(b) == 1 {
		return pointOnLine(b[0], a)
	}
	return false
}

func lineTouchesPolygon(ls orb.LineString, poly orb.Polygon) bool {
	for _, pt := range ls {
		if pointInPolygon(pt, poly) {
			return true
		}
	}
	for _, r := range poly {
		if linesCross(ls, orb.LineString(r)) {
			return true
		}
	}
	return false
}

func polygonsTouch(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, ra := range a {
		for _, rb := range b {
			if linesCross(orb.LineString(ra), orb.LineString(rb)) {
				return true
			}
		}
	}
	// no boundary crossings: one is inside the other or they are disjoint
	if len(a[0]) > 0 && pointInPolygon(a[0][0], b) {
		return true
	}
	if len(b[0]) > 0 && pointInPolygon(b[0][0], a) {
		return true
	}
	return false
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func orientation(o, a, b orb.Point) int {
	c := cross(o, a, b)
	switch {
	case c > eps:
		return 1
	case c < -eps:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p orb.Point) bool {
	if orientation(a, b, p) != 0 {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-eps && p[0] <= math.Max(a[0], b[0])+eps &&
		p[1] >= math.Min(a[1], b[1])-eps && p[1] <= math.Max(a[1], b[1])+eps
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, p2, q1)) ||
		(o2 == 0 && onSegment(p1, p2, q2)) ||
		(o3 == 0 && onSegment(q1, q2, p1)) ||
		(o4 == 0 && onSegment(q1, q2, p2))
}
