package ogc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// node is a namespace-agnostic XML element.
type node struct {
	Name  string
	Attrs map[string]string
	Kids  []*node
	Text  string
}

func (n *node) child(names ...string) *node {
	for _, k := range n.Kids {
		for _, name := range names {
			if k.Name == name {
				return k
			}
		}
	}
	return nil
}

func (n *node) children(names ...string) []*node {
	var out []*node
	for _, k := range n.Kids {
		for _, name := range names {
			if k.Name == name {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

func (n *node) allText() string {
	var b strings.Builder
	var walk func(*node)
	walk = func(x *node) {
		b.WriteString(x.Text)
		for _, k := range x.Kids {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}

func parseTree(body []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{Name: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Kids = append(parent.Kids, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("parse xml: no root element")
	}
	return root, nil
}

// ReadGML parses a GML2/GML3 FeatureCollection or a MapServer msGMLOutput
// document into GeoJSON features.
func ReadGML(body []byte) ([]*geojson.Feature, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty gml document")
	}
	root, err := parseTree(body)
	if err != nil {
		return nil, err
	}
	feats := []*geojson.Feature{}
	switch {
	case root.Name == "msGMLOutput":
		for _, layer := range root.Kids {
			if !strings.HasSuffix(layer.Name, "_layer") {
				continue
			}
			for _, f := range layer.Kids {
				if strings.HasSuffix(f.Name, "_feature") {
					feats = append(feats, readFeature(f))
				}
			}
		}
	case root.Name == "FeatureCollection":
		for _, m := range root.Kids {
			if m.Name != "featureMember" && m.Name != "featureMembers" {
				continue
			}
			for _, f := range m.Kids {
				feats = append(feats, readFeature(f))
			}
		}
	default:
		return nil, fmt.Errorf("unexpected gml root %q", root.Name)
	}
	return feats, nil
}

func readFeature(el *node) *geojson.Feature {
	f := geojson.NewFeature(nil)
	if id, ok := el.Attrs["fid"]; ok && id != "" {
		f.ID = id
	} else if id, ok := el.Attrs["id"]; ok && id != "" {
		f.ID = id
	}
	for _, prop := range el.Kids {
		if prop.Name == "boundedBy" {
			continue
		}
		if len(prop.Kids) == 1 && isGeometry(prop.Kids[0].Name) {
			if g, err := readGeometry(prop.Kids[0]); err == nil && f.Geometry == nil {
				f.Geometry = g
				continue
			}
		}
		if len(prop.Kids) == 0 {
			f.Properties[prop.Name] = strings.TrimSpace(prop.Text)
		}
	}
	return f
}

var geometryNames = map[string]bool{
	"Point": true, "LineString": true, "LinearRing": true, "Polygon": true,
	"MultiPoint": true, "MultiLineString": true, "MultiCurve": true,
	"MultiPolygon": true, "MultiSurface": true, "Box": true, "Envelope": true,
	"Curve": true, "Surface": true,
}

func isGeometry(name string) bool { return geometryNames[name] }

func readGeometry(n *node) (orb.Geometry, error) {
	switch n.Name {
	case "Point":
		pts, err := readCoords(n)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			return nil, errors.New("point without coordinates")
		}
		return pts[0], nil
	case "LineString", "Curve":
		pts, err := readCoords(n)
		if err != nil {
			return nil, err
		}
		return orb.LineString(pts), nil
	case "LinearRing":
		pts, err := readCoords(n)
		if err != nil {
			return nil, err
		}
		return orb.Polygon{orb.Ring(pts)}, nil
	case "Polygon", "Surface":
		return readPolygon(n)
	case "Box", "Envelope":
		pts, err := readCoords(n)
		if err != nil {
			return nil, err
		}
		if len(pts) < 2 {
			return nil, errors.New("envelope needs two corners")
		}
		return orb.MultiPoint(pts).Bound().ToPolygon(), nil
	case "MultiPoint":
		var mp orb.MultiPoint
		for _, m := range members(n, "pointMember", "pointMembers") {
			g, err := readGeometry(m)
			if err != nil {
				return nil, err
			}
			if p, ok := g.(orb.Point); ok {
				mp = append(mp, p)
			}
		}
		return mp, nil
	case "MultiLineString", "MultiCurve":
		var ml orb.MultiLineString
		for _, m := range members(n, "lineStringMember", "curveMember", "curveMembers") {
			g, err := readGeometry(m)
			if err != nil {
				return nil, err
			}
			if ls, ok := g.(orb.LineString); ok {
				ml = append(ml, ls)
			}
		}
		return ml, nil
	case "MultiPolygon", "MultiSurface":
		var mp orb.MultiPolygon
		for _, m := range members(n, "polygonMember", "surfaceMember", "surfaceMembers") {
			g, err := readGeometry(m)
			if err != nil {
				return nil, err
			}
			if p, ok := g.(orb.Polygon); ok {
				mp = append(mp, p)
			}
		}
		return mp, nil
	}
	return nil, fmt.Errorf("unsupported gml geometry %q", n.Name)
}

// members returns the geometry elements wrapped by the named member tags.
func members(n *node, tags ...string) []*node {
	var out []*node
	for _, m := range n.children(tags...) {
		for _, k := range m.Kids {
			if isGeometry(k.Name) {
				out = append(out, k)
			}
		}
	}
	return out
}

func readPolygon(n *node) (orb.Geometry, error) {
	var poly orb.Polygon
	for _, b := range n.Kids {
		switch b.Name {
		case "outerBoundaryIs", "exterior", "innerBoundaryIs", "interior":
		default:
			continue
		}
		ring := b.child("LinearRing")
		if ring == nil {
			continue
		}
		pts, err := readCoords(ring)
		if err != nil {
			return nil, err
		}
		if b.Name == "outerBoundaryIs" || b.Name == "exterior" {
			poly = append(orb.Polygon{orb.Ring(pts)}, poly...)
		} else {
			poly = append(poly, orb.Ring(pts))
		}
	}
	if len(poly) == 0 {
		return nil, errors.New("polygon without rings")
	}
	return poly, nil
}

// readCoords understands gml:coordinates, gml:coord, gml:pos, gml:posList
// and lowerCorner/upperCorner.
func readCoords(n *node) ([]orb.Point, error) {
	if c := n.child("coordinates"); c != nil {
		return parseCoordinates(c)
	}
	if pl := n.child("posList"); pl != nil {
		dim := 2
		if d, err := strconv.Atoi(pl.Attrs["srsDimension"]); err == nil && d > 0 {
			dim = d
		}
		return parseFlat(pl.Text, dim)
	}
	var pts []orb.Point
	for _, k := range n.Kids {
		switch k.Name {
		case "pos", "lowerCorner", "upperCorner":
			p, err := parseFlat(k.Text, 0)
			if err != nil {
				return nil, err
			}
			pts = append(pts, p...)
		case "coord":
			x, errX := strconv.ParseFloat(strings.TrimSpace(textOf(k.child("X"))), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(textOf(k.child("Y"))), 64)
			if errX != nil || errY != nil {
				return nil, errors.New("bad gml:coord")
			}
			pts = append(pts, orb.Point{x, y})
		}
	}
	return pts, nil
}

func textOf(n *node) string {
	if n == nil {
		return ""
	}
	return n.Text
}

func parseCoordinates(c *node) ([]orb.Point, error) {
	cs := c.Attrs["cs"]
	if cs == "" {
		cs = ","
	}
	ts := c.Attrs["ts"]
	dec := c.Attrs["decimal"]
	text := strings.TrimSpace(c.Text)
	var tuples []string
	if ts == "" || strings.TrimSpace(ts) == "" {
		tuples = strings.Fields(text)
	} else {
		tuples = strings.Split(text, ts)
	}
	pts := make([]orb.Point, 0, len(tuples))
	for _, tup := range tuples {
		tup = strings.TrimSpace(tup)
		if tup == "" {
			continue
		}
		if dec != "" && dec != "." {
			tup = strings.ReplaceAll(tup, dec, ".")
		}
		parts := strings.Split(tup, cs)
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate tuple %q", tup)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("bad coordinate tuple %q", tup)
		}
		pts = append(pts, orb.Point{x, y})
	}
	return pts, nil
}

// parseFlat reads whitespace-separated numbers in groups of dim. dim 0
// means a single position of any dimension.
func parseFlat(text string, dim int) ([]orb.Point, error) {
	fields := strings.Fields(text)
	nums := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		nums = append(nums, v)
	}
	if dim == 0 {
		if len(nums) < 2 {
			return nil, errors.New("position needs two numbers")
		}
		return []orb.Point{{nums[0], nums[1]}}, nil
	}
	if dim < 2 || len(nums)%dim != 0 {
		return nil, fmt.Errorf("posList of %d values is not a multiple of %d", len(nums), dim)
	}
	pts := make([]orb.Point, 0, len(nums)/dim)
	for i := 0; i < len(nums); i += dim {
		pts = append(pts, orb.Point{nums[i], nums[i+1]})
	}
	return pts, nil
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
