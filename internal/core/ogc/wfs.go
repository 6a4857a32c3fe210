package ogc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	nsWFS = "http://www.opengis.net/wfs"
	nsOGC = "http://www.opengis.net/ogc"
	nsGML = "http://www.opengis.net/gml"
	nsXSI = "http://www.w3.org/2001/XMLSchema-instance"

	wfsSchemaLocation = "http://www.opengis.net/wfs http://schemas.opengis.net/wfs/1.1.0/wfs.xsd"

	DefaultWFSOutputFormat = "text/xml; subtype=gml/2.1.2"
)

// Filter is one element of an OGC filter-encoding tree.
type Filter interface {
	writeXML(b *strings.Builder) error
}

// Comparison is a binary PropertyIs* operator, e.g. PropertyIsEqualTo.
type Comparison struct {
	Op       string
	Property string
	Literal  string
}

func (c Comparison) writeXML(b *strings.Builder) error {
	if c.Op == "" || c.Property == "" {
		return errors.New("comparison needs an operator and a property")
	}
	fmt.Fprintf(b, "<%s><PropertyName>%s</PropertyName><Literal>%s</Literal></%s>",
		c.Op, escape(c.Property), escape(c.Literal), c.Op)
	return nil
}

// Like is PropertyIsLike. MatchCase nil omits the attribute.
type Like struct {
	Property   string
	Pattern    string
	WildCard   string
	SingleChar string
	EscapeChar string
	MatchCase  *bool
}

func (l Like) writeXML(b *strings.Builder) error {
	if l.Property == "" {
		return errors.New("like needs a property")
	}
	fmt.Fprintf(b, `<PropertyIsLike wildCard="%s" singleChar="%s" escapeChar="%s"`,
		escape(l.WildCard), escape(l.SingleChar), escape(l.EscapeChar))
	if l.MatchCase != nil {
		fmt.Fprintf(b, ` matchCase="%t"`, *l.MatchCase)
	}
	fmt.Fprintf(b, "><PropertyName>%s</PropertyName><Literal>%s</Literal></PropertyIsLike>",
		escape(l.Property), escape(l.Pattern))
	return nil
}

// Logical is a binary And/Or. Use Chain to fold longer lists.
type Logical struct {
	Op    string
	Left  Filter
	Right Filter
}

func (l Logical) writeXML(b *strings.Builder) error {
	b.WriteString("<" + l.Op + ">")
	if err := l.Left.writeXML(b); err != nil {
		return err
	}
	if err := l.Right.writeXML(b); err != nil {
		return err
	}
	b.WriteString("</" + l.Op + ">")
	return nil
}

// Chain folds filters left to right into nested binary operators:
// Chain("And", a, b, c) == And(And(a, b), c). A single filter is returned
// as is; an empty list yields nil.
func Chain(op string, filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	}
	out := Filter(Logical{Op: op, Left: filters[0], Right: filters[1]})
	for _, f := range filters[2:] {
		out = Logical{Op: op, Left: out, Right: f}
	}
	return out
}

// Intersects is a spatial filter against a GML3 geometry literal.
type Intersects struct {
	Property string
	Geometry orb.Geometry
	SRSName  string
}

func (i Intersects) writeXML(b *strings.Builder) error {
	b.WriteString("<Intersects><PropertyName>" + escape(i.Property) + "</PropertyName>")
	if err := writeGML3(b, i.Geometry, i.SRSName); err != nil {
		return err
	}
	b.WriteString("</Intersects>")
	return nil
}

// GetFeature is a WFS 1.1.0 GetFeature request for one feature type.
type GetFeature struct {
	TypeName     string
	SRSName      string
	OutputFormat string
	Filter       Filter
}

// Encode renders the request document.
func (g GetFeature) Encode() ([]byte, error) {
	if strings.TrimSpace(g.TypeName) == "" {
		return nil, errors.New("wfs getfeature: typename is required")
	}
	of := g.OutputFormat
	if of == "" {
		of = DefaultWFSOutputFormat
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<GetFeature xmlns="%s" service="WFS" version="1.1.0" outputFormat="%s" xmlns:gml="%s" xmlns:xsi="%s" xsi:schemaLocation="%s">`,
		nsWFS, escape(of), nsGML, nsXSI, wfsSchemaLocation)

	fmt.Fprintf(&b, `<Query typeName="%s"`, escape(g.TypeName))
	if g.SRSName != "" {
		fmt.Fprintf(&b, ` srsName="%s"`, escape(g.SRSName))
	}
	b.WriteString(">")
	if g.Filter != nil {
		fmt.Fprintf(&b, `<Filter xmlns="%s">`, nsOGC)
		if err := g.Filter.writeXML(&b); err != nil {
			return nil, fmt.Errorf("wfs getfeature filter: %w", err)
		}
		b.WriteString("</Filter>")
	}
	b.WriteString("</Query></GetFeature>")
	return []byte(b.String()), nil
}

func writeGML3(b *strings.Builder, g orb.Geometry, srs string) error {
	attr := ""
	if srs != "" {
		attr = ` srsName="` + escape(srs) + `"`
	}
	switch t := g.(type) {
	case orb.Point:
		b.WriteString("<gml:Point" + attr + `><gml:pos srsDimension="2">` + pos(t) + "</gml:pos></gml:Point>")
	case orb.LineString:
		b.WriteString("<gml:LineString" + attr + ">" + posList(t) + "</gml:LineString>")
	case orb.Polygon:
		writePolygon(b, t, attr)
	case orb.Bound:
		writePolygon(b, t.ToPolygon(), attr)
	case orb.MultiPoint:
		b.WriteString("<gml:MultiPoint" + attr + ">")
		for _, p := range t {
			b.WriteString(`<gml:pointMember><gml:Point><gml:pos srsDimension="2">` + pos(p) + "</gml:pos></gml:Point></gml:pointMember>")
		}
		b.WriteString("</gml:MultiPoint>")
	case orb.MultiLineString:
		b.WriteString("<gml:MultiCurve" + attr + ">")
		for _, ls := range t {
			b.WriteString("<gml:curveMember><gml:LineString>" + posList(ls) + "</gml:LineString></gml:curveMember>")
		}
		b.WriteString("</gml:MultiCurve>")
	case orb.MultiPolygon:
		b.WriteString("<gml:MultiSurface" + attr + ">")
		for _, p := range t {
			b.WriteString("<gml:surfaceMember>")
			writePolygon(b, p, "")
			b.WriteString("</gml:surfaceMember>")
		}
		b.WriteString("</gml:MultiSurface>")
	default:
		return fmt.Errorf("unsupported geometry %T", g)
	}
	return nil
}

func writePolygon(b *strings.Builder, p orb.Polygon, attr string) {
	b.WriteString("<gml:Polygon" + attr + ">")
	for i, r := range p {
		tag := "gml:interior"
		if i == 0 {
			tag = "gml:exterior"
		}
		b.WriteString("<" + tag + "><gml:LinearRing>" + posList(orb.LineString(r)) + "</gml:LinearRing></" + tag + ">")
	}
	b.WriteString("</gml:Polygon>")
}

func pos(p orb.Point) string {
	return num(p[0]) + " " + num(p[1])
}

func posList(ls orb.LineString) string {
	parts := make([]string, 0, len(ls))
	for _, p := range ls {
		parts = append(parts, pos(p))
	}
	return `<gml:posList srsDimension="2">` + strings.Join(parts, " ") + "</gml:posList>"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
