package ogc

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// GetFeatureInfo renders a virtual image this many pixels square,
	// centred on the clicked point.
	InfoImageSize = 101

	DefaultInfoFormat = "application/vnd.ogc.gml"
	DefaultWMSVersion = "1.3.0"
)

// FeatureInfo describes a WMS GetFeatureInfo request around one point.
type FeatureInfo struct {
	Point        orb.Point
	Resolution   float64
	Projection   string
	QueryLayers  string
	FeatureCount int
	InfoFormat   string
	// BaseParams are the source's own WMS params; request params win.
	BaseParams map[string]string
}

// Params builds the GetFeatureInfo query string.
func (fi FeatureInfo) Params() url.Values {
	v := url.Values{}
	for k, val := range fi.BaseParams {
		v.Set(strings.ToUpper(k), val)
	}
	version := v.Get("VERSION")
	if version == "" {
		version = DefaultWMSVersion
	}
	infoFormat := fi.InfoFormat
	if infoFormat == "" {
		infoFormat = DefaultInfoFormat
	}
	count := fi.FeatureCount
	if count <= 0 {
		count = 1000
	}

	v.Set("SERVICE", "WMS")
	v.Set("VERSION", version)
	v.Set("REQUEST", "GetFeatureInfo")
	if v.Get("FORMAT") == "" {
		v.Set("FORMAT", "image/png")
	}
	if _, ok := v["STYLES"]; !ok {
		v.Set("STYLES", "")
	}
	if v.Get("TRANSPARENT") == "" {
		v.Set("TRANSPARENT", "true")
	}
	if v.Get("LAYERS") == "" {
		v.Set("LAYERS", fi.QueryLayers)
	}
	v.Set("QUERY_LAYERS", fi.QueryLayers)
	v.Set("INFO_FORMAT", infoFormat)
	v.Set("FEATURE_COUNT", strconv.Itoa(count))

	size := strconv.Itoa(InfoImageSize)
	v.Set("WIDTH", size)
	v.Set("HEIGHT", size)

	half := fi.Resolution * InfoImageSize / 2
	minx, miny := fi.Point[0]-half, fi.Point[1]-half
	maxx, maxy := fi.Point[0]+half, fi.Point[1]+half
	center := strconv.Itoa(InfoImageSize / 2)

	if version >= "1.3" {
		v.Set("CRS", fi.Projection)
		v.Set("I", center)
		v.Set("J", center)
		// 1.3.0 uses lat/lon axis order for geographic EPSG:4326
		if strings.EqualFold(fi.Projection, "EPSG:4326") {
			minx, miny, maxx, maxy = miny, minx, maxy, maxx
		}
	} else {
		v.Set("SRS", fi.Projection)
		v.Set("X", center)
		v.Set("Y", center)
	}
	v.Set("BBOX", strings.Join([]string{num(minx), num(miny), num(maxx), num(maxy)}, ","))
	return v
}
