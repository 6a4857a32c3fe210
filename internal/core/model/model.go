// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// SourceKind is the query protocol a map source speaks.
type SourceKind int

const (
	KindUnsupported SourceKind = iota
	KindTiledImage
	KindTiledImageInfo
	KindTransactionalVector
	KindInMemoryVector
	KindGenericFeature
)

func (k SourceKind) String() string {
	switch k {
	case KindTiledImage:
		return "tiled-image"
	case KindTiledImageInfo:
		return "tiled-image-info"
	case KindTransactionalVector:
		return "transactional-vector"
	case KindInMemoryVector:
		return "in-memory-vector"
	case KindGenericFeature:
		return "generic-feature"
	default:
		return "unsupported"
	}
}

// KindForType maps a mapbook source type onto its query protocol.
func KindForType(typ string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "wms":
		return KindTiledImageInfo
	case "wfs":
		return KindTransactionalVector
	case "ags", "ags-vector":
		return KindGenericFeature
	case "vector", "geojson":
		return KindInMemoryVector
	case "xyz", "bing", "tile", "ags-tiled":
		return KindTiledImage
	default:
		return KindUnsupported
	}
}

type Template struct {
	Highlight *bool `yaml:"highlight" json:"highlight,omitempty"`
}

type Layer struct {
	Name      string              `yaml:"name" json:"name"`
	On        bool                `yaml:"on" json:"on"`
	Filter    json.RawMessage     `yaml:"-" json:"filter,omitempty"`
	Templates map[string]Template `yaml:"templates" json:"templates,omitempty"`
}

// Highlights reports whether results of this layer take part in highlight
// rendering for the given service. Layers opt out per service.
func (l *Layer) Highlights(service string) bool {
	if l == nil || l.Templates == nil {
		return true
	}
	t, ok := l.Templates[service]
	if !ok || t.Highlight == nil {
		return true
	}
	return *t.Highlight
}

type Transform struct {
	Attribute string `yaml:"attribute" json:"attribute"`
	Op        string `yaml:"op" json:"op"`
	Arg       string `yaml:"arg" json:"arg,omitempty"`
}

type MapSource struct {
	Name       string            `yaml:"name" json:"name"`
	Type       string            `yaml:"type" json:"type"`
	URLs       []string          `yaml:"urls" json:"urls"`
	Params     map[string]string `yaml:"params" json:"params,omitempty"`
	Config     map[string]string `yaml:"config" json:"config,omitempty"`
	WGS84Hack  bool              `yaml:"wgs84-hack" json:"wgs84Hack,omitempty"`
	Transforms []Transform       `yaml:"transforms" json:"transforms,omitempty"`
	Layers     []Layer           `yaml:"-" json:"layers"`

	// in-memory sources only
	FeaturesFile string             `yaml:"features-file" json:"-"`
	Features     []*geojson.Feature `yaml:"-" json:"-"`
}

func (m *MapSource) Kind() SourceKind {
	return KindForType(m.Type)
}

func (m *MapSource) Layer(name string) *Layer {
	for i := range m.Layers {
		if m.Layers[i].Name == name {
			return &m.Layers[i]
		}
	}
	return nil
}

// Param returns a protocol parameter, matching the key case-insensitively.
func (m *MapSource) Param(key string) string {
	if v, ok := m.Params[key]; ok {
		return v
	}
	for k, v := range m.Params {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (m *MapSource) ConfigValue(key string) string {
	if m.Config == nil {
		return ""
	}
	return m.Config[key]
}

// MapView is the map state an adapter needs to build its request.
type MapView struct {
	Resolution float64 `json:"resolution"`
	Projection string  `json:"projection"`
}

func (v MapView) ProjectionOr(def string) string {
	if strings.TrimSpace(v.Projection) == "" {
		return def
	}
	return v.Projection
}

type RunOptions struct {
	ZoomToResults bool `json:"zoomToResults"`
	GridMinimized bool `json:"gridMinimized"`
}

// QueryDefinition is immutable once created; a new query replaces it wholesale.
type QueryDefinition struct {
	ServiceName string             `json:"serviceName"`
	Selection   []*geojson.Feature `json:"selection"`
	Fields      []json.RawMessage  `json:"fields"`
	Layers      []string           `json:"layers"`
	RunOptions  RunOptions         `json:"runOptions"`
}

// FirstGeometry returns the geometry of the first selection feature, or nil.
func (q *QueryDefinition) FirstGeometry() orb.Geometry {
	if q == nil || len(q.Selection) == 0 || q.Selection[0] == nil {
		return nil
	}
	return q.Selection[0].Geometry
}

// LayerResult is the per-layer outcome of one query.
type LayerResult struct {
	Features []*geojson.Feature
	Failed   bool
	Message  string
}

func (r LayerResult) MarshalJSON() ([]byte, error) {
	if r.Failed {
		return json.Marshal(struct {
			Failed         bool   `json:"failed"`
			FailureMessage string `json:"failureMessage"`
		}{true, r.Message})
	}
	feats := r.Features
	if feats == nil {
		feats = []*geojson.Feature{}
	}
	b, err := json.Marshal(feats)
	if err != nil {
		return nil, fmt.Errorf("marshal layer features: %w", err)
	}
	return b, nil
}

func (r *LayerResult) UnmarshalJSON(b []byte) error {
	trim := strings.TrimSpace(string(b))
	if strings.HasPrefix(trim, "{") {
		var f struct {
			Failed         bool   `json:"failed"`
			FailureMessage string `json:"failureMessage"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("parse failed layer entry: %w", err)
		}
		*r = LayerResult{Failed: f.Failed, Message: f.FailureMessage}
		return nil
	}
	var feats []*geojson.Feature
	if err := json.Unmarshal(b, &feats); err != nil {
		return fmt.Errorf("parse layer features: %w", err)
	}
	*r = LayerResult{Features: feats}
	return nil
}

// ResultSet maps layer paths to results. Layers keeps the order of the
// query's layer list so derived views are deterministic.
type ResultSet struct {
	Layers  []string
	ByLayer map[string]LayerResult
}

func NewResultSet(layers []string) ResultSet {
	return ResultSet{
		Layers:  append([]string(nil), layers...),
		ByLayer: make(map[string]LayerResult, len(layers)),
	}
}

// Complete reports whether every layer has an entry.
func (rs ResultSet) Complete() bool {
	for _, l := range rs.Layers {
		if _, ok := rs.ByLayer[l]; !ok {
			return false
		}
	}
	return true
}

func (rs ResultSet) Empty() bool {
	return len(rs.ByLayer) == 0
}

func (rs ResultSet) MarshalJSON() ([]byte, error) {
	if rs.ByLayer == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(rs.ByLayer)
	if err != nil {
		return nil, fmt.Errorf("marshal result set: %w", err)
	}
	return b, nil
}
