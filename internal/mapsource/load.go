package mapsource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

type mapbookDoc struct {
	Sources []sourceDoc `yaml:"map-sources"`
}

type sourceDoc struct {
	model.MapSource `yaml:",inline"`
	Layers          []layerDoc `yaml:"layers"`
}

type layerDoc struct {
	model.Layer `yaml:",inline"`
	Filter      any `yaml:"filter"`
}

// Load reads a mapbook file and builds a registry from it. features-file
// paths are resolved relative to the mapbook.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading mapbook: %w", err)
	}
	sources, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("loading mapbook: %w", err)
	}
	reg, err := NewRegistry(sources)
	if err != nil {
		return nil, fmt.Errorf("loading mapbook: %w", err)
	}
	return reg, nil
}

// Parse decodes mapbook YAML. baseDir anchors relative features-file paths.
func Parse(data []byte, baseDir string) ([]*model.MapSource, error) {
	var doc mapbookDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode mapbook: %w", err)
	}
	out := make([]*model.MapSource, 0, len(doc.Sources))
	for _, sd := range doc.Sources {
		src := sd.MapSource
		src.Layers = make([]model.Layer, 0, len(sd.Layers))
		for _, ld := range sd.Layers {
			l := ld.Layer
			if ld.Filter != nil {
				b, err := json.Marshal(ld.Filter)
				if err != nil {
					return nil, fmt.Errorf("map source %s layer %s: encode filter: %w", src.Name, l.Name, err)
				}
				l.Filter = b
			}
			src.Layers = append(src.Layers, l)
		}
		if src.FeaturesFile != "" {
			p := src.FeaturesFile
			if !filepath.IsAbs(p) && baseDir != "" {
				p = filepath.Join(baseDir, p)
			}
			feats, err := readFeatures(p)
			if err != nil {
				return nil, fmt.Errorf("map source %s: %w", src.Name, err)
			}
			src.Features = feats
		}
		out = append(out, &src)
	}
	return out, nil
}

func readFeatures(path string) ([]*geojson.Feature, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parse features %s: %w", path, err)
	}
	return fc.Features, nil
}

// Validate checks a decoded mapbook for structural problems.
func Validate(sources []*model.MapSource) error {
	seen := make(map[string]struct{}, len(sources))
	for i, s := range sources {
		if s == nil || strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("map source %d name is required", i)
		}
		if strings.Contains(s.Name, "/") {
			return fmt.Errorf("map source name %q must not contain '/'", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate map source name: %s", s.Name)
		}
		seen[s.Name] = struct{}{}
		if len(s.Layers) == 0 {
			return fmt.Errorf("map source %s needs at least one layer", s.Name)
		}
		for j, l := range s.Layers {
			if strings.TrimSpace(l.Name) == "" {
				return fmt.Errorf("map source %s layer %d name is required", s.Name, j)
			}
		}
		switch s.Kind() {
		case model.KindTiledImageInfo, model.KindTransactionalVector, model.KindGenericFeature:
			if len(s.URLs) == 0 || strings.TrimSpace(s.URLs[0]) == "" {
				return fmt.Errorf("map source %s (%s) needs a url", s.Name, s.Type)
			}
		}
		if s.Kind() == model.KindTransactionalVector && s.Param("typename") == "" && s.ConfigValue("typename") == "" {
			return fmt.Errorf("map source %s: wfs sources need a typename", s.Name)
		}
		for _, t := range s.Transforms {
			if err := checkTransform(t); err != nil {
				return fmt.Errorf("map source %s: %w", s.Name, err)
			}
		}
	}
	return nil
}
