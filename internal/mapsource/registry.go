// Package mapsource owns the mapbook: the set of map sources and layers a
// query can target.
package mapsource

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

var (
	ErrUnknownSource = errors.New("unknown map source")
	ErrUnknownLayer  = errors.New("unknown layer")
)

// UUIDProperty is set on features added to an in-memory source.
const UUIDProperty = "_uuid"

// Registry is read-mostly. Lookups hand out snapshots so callers never
// observe a concurrent feature mutation.
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]*model.MapSource
	order     []string
	revisions map[string]uint64
}

func NewRegistry(sources []*model.MapSource) (*Registry, error) {
	if err := Validate(sources); err != nil {
		return nil, err
	}
	r := &Registry{
		sources:   make(map[string]*model.MapSource, len(sources)),
		revisions: make(map[string]uint64, len(sources)),
	}
	for _, s := range sources {
		r.sources[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Lookup resolves a "<source>/<layer>" path.
func (r *Registry) Lookup(path string) (*model.MapSource, *model.Layer, error) {
	src, err := r.Source(model.MapSourceName(path))
	if err != nil {
		return nil, nil, err
	}
	layer := src.Layer(model.LayerName(path))
	if layer == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownLayer, path)
	}
	return src, layer, nil
}

// Source returns a snapshot of the named source.
func (r *Registry) Source(name string) (*model.MapSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	cp := *s
	return &cp, nil
}

func (r *Registry) Sources() []*model.MapSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.MapSource, 0, len(r.order))
	for _, n := range r.order {
		cp := *r.sources[n]
		out = append(out, &cp)
	}
	return out
}

// AddFeatures appends to an in-memory source, tagging each feature with a
// fresh _uuid. The stored slice is replaced, never mutated.
func (r *Registry) AddFeatures(source string, feats []*geojson.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if s.Kind() != model.KindInMemoryVector {
		return fmt.Errorf("map source %s is %s, not in-memory", source, s.Kind())
	}
	next := slices.Clone(s.Features)
	for _, f := range feats {
		if f == nil {
			continue
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties[UUIDProperty] = uuid.NewString()
		next = append(next, f)
	}
	s.Features = next
	r.revisions[source]++
	return nil
}

func (r *Registry) ClearFeatures(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	s.Features = nil
	r.revisions[source]++
	return nil
}

// Refresh bumps the source revision and returns the new value.
func (r *Registry) Refresh(source string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions[source]++
	return r.revisions[source]
}

// SetRevision moves the revision forward to rev; older values are ignored.
func (r *Registry) SetRevision(source string, rev uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rev > r.revisions[source] {
		r.revisions[source] = rev
	}
	return r.revisions[source]
}

func (r *Registry) Revision(source string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revisions[source]
}
