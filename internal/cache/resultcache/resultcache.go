// Package resultcache memoizes successful layer results in Redis.
//
// Cache is a backend.Adapter wrapping the dispatcher. Keys carry the source
// revision, so a refresh makes older entries unreachable even before
// Invalidate removes them. Any cache error falls through to the wrapped
// adapter.
package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/cache/keys"
	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIndexed(ctx context.Context, index, key string, val []byte, ttl time.Duration) error
	DelIndexed(ctx context.Context, index string) (int, error)
}

// Revisions reports the current revision of a map source.
type Revisions interface {
	Revision(source string) uint64
}

type Cache struct {
	next      backend.Adapter
	store     Store
	revs      Revisions
	ttl       time.Duration
	ttlOvr    map[string]time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func New(next backend.Adapter, store Store, revs Revisions, cfg config.ResultCacheCfg, logger *slog.Logger) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	op := cfg.OpTimeout
	if op <= 0 {
		op = 250 * time.Millisecond
	}
	return &Cache{
		next:      next,
		store:     store,
		revs:      revs,
		ttl:       ttl,
		ttlOvr:    cfg.TTLOvr,
		opTimeout: op,
		logger:    backend.OrDiscard(logger),
	}
}

func (c *Cache) Query(ctx context.Context, req backend.Request) backend.Result {
	if !cacheable(req.Source) {
		return c.next.Query(ctx, req)
	}

	key := keys.LayerResult(req.Layer, c.revs.Revision(req.Source.Name), keys.Fingerprint(req.Query, req.View))

	if feats, ok := c.lookup(ctx, req.Layer, key); ok {
		return backend.Success(req.Layer, feats)
	}

	res := c.next.Query(ctx, req)
	if res.Failed {
		return res
	}
	c.save(ctx, req, key, res.Features)
	return res
}

// Invalidate drops every cached result of the given layer paths.
func (c *Cache) Invalidate(ctx context.Context, layers ...string) (int, error) {
	total := 0
	for _, l := range layers {
		n, err := c.store.DelIndexed(ctx, keys.LayerIndex(l))
		if err != nil {
			return total, fmt.Errorf("invalidate %s: %w", l, err)
		}
		total += n
	}
	return total, nil
}

// TTL returns the lifetime of results for layerPath. Overrides match the
// layer path first, then the source name.
func (c *Cache) TTL(layerPath string) time.Duration {
	if d, ok := c.ttlOvr[layerPath]; ok && d > 0 {
		return d
	}
	if d, ok := c.ttlOvr[model.MapSourceName(layerPath)]; ok && d > 0 {
		return d
	}
	return c.ttl
}

func (c *Cache) lookup(ctx context.Context, layer, key string) ([]*geojson.Feature, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, found, err := c.store.Get(opCtx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "result cache read failed, querying upstream", "layer", layer, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "discarding unreadable cached result", "layer", layer, "err", err)
		return nil, false
	}
	c.logger.DebugContext(ctx, "result cache hit", "layer", layer, "features", len(fc.Features))
	return fc.Features, true
}

func (c *Cache) save(ctx context.Context, req backend.Request, key string, feats []*geojson.Feature) {
	fc := geojson.NewFeatureCollection()
	fc.Features = feats
	raw, err := json.Marshal(fc)
	if err != nil {
		c.logger.WarnContext(ctx, "result not cacheable", "layer", req.Layer, "err", err)
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()
	if err := c.store.SetIndexed(opCtx, keys.LayerIndex(req.Layer), key, raw, c.TTL(req.Layer)); err != nil {
		c.logger.WarnContext(ctx, "result cache write failed", "layer", req.Layer, "err", err)
	}
}

// Only network-backed kinds are cached; in-memory sources answer locally.
func cacheable(src *model.MapSource) bool {
	if src == nil {
		return false
	}
	switch src.Kind() {
	case model.KindTiledImageInfo, model.KindTransactionalVector, model.KindGenericFeature:
		return true
	}
	return false
}
