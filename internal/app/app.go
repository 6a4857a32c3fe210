// Package app assembles the query service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/backend/ags"
	"github.com/mohammed-shakir/mapbook-query/internal/backend/vector"
	"github.com/mohammed-shakir/mapbook-query/internal/backend/wfs"
	"github.com/mohammed-shakir/mapbook-query/internal/backend/wms"
	"github.com/mohammed-shakir/mapbook-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/mapbook-query/internal/cache/resultcache"
	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/core/executor"
	"github.com/mohammed-shakir/mapbook-query/internal/core/httpclient"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/lifecycle"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
	"github.com/mohammed-shakir/mapbook-query/internal/orchestrator"
	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

type Service struct {
	Registry     *mapsource.Registry
	Orchestrator *orchestrator.Orchestrator
	Store        *lifecycle.Store
	Refresher    *refresh.Handler
	// Cache is nil unless the result cache is enabled.
	Cache *resultcache.Cache

	closers []func()
}

// Dispatcher routes each source kind to its protocol adapter.
func Dispatcher(cfg config.Config, client *http.Client, logger *slog.Logger) *backend.Dispatcher {
	if client == nil {
		client = httpclient.NewOutbound(cfg.UpstreamTimeout)
	}
	exec := executor.New(logger, client)
	return backend.NewDispatcher(logger, map[model.SourceKind]backend.Adapter{
		model.KindTiledImageInfo:      wms.New(exec, logger, wms.Options{FeatureCount: cfg.WMSFeatureCount, Projection: cfg.MapProjection}),
		model.KindTransactionalVector: wfs.New(exec, logger, wfs.Options{PixelTolerance: cfg.WFSPixelTolerance, Projection: cfg.MapProjection}),
		model.KindGenericFeature:      ags.New(exec, logger, ags.Options{PixelTolerance: cfg.AGSPixelTolerance, MaxURLLength: cfg.AGSMaxURLLength}),
		model.KindInMemoryVector:      vector.New(logger),
	})
}

// Build loads the mapbook and wires adapters, the optional result cache,
// the orchestrator, the lifecycle store and the refresh handler.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	reg, err := mapsource.Load(cfg.MapbookPath)
	if err != nil {
		return nil, err
	}
	return BuildWith(ctx, cfg, reg, nil, logger)
}

// BuildWith is Build over an existing registry and outbound client.
func BuildWith(ctx context.Context, cfg config.Config, reg *mapsource.Registry, client *http.Client, logger *slog.Logger) (*Service, error) {
	logger = backend.OrDiscard(logger)
	svc := &Service{Registry: reg}

	var adapter backend.Adapter = Dispatcher(cfg, client, logger)
	var inv refresh.Invalidator
	if cfg.ResultCache.Enabled {
		rc, err := redisstore.New(ctx, cfg.ResultCache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = rc.Close() })
		svc.Cache = resultcache.New(adapter, rc, reg, cfg.ResultCache, logger)
		adapter = svc.Cache
		inv = svc.Cache
	}

	orch, err := orchestrator.New(reg, adapter, logger, orchestrator.Options{
		MaxInflight: cfg.MaxInflight,
		Projection:  cfg.MapProjection,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	svc.Orchestrator = orch
	svc.closers = append(svc.closers, orch.Close)

	svc.Store = lifecycle.NewStore(orch, logger)
	svc.Refresher = refresh.NewHandler(reg, inv, logger)
	return svc, nil
}

// Close releases resources in reverse order of creation.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
