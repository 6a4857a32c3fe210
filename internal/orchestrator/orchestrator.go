// Package orchestrator fans a query out to one adapter call per layer and
// joins the settled results.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/core/observability"
	"github.com/mohammed-shakir/mapbook-query/internal/geo"
	"github.com/mohammed-shakir/mapbook-query/internal/logger"
)

// Resolver finds the map source and layer behind a layer path.
type Resolver interface {
	Lookup(path string) (*model.MapSource, *model.Layer, error)
}

type Options struct {
	// MaxInflight bounds concurrent layer calls. 0 means unbounded.
	MaxInflight int
	// Projection fills in views that do not carry one.
	Projection string
}

type Orchestrator struct {
	sources Resolver
	adapter backend.Adapter
	logger  *slog.Logger
	opts    Options
	pool    *ants.Pool // nil = one goroutine per layer
	now     func() time.Time
}

func New(sources Resolver, adapter backend.Adapter, log *slog.Logger, opts Options) (*Orchestrator, error) {
	if opts.Projection == "" {
		opts.Projection = geo.EPSG3857
	}
	o := &Orchestrator{
		sources: sources,
		adapter: adapter,
		logger:  backend.OrDiscard(log),
		opts:    opts,
		now:     time.Now,
	}
	if opts.MaxInflight > 0 {
		pool, err := ants.NewPool(opts.MaxInflight, ants.WithPanicHandler(func(v any) {
			o.logger.Error("layer task panic", "panic", v)
		}))
		if err != nil {
			return nil, fmt.Errorf("create layer pool: %w", err)
		}
		o.pool = pool
	}
	return o, nil
}

// Close releases the worker pool, waiting briefly for running layer calls.
func (o *Orchestrator) Close() {
	if o.pool != nil {
		_ = o.pool.ReleaseTimeout(3 * time.Second)
	}
}

// Run queries every layer of q in parallel and returns once all of them
// have settled. Placement is by layer path, so completion order does not
// matter. An empty layer list completes immediately.
func (o *Orchestrator) Run(ctx context.Context, view model.MapView, q *model.QueryDefinition) model.ResultSet {
	if q == nil {
		return model.NewResultSet(nil)
	}
	rs := model.NewResultSet(q.Layers)
	if len(q.Layers) == 0 {
		observability.ObserveQuery(0, 0)
		return rs
	}
	start := o.now()
	if view.Projection == "" {
		view.Projection = o.opts.Projection
	}
	qq := *q
	qq.Selection = geo.NormalizeSelection(q.Selection)

	results := make([]backend.Result, len(q.Layers))
	var wg sync.WaitGroup
	for i, path := range q.Layers {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = o.runLayer(ctx, view, &qq, path)
		}
		if o.pool == nil {
			go task()
			continue
		}
		if err := o.pool.Submit(task); err != nil {
			o.logger.WarnContext(ctx, "layer pool rejected task, running directly", "layer", path, "err", err)
			go task()
		}
	}
	wg.Wait()

	for i, path := range q.Layers {
		rs.ByLayer[path] = results[i].LayerResult()
	}
	observability.ObserveQuery(len(q.Layers), o.now().Sub(start).Seconds())
	o.logger.DebugContext(ctx, "query settled", "layers", len(q.Layers), "duration", o.now().Sub(start).String())
	return rs
}

func (o *Orchestrator) runLayer(ctx context.Context, view model.MapView, q *model.QueryDefinition, path string) (res backend.Result) {
	ctx = logger.WithLayer(ctx, path)
	kind := model.KindUnsupported.String()
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "adapter panic", "layer", path, "panic", r)
			res = backend.Failure(path, "Internal error")
		}
		outcome := "ok"
		if res.Failed {
			outcome = "failed"
		}
		observability.ObserveLayerQuery(kind, outcome)
	}()

	src, layer, err := o.sources.Lookup(path)
	if err != nil {
		o.logger.WarnContext(ctx, "layer not resolvable", "layer", path, "err", err)
		return backend.Success(path, nil)
	}
	kind = src.Kind().String()
	res = o.adapter.Query(ctx, backend.Request{
		Layer:    path,
		LayerDef: layer,
		Source:   src,
		View:     view,
		Query:    q,
	})
	res.Layer = path
	if res.Features == nil {
		res.Features = []*geojson.Feature{}
	}
	return res
}
