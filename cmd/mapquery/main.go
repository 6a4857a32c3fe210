package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/mapbook-query/internal/app"
	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/core/health"
	"github.com/mohammed-shakir/mapbook-query/internal/core/observability"
	"github.com/mohammed-shakir/mapbook-query/internal/core/router"
	"github.com/mohammed-shakir/mapbook-query/internal/core/server"
	"github.com/mohammed-shakir/mapbook-query/internal/logger"
	"github.com/mohammed-shakir/mapbook-query/internal/metrics"
	refreshkafka "github.com/mohammed-shakir/mapbook-query/pkg/refresh/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	mapbook := flag.String("mapbook", "", "mapbook path (overrides MAPBOOK_PATH)")
	flag.Parse()

	cfg := config.FromEnv()
	if *mapbook != "" {
		cfg.MapbookPath = strings.TrimSpace(*mapbook)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "mapquery",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting mapquery",
		"addr", cfg.Addr,
		"version", Version,
		"mapbook", cfg.MapbookPath,
		"result_cache", cfg.ResultCache.Enabled,
		"refresh", cfg.Refresh.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("service setup failed", "err", err)
		return 1
	}
	defer svc.Close()
	appLog.Info("mapbook loaded", "sources", len(svc.Registry.Sources()))

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
	})

	var ready health.ReadinessReporter = health.Always{}
	var refresher router.Refresher = svc.Refresher
	if rcfg := refreshkafka.FromConfig(cfg.Refresh); rcfg.Enabled && rcfg.Driver == refreshkafka.DriverKafka {
		refreshLog := appLog.With("component", "refresh")
		runner := refreshkafka.New(rcfg, svc.Refresher, refreshkafka.Options{
			Logger:   refreshLog,
			Register: mp.Registerer(),
		})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("refresh runner start failed", "err", err)
			return 1
		}
		defer runner.Stop()
		ready = runner

		pub, err := refreshkafka.NewPublisher(rcfg, refreshLog, 0)
		if err != nil {
			appLog.Error("refresh publisher start failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		refresher = refreshkafka.Broadcaster{Local: svc.Refresher, Pub: pub, Log: refreshLog}
	}

	go func() {
		if err := mp.Serve(ctx, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	// /metrics rides on the main listener unless it has its own
	metricsHandler := mp.Handler()
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "" {
		metricsHandler = nil
	}
	api := router.New(svc.Store, svc.Registry, refresher, appLog)
	if err := server.Run(ctx, cfg, appLog, server.Handler(appLog, api, ready, metricsHandler)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Store.Drain(drainCtx); err != nil {
		appLog.Warn("in-flight queries did not finish", "err", err)
	}
	appLog.Info("server stopped")
	return 0
}
