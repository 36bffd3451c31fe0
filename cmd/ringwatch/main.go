// Ringwatch - Graph-based money-laundering ring detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/ringwatch/internal/analysis"
	"github.com/opensource-finance/ringwatch/internal/api"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/cache"
	"github.com/opensource-finance/ringwatch/internal/config"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/logging"
	"github.com/opensource-finance/ringwatch/internal/metrics"
	"github.com/opensource-finance/ringwatch/internal/repository"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/opensource-finance/ringwatch/internal/telemetry"
	"github.com/opensource-finance/ringwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("RINGWATCH_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer syncLogs() //nolint:errcheck
	slog.SetDefault(logger)

	slog.Info("starting ringwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.LoadRules(cfg.ReasonRules); err != nil {
		slog.Error("failed to load reason rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	m := metrics.New()

	svc := analysis.New(
		analysis.WithRepository(repo),
		analysis.WithCache(cacheImpl),
		analysis.WithBus(busImpl),
		analysis.WithMetrics(m),
		analysis.WithRules(engine),
		analysis.WithDetection(cfg.Detection),
		analysis.WithResultTTL(cfg.Cache.ResultTTL),
		analysis.WithLogger(logger),
	)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started")
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service: svc,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Rules:   engine,
		Metrics: m,
		Logger:  logger,
		Version: Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("ringwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming jobs before the server and bus go away.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		stats := asyncWorker.GetStats()
		slog.Info("async worker stopped", "processed", stats.Processed, "failed", stats.Failed)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("ringwatch shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                RINGWATCH                  ║")
	fmt.Println("  ║   Money-laundering ring detection engine  ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /input/files         - Analyze uploaded CSV files")
	fmt.Println("    POST /input/files/async   - Queue CSV files for analysis")
	fmt.Println("    GET  /show/output/files   - List saved reports")
	fmt.Println("    GET  /download/{name}     - Download a report")
	fmt.Println("    GET  /rules               - List reason rules")
	fmt.Println("    POST /rules/validate      - Validate a reason rule")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
