// Harrier - Product eligibility decisions for lending platforms.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/eligibility"
	"github.com/opensource-finance/harrier/internal/enrichment"
	"github.com/opensource-finance/harrier/internal/logging"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/sink"
	"github.com/opensource-finance/harrier/internal/tracing"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg.Logging.Level))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"enrichment_concurrency", cfg.Enrichment.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

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
	snapshots := cache.NewSnapshotReader(repo, cacheImpl, cfg.Cache.SnapshotTTL)
	slog.Info("cache initialized", "type", cfg.Cache.Type, "snapshot_ttl", cfg.Cache.SnapshotTTL)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()

	engine, err := eligibility.NewEngine(cfg.Eligibility, nil)
	if err != nil {
		slog.Error("failed to initialize eligibility engine", "error", err)
		os.Exit(1)
	}

	sinks := []sink.Named{{Name: "sql", ResultSink: repo}}
	if len(cfg.Sink.KafkaBrokers) > 0 {
		kafkaSink, err := sink.NewKafkaSink(cfg.Sink.KafkaBrokers, cfg.Sink.KafkaTopic)
		if err != nil {
			slog.Error("failed to initialize kafka sink", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, sink.Named{Name: "kafka", ResultSink: kafkaSink})
		slog.Info("kafka sink enabled", "topic", cfg.Sink.KafkaTopic, "brokers", len(cfg.Sink.KafkaBrokers))
	}

	pipeline := enrichment.NewPipeline(snapshots, engine, sink.NewMulti(m, sinks...), cfg.Enrichment,
		enrichment.WithBus(busImpl),
		enrichment.WithMetrics(m),
	)

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		tenantIDs, err := parseTenants(os.Getenv("HARRIER_TENANTS"))
		if err != nil {
			slog.Error("invalid HARRIER_TENANTS", "error", err)
			os.Exit(1)
		}

		asyncWorker = worker.NewWorker(busImpl, pipeline, snapshots, m)
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline:    pipeline,
		Engine:      engine,
		Reader:      snapshots,
		Results:     repo,
		Invalidator: snapshots,
		Bus:         busImpl,
		Metrics:     m,
		Checks: map[string]api.Pinger{
			"repository": repo,
			"cache":      cacheImpl,
			"eventbus":   busImpl,
		},
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// parseTenants reads a comma-separated tenant list; empty means all tenants.
func parseTenants(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("tenant %q is not a positive integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 HARRIER                   |")
	fmt.Println("  |      Product Eligibility Decisions        |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /eligibility              - Enrich, evaluate and record a request")
	fmt.Println("    POST /eligibility/evaluate     - Evaluate inputs without side effects")
	fmt.Println("    GET  /evaluations/{requestId}  - Get a recorded evaluation")
	fmt.Println("    POST /config/invalidate        - Drop the cached tenant configuration")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println("    GET  /ready                    - Readiness check")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println()
}
