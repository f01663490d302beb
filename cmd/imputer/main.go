// Command imputer fills gaps in cumulative water-meter reading series.
//
// The imputer runs a batch pipeline that:
//  1. Streams the raw reading table from a CSV file or HTTP API in chunks
//  2. Fills missing readings by linear interpolation and boundary fill
//  3. Enforces non-decreasing cumulative values by clamping dips upward
//  4. Streams the imputed table to a CSV file
//  5. Produces a quality report with fill and drift statistics
//
// While the run is active, an HTTP server (port 8085, configurable)
// provides:
//   - GET /run/current?id=<run-id> - Retrieve the latest progress snapshot
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	imputer \
//	  -input=readings.csv \
//	  -output=imputed.csv \
//	  -report=report.json \
//	  -batch-size=10000
//
// Environment variables:
//
//	INPUT                - Input CSV file
//	OUTPUT               - Output CSV file (required)
//	REPORT               - Quality report JSON file
//	SOURCE               - Source type: csv or http (default: csv)
//	SOURCE_*             - Source-specific parameters (SOURCE_URL, SOURCE_ROWS_PATH, ...)
//	BATCH_SIZE           - Entities per chunk (default: 10000)
//	WORKERS              - Worker pool size (default: one per core)
//	ENFORCE_MONOTONICITY - Clamp decreasing values (default: true)
//	CLAMP_OBSERVED       - Allow clamping observed values (default: true)
//	STORAGE              - Progress store: memory or redis (default: memory)
//	LOG_LEVEL            - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT           - Logging format: text, json (default: text)
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecoanalytics/aquafill/cmd/imputer/config"
	"github.com/ecoanalytics/aquafill/cmd/imputer/logger"
	"github.com/ecoanalytics/aquafill/cmd/imputer/metrics"
	"github.com/ecoanalytics/aquafill/cmd/imputer/router"
	"github.com/ecoanalytics/aquafill/pkg/adapters"
	"github.com/ecoanalytics/aquafill/pkg/httpx"
	"github.com/ecoanalytics/aquafill/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 2
	}

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting aquafill imputer",
		"version", version,
		"run_id", cfg.RunID,
		"source", cfg.Source,
		"batch_size", cfg.BatchSize,
	)

	store, err := newStore(cfg)
	if err != nil {
		log.Error("failed to create store", "error", err)
		return 1
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := adapters.NewSource(ctx, cfg.Source, cfg.SourceConfig)
	if err != nil {
		log.Error("failed to create source", "error", err)
		return 1
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	sink, err := adapters.NewCSVSink(cfg.Output, source.Grid())
	if err != nil {
		log.Error("failed to create sink", "error", err)
		return 1
	}

	im := NewImputer(cfg, source, sink, store, log, metrics.New(cfg.RunID))

	mux := router.SetupRoutes(store, log)
	httpServer := httpx.NewServer(cfg.Listen, httpx.LoggingMiddleware(log)(mux), log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	runDone := make(chan error, 1)
	go func() {
		_, err := im.Run(ctx)
		runDone <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-runDone; err != nil {
			log.Error("run aborted", "error", err)
		}
		exitCode = 1
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
		cancel()
		<-runDone
		exitCode = 1
	case err := <-runDone:
		if err != nil {
			log.Error("run failed", "error", err)
			exitCode = 1
		}
	}

	if err := sink.Close(); err != nil {
		log.Error("failed to close sink", "error", err)
		exitCode = 1
	}

	log.Info("shutting down")
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		return 1
	}

	log.Info("shutdown complete", "exit_code", exitCode)
	return exitCode
}

// newStore builds the progress store named by the configuration.
func newStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == "redis" {
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	}
	return storage.NewMemoryStore(), nil
}
