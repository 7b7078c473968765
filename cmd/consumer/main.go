// Command consumer drains a broker-hosted work queue of JSON record-ingest
// messages and feeds each into the Senzing entity-resolution engine,
// preserving at-least-once delivery under bounded in-flight concurrency
// (spec.md §1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/senzing-garage/sz-sdk-go-core/szengine"
	"gopkg.in/yaml.v3"

	"github.com/senzing-garage/go-sb-consumer/internal/broker"
	"github.com/senzing-garage/go-sb-consumer/internal/config"
	"github.com/senzing-garage/go-sb-consumer/internal/coordinator"
	"github.com/senzing-garage/go-sb-consumer/internal/engine"
	"github.com/senzing-garage/go-sb-consumer/internal/observability"
)

// maxLockRenewal bounds the broker adapter's background lease renewer
// (spec.md §4.2).
const maxLockRenewal = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse configuration:", err)
		return 255
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 255
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if cfg.ConfigDump {
		dumpConfig(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	go serveMetrics(cfg.MetricsPort, logger)

	logger.Info("initializing senzing engine")
	instanceName := "sz-sb-consumer-" + ulid.Make().String()
	eng, err := engine.New(ctx, instanceName, cfg.EngineConfigJSON, cfg.DebugTrace, &szengine.Szengine{})
	if err != nil {
		logger.Error("engine init failed", slog.Any("error", err))
		return 1
	}

	logger.Info("connecting to broker", slog.String("queue", cfg.QueueName))
	brk, err := broker.NewAzureAdapter(ctx, cfg.QueueConnectionString, cfg.QueueName, cfg.Prefetch, maxLockRenewal)
	if err != nil {
		logger.Error("broker connect failed", slog.Any("error", err))
		return 1
	}

	logger.Info("starting consumer",
		slog.Int("max_workers", cfg.ThreadsPerProcess),
		slog.Int("prefetch", cfg.Prefetch),
		slog.Duration("long_record", time.Duration(cfg.LongRecord)*time.Second))

	c := coordinator.New(ctx, coordinator.Config{
		MaxWorkers: cfg.ThreadsPerProcess,
		Prefetch:   cfg.Prefetch,
		LongRecord: time.Duration(cfg.LongRecord) * time.Second,
		Interval:   10000,
		WithInfo:   cfg.Info,
	}, brk, eng, logger)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := <-runErr; err != nil {
			logger.Error("shutdown completed with error", slog.Any("error", err))
			return 1
		}
	case err := <-runErr:
		if err != nil {
			logger.Error("coordinator exited with error", slog.Any("error", err))
			return 1
		}
	}

	logger.Info("receive is done")
	return 0
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server error", slog.Any("error", err))
	}
}

func dumpConfig(cfg config.Config) {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config-dump failed:", err)
		return
	}
	fmt.Fprintln(os.Stderr, "--- resolved configuration ---")
	fmt.Fprint(os.Stderr, string(out))
}
