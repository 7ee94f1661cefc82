// Command worker processes deferred chat-completion jobs submitted via the
// async chat completions API, off an asynq/Redis queue.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowart/gateway/internal/adapter/ai/circuitbreaker"
	"github.com/lowart/gateway/internal/adapter/ai/fallback"
	"github.com/lowart/gateway/internal/adapter/ai/registry"
	"github.com/lowart/gateway/internal/adapter/ai/tokencount"
	"github.com/lowart/gateway/internal/adapter/ai/vendor"
	"github.com/lowart/gateway/internal/adapter/observability"
	asynqadp "github.com/lowart/gateway/internal/adapter/queue/asynq"
	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/adapter/script"
	"github.com/lowart/gateway/internal/app"
	"github.com/lowart/gateway/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	asyncJobs := postgres.NewAsyncJobRepo(pool)
	models := postgres.NewModelConfigRepo(pool)
	fallbackRules := postgres.NewFallbackRuleRepo(pool)
	usage := postgres.NewUsageRepo(pool)
	principals := postgres.NewPrincipalRepo(pool)

	maxElapsed, initial, maxInterval, multiplier := cfg.GetAdapterBackoffConfig()
	backoff := vendor.BackoffTuning{
		MaxElapsedTime:  maxElapsed,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		Multiplier:      multiplier,
	}

	breaker := circuitbreaker.New(cfg.CircuitFailureThreshold, cfg.CircuitResetTimeout)
	modelRegistry := registry.New(models, registry.Config{
		Capacity:              cfg.ModelCacheCapacity,
		TTL:                   cfg.ModelCacheTTL,
		MasterKey:             cfg.MasterKey,
		AdapterTimeout:        cfg.AdapterHTTPTimeout,
		Backoff:               backoff,
		ImageWorkflowPoll:     cfg.ImageWorkflowPollInterval,
		ImageWorkflowAttempts: cfg.ImageWorkflowMaxAttempts,
	})
	fallbackRouter := fallback.New(modelRegistry, breaker, fallbackRules)

	tokenMeter := tokencount.New()
	scripts := script.New()

	worker, err := asynqadp.NewWorker(cfg.RedisURL, asyncJobs, fallbackRouter, scripts, tokenMeter, usage, principals)
	if err != nil {
		slog.Error("worker init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Stop()

	sweeper := app.NewStuckJobSweeper(asyncJobs, 10*time.Minute, time.Minute)
	sweeperCtx, cancelSweeper := context.WithCancel(ctx)
	defer cancelSweeper()
	if sweeper != nil {
		go sweeper.Run(sweeperCtx)
	}

	slog.Info("starting asynq server")
	go func() {
		if err := worker.Start(ctx); err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancelSweeper()
}
