// Command server starts the gateway's HTTP ingress: the OpenAI-compatible chat
// completion API, the tool-confirm and async-job endpoints, and the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lowart/gateway/internal/adapter/agent"
	"github.com/lowart/gateway/internal/adapter/ai/circuitbreaker"
	"github.com/lowart/gateway/internal/adapter/ai/fallback"
	"github.com/lowart/gateway/internal/adapter/ai/registry"
	"github.com/lowart/gateway/internal/adapter/ai/tokencount"
	"github.com/lowart/gateway/internal/adapter/authcache"
	httpserver "github.com/lowart/gateway/internal/adapter/httpserver"
	"github.com/lowart/gateway/internal/adapter/mcp"
	"github.com/lowart/gateway/internal/adapter/observability"
	asynqadp "github.com/lowart/gateway/internal/adapter/queue/asynq"
	"github.com/lowart/gateway/internal/adapter/quota"
	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/adapter/script"
	"github.com/lowart/gateway/internal/adapter/ai/vendor"
	"github.com/lowart/gateway/internal/app"
	"github.com/lowart/gateway/internal/config"
	"github.com/lowart/gateway/internal/usecase/chat"
)

// redisPinger adapts *redis.Client's Ping to the narrow RedisClient interface
// app.BuildReadinessChecks expects, the same adapter idiom the teacher used for
// its own pgxpool-to-Beginner shim.
type redisPinger struct{ cli *goredis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.cli.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpt, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	redisClient := goredis.NewClient(redisOpt)
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", slog.Any("error", err))
		}
	}()

	// Repositories.
	principals := postgres.NewPrincipalRepo(pool)
	credentials := postgres.NewCredentialRepo(pool)
	models := postgres.NewModelConfigRepo(pool)
	fallbackRules := postgres.NewFallbackRuleRepo(pool)
	toolPolicies := postgres.NewToolPolicyRepo(pool)
	asyncJobs := postgres.NewAsyncJobRepo(pool)
	confirmSessions := postgres.NewConfirmSessionRepo(pool)
	usage := postgres.NewUsageRepo(pool)

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
	router := fallback.New(modelRegistry, breaker, fallbackRules)

	tokenMeter := tokencount.New()
	orchestrator := agent.New()
	tools := mcp.New(orchestrator)
	scripts := script.New()

	authCache := authcache.New(credentials, authcache.Config{
		Capacity: cfg.CredCacheCapacity,
		TTL:      cfg.CredCacheTTL,
	})
	quotaGate := quota.New()
	defer quotaGate.Stop()

	engine := chat.New(router, toolPolicies, tools, scripts, tokenMeter, usage, principals, confirmSessions)
	engine.MaxIterations = cfg.ChatMaxIterations
	engine.ConfirmTTL = cfg.ConfirmSessionTTL
	streamEngine := chat.NewStream(router, tokenMeter, usage, principals)

	jobQueue, err := asynqadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("asynq queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	submitter := chat.NewSubmitter(asyncJobs, jobQueue)

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisPinger{cli: redisClient})

	srv := httpserver.NewServer(
		cfg,
		engine,
		streamEngine,
		submitter,
		authCache,
		quotaGate,
		principals,
		credentials,
		models,
		fallbackRules,
		toolPolicies,
		asyncJobs,
		dbCheck,
		redisCheck,
	)

	sweeper := app.NewStuckJobSweeper(asyncJobs, 5*time.Minute, time.Minute)
	sweeperCtx, cancelSweeper := context.WithCancel(ctx)
	defer cancelSweeper()
	go sweeper.Run(sweeperCtx)

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	cancelSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
