package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/catalog"
	"github.com/boddenberg/fenix-agent-go/internal/config"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/handler"
	"github.com/boddenberg/fenix-agent-go/internal/infra/cache"
	"github.com/boddenberg/fenix-agent-go/internal/infra/observability"
	"github.com/boddenberg/fenix-agent-go/internal/infra/openai"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
	"github.com/boddenberg/fenix-agent-go/internal/infra/supabase"
	"github.com/boddenberg/fenix-agent-go/internal/port"
	"github.com/boddenberg/fenix-agent-go/internal/returns"
	"github.com/boddenberg/fenix-agent-go/internal/sales"
	"github.com/boddenberg/fenix-agent-go/internal/service"
	"github.com/boddenberg/fenix-agent-go/internal/session"
	"github.com/boddenberg/fenix-agent-go/internal/telegram"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the ops HTTP server",
		RunE: func(c *cobra.Command, _ []string) error {
			return runServe(c.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config ---
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel, zap.String("service", "fenix-agent"))
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("refusing to start", zap.Error(err))
		return err
	}
	logger.Info("configuration loaded",
		zap.Int("ops_port", cfg.OpsPort),
		zap.String("log_level", cfg.LogLevel),
		zap.String("openai_model", cfg.OpenAIModel),
		zap.Bool("browser_enabled", cfg.BrowserEnabled),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Duration("session_idle_ttl", cfg.SessionIdleTTL),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "fenix-agent")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	retry := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
		Errors:         metrics,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Persistence ---
	store := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseServiceRole,
		resilience.NewCircuitBreaker("supabase"), retry, logger)

	// --- Caches ---
	var (
		catalogCache port.Cache[[]domain.CandidateProduct]
		profileCache port.Cache[domain.OperatorProfile]
		checks       = []handler.Check{{Name: "supabase", Critical: true, Probe: store.Ping}}
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		defer rc.Close()
		catalogCache = cache.NewRedis[[]domain.CandidateProduct](rc, "fenix:catalog", cfg.CacheTTL, logger)
		profileCache = cache.NewRedis[domain.OperatorProfile](rc, "fenix:operator", cfg.CacheTTL, logger)
		checks = append(checks, handler.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}})
	} else {
		mc := cache.New[[]domain.CandidateProduct](cfg.CacheTTL)
		defer mc.Close()
		mp := cache.New[domain.OperatorProfile](cfg.CacheTTL)
		defer mp.Close()
		catalogCache, profileCache = mc, mp
	}
	catalogCache = cache.NewMetered(catalogCache, "catalog", metrics)
	profileCache = cache.NewMetered(profileCache, "operator", metrics)

	// --- Location ---
	pipeline, closeLocation := buildLocation(ctx, cfg, httpClient, retry, metrics, logger)
	defer closeLocation()

	// --- Telegram ---
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	logger.Info("telegram authorized", zap.String("bot", api.Self.UserName))
	files := telegram.NewFiles(api, cfg.TelegramToken, httpClient, resilience.NewCircuitBreaker("telegram"), retry)

	// --- Dialogs ---
	resolver := catalog.NewResolver(store, store, logger,
		catalog.WithCache(catalogCache),
		catalog.WithConcurrency(4),
	)
	extractor := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, resilience.NewCircuitBreaker("openai"), retry, metrics, logger)

	saleFlow := sales.NewMachine(sales.Deps{
		Resolver:  resolver,
		Extractor: extractor,
		Locator:   pipeline,
		Files:     files,
		Photos:    store,
		Orders:    store,
		Buckets:   sales.Buckets{OrderImages: cfg.OrderImagesBucket, PaymentProofs: cfg.PaymentProofsBucket},
		Metrics:   metrics,
		Logger:    logger,
	})
	returnFlow := returns.NewMachine(returns.Deps{
		Orders:  store,
		Returns: store,
		Metrics: metrics,
		Logger:  logger,
	})

	sessions := session.NewStore(logger)
	go sessions.Run(ctx, cfg.SessionSweepTick, cfg.SessionIdleTTL)

	dispatcher := service.NewDispatcher(sessions, store, []service.Strategy{
		service.NewGreetingStrategy(textutil.NewClock(cfg.Timezone)),
		service.NewCancelStrategy(logger),
		service.NewReturnStrategy(returnFlow),
		service.NewSalesStrategy(saleFlow),
	}, logger,
		service.WithProfileCache(profileCache),
		service.WithBulkhead(resilience.NewBulkhead(cfg.MaxConcurrency)),
		service.WithEventRecorder(metrics),
	)

	// --- Ops server ---
	ready := &handler.Readiness{}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:      handler.NewRouter(checks, ready, metrics, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("ops server starting", zap.Int("port", cfg.OpsPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Bot ---
	ready.Set(true)
	telegram.NewBot(api, dispatcher, cfg.Lanes, logger).Run(ctx)
	ready.Set(false)

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}
