package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/verdesk/verai-go/internal/config"
	"github.com/verdesk/verai-go/internal/handler"
	"github.com/verdesk/verai-go/internal/infra/cache"
	"github.com/verdesk/verai-go/internal/infra/llm"
	"github.com/verdesk/verai-go/internal/infra/observability"
	"github.com/verdesk/verai-go/internal/infra/resilience"
	"github.com/verdesk/verai-go/internal/infra/retriever"
	"github.com/verdesk/verai-go/internal/infra/store"
	"github.com/verdesk/verai-go/internal/onboarding"
	"github.com/verdesk/verai-go/internal/port"
	"github.com/verdesk/verai-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("llm_model", cfg.OpenAIModel),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("refusal_phrases", len(cfg.RefusalPhrases)),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "verai")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache (retrieval contexts) ---
	contextCache := cache.New[string](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	cb := resilience.NewCircuitBreaker("external-apis")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	llmClient := llm.NewClient(
		cfg.OpenAIAPIKey,
		cfg.OpenAIBaseURL,
		cfg.OpenAIModel,
		cb,
		resilienceCfg,
		metrics,
		logger,
	)

	var conversationStore port.ConversationStore
	var docRetriever port.Retriever

	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as data backend",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		conversationStore = store.NewSupabase(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			logger,
		)
		docRetriever = retriever.NewSupabase(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cfg.RetrieverMatchCount,
			cb,
			resilienceCfg,
			logger,
		)
	} else {
		logger.Warn("Supabase not configured: using in-memory store, retrieval disabled")
		conversationStore = store.NewInMemory()
	}

	// --- Services ---
	machine := onboarding.NewMachine(cfg.RefusalPhrases, logger)

	turnSvc := service.NewTurnService(
		conversationStore,
		llmClient,
		docRetriever,
		machine,
		contextCache,
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(turnSvc, metrics, logger, cfg.JWTSecret, cfg.RateLimitPerMinute)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
