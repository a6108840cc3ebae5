package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdeck/helpdeck/db"
	apihttp "github.com/helpdeck/helpdeck/internal/api"
	"github.com/helpdeck/helpdeck/internal/analytics"
	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/config"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/llm"
	"github.com/helpdeck/helpdeck/internal/observability"
	"github.com/helpdeck/helpdeck/internal/pipeline"
	"github.com/helpdeck/helpdeck/internal/session"
	"github.com/helpdeck/helpdeck/internal/usage"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	if err := provideStores(a); err != nil {
		return nil, err
	}

	generator, err := llm.NewGenerator(g, llm.Config{
		Model:       cfg.FullModelName(),
		Temperature: float64(cfg.Temperature),
	}, a.Usage, logger)
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		QueryTimeout:        cfg.QueryTimeout,
		MaxQueryLength:      cfg.MaxQueryLength,
		RateLimit:           cfg.RateLimitPerMinute,
		RateWindow:          time.Minute,
		HistoryLimit:        cfg.HistoryLimit,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxResults:          cfg.ContextMaxResults,
	}, generator, pipeline.Stores{
		Businesses: a.Businesses,
		Sessions:   a.Sessions,
		Knowledge:  a.Knowledge,
		Usage:      a.Usage,
		Analytics:  a.Analytics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	a.Pipeline = p

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Logger:     logger,
		Pipeline:   p,
		Businesses: a.Businesses,
		Sessions:   a.Sessions,
		Analytics:  a.Analytics,
		Pool:       pool,
		TrustProxy: cfg.TrustProxy,
		RateBurst:  cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so the TracerProvider is ready for the first span.
// Returns a no-op cleanup when tracing is disabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.TraceEnabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		logger.Warn("trace export setup failed, continuing without tracing", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default) and openai providers. Call ordering in Setup
// ensures tracing is set up first.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini" / "googleai"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // "gemini" / "googleai"
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideStores creates the persistence layer: tenant registry, sessions,
// knowledge retrieval, quota tracking, and query analytics.
func provideStores(a *App) error {
	cfg, logger, pool := a.Config, a.Logger, a.DBPool

	businesses, err := business.NewStore(pool, logger)
	if err != nil {
		return fmt.Errorf("creating business store: %w", err)
	}
	a.Businesses = businesses

	sessions, err := session.NewStore(pool, cfg.SessionTimeout(), logger)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	kb, err := knowledge.NewStore(pool, a.Embedder, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = kb

	tracker := usage.NewTracker(pool, logger)
	tracker.SetDefaultLimit(usage.QuotaQuery, cfg.MonthlyQueryQuota)
	a.Usage = tracker

	a.Analytics = analytics.NewLogger(pool, logger)

	return nil
}
