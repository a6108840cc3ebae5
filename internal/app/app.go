// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the query pipeline from its parts:
// database pool, Genkit runtime, tenant and session stores, knowledge
// retrieval, usage tracking, analytics, and the HTTP server. Setup builds
// everything in dependency order; Close tears it down in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdeck/helpdeck/internal/analytics"
	"github.com/helpdeck/helpdeck/internal/api"
	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/config"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/pipeline"
	"github.com/helpdeck/helpdeck/internal/session"
	"github.com/helpdeck/helpdeck/internal/usage"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Stores
	Businesses *business.Store
	Sessions   *session.Store
	Knowledge  *knowledge.Store
	Usage      *usage.Tracker
	Analytics  *analytics.Logger

	// Query processing
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	// Lifecycle management, reverse order of construction
	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources. Background writers are
// drained before the pool closes so queued usage and analytics rows
// still reach the database.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down application")

	if a.Analytics != nil {
		a.Analytics.Close()
	}
	if a.Usage != nil {
		a.Usage.Close()
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		logger.Info("database pool closed")
	}

	// Flush pending trace spans last.
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
