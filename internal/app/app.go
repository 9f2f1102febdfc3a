// Package app wires configuration, the database pool, providers, and the
// question-answering pipeline into one container shared by every entry
// point (serve, ask, ingest, stats, doctor).
package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eddalabs/efni/internal/config"
	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/llm"
	"github.com/eddalabs/efni/internal/rag"
)

// App is the core application container.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DBPool   *pgxpool.Pool
	Index    *index.Store
	Embedder embed.Provider
	LLM      llm.Client
	Pipeline *rag.Pipeline

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
