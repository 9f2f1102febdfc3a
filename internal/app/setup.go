package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/eddalabs/efni/db"
	"github.com/eddalabs/efni/internal/config"
	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/llm"
	"github.com/eddalabs/efni/internal/log"
	"github.com/eddalabs/efni/internal/provider"
	"github.com/eddalabs/efni/internal/rag"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.Logger = provideLogger(cfg)

	tracer, otelCleanup := provideTracing(ctx, cfg, a.Logger)
	a.otelCleanup = otelCleanup

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	a.Index = index.NewStore(index.NewQueries(pool), a.Logger)

	a.Embedder, err = provideEmbedder(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}

	a.LLM, err = provideLLM(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}

	a.Pipeline = providePipeline(a, tracer)
	return a, nil
}

func provideLogger(cfg *config.Config) log.Logger {
	return log.New(log.Config{
		Level:     cfg.Log.Level,
		JSON:      cfg.Log.JSON,
		AddSource: cfg.Log.AddSource,
	})
}

// provideTracing sets up the OTLP HTTP trace exporter when observability is
// enabled. Disabled or failed setup both degrade to a noop tracer; tracing
// is never a reason the service cannot start.
func provideTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (trace.Tracer, func()) {
	obs := cfg.Observability
	if !obs.Enabled {
		return nil, func() {}
	}

	endpoint := obs.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	serviceName := obs.ServiceName
	if serviceName == "" {
		serviceName = "efni"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return nil, func() {}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.DeploymentEnvironment(obs.Environment),
	))
	if err != nil {
		logger.Warn("building trace resource", "error", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", endpoint, "service", serviceName)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
	return tp.Tracer("efni"), cleanup
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
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

	return pool, pool.Close, nil
}

func provideEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Provider, error) {
	ecfg := embed.Config{
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		Timeout:      cfg.Embedding.Timeout,
		BatchSize:    cfg.Embedding.BatchSize,
		MaxTextRunes: cfg.Embedding.MaxTextRunes,
	}

	switch cfg.Embedding.Provider {
	case config.ProviderGoogle:
		return embed.NewGoogle(ctx, cfg.GeminiAPIKey, ecfg, logger)
	case config.ProviderOpenAI:
		return embed.NewOpenAI(cfg.OpenAIAPIKey, ecfg, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func provideLLM(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	lcfg := llm.Config{
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}

	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(cfg.AnthropicAPIKey, lcfg, logger)
	case config.ProviderGoogle:
		return llm.NewGoogle(ctx, cfg.GeminiAPIKey, lcfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func providePipeline(a *App, tracer trace.Tracer) *rag.Pipeline {
	cfg := a.Config
	ragCfg := rag.Config{
		TopK:             cfg.Pipeline.TopK,
		MaxContextChunks: cfg.Pipeline.MaxContextChunks,
		SectionCap:       cfg.Pipeline.SectionCap,
		MaxQuestionRunes: cfg.Pipeline.MaxQuestionRunes,
		MaxResultsLimit:  cfg.Pipeline.MaxResultsLimit,
		TokenBudget:      cfg.Pipeline.PromptTokenBudget,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		Model:            cfg.LLM.Model,
		ProviderRetry: provider.RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Jitter:          true,
			TimeoutAttempts: 1,
		},
		IndexRetry: provider.RetryConfig{
			MaxAttempts:     cfg.Retry.IndexAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			TimeoutAttempts: 1,
		},
	}

	opts := []rag.Option{}
	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		opts = append(opts, rag.WithLimiter(rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)))
	}
	if tracer != nil {
		opts = append(opts, rag.WithTracer(tracer))
	}

	return rag.NewPipeline(a.Embedder, a.Index, a.LLM, ragCfg, a.Logger, opts...)
}
