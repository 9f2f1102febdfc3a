package rag

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/llm"
	"github.com/eddalabs/efni/internal/provider"
)

// noContentAnswer is returned verbatim when retrieval finds nothing.
const noContentAnswer = "Því miður fann ég engin viðeigandi gögn til að svara þessari spurningu. Vinsamlegast reyndu að orða spurninguna öðruvísi eða spyrðu um annað efni."

const maxConversationIDLen = 128

var chapterRe = regexp.MustCompile(`^\d+$`)

// Config holds the tuning parameters for a Pipeline.
type Config struct {
	TopK             int
	MaxContextChunks int
	SectionCap       int
	MaxQuestionRunes int
	MaxResultsLimit  int
	TokenBudget      int
	Temperature      float32
	MaxTokens        int
	Model            string
	ProviderRetry    provider.RetryConfig
	IndexRetry       provider.RetryConfig
}

// DefaultConfig returns the parameters used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TopK:             5,
		MaxContextChunks: 4,
		SectionCap:       2,
		MaxQuestionRunes: 500,
		MaxResultsLimit:  10,
		TokenBudget:      6000,
		Temperature:      0.3,
		MaxTokens:        1024,
		ProviderRetry:    provider.DefaultRetryConfig(),
		IndexRetry: provider.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			TimeoutAttempts: 1,
		},
	}
}

// Question is a single user query.
type Question struct {
	Text           string
	ConversationID string
	Chapter        string
	MaxResults     int
}

// ResultKind distinguishes a real answer from the no-content apology.
type ResultKind string

const (
	ResultAnswer    ResultKind = "answer"
	ResultNoContent ResultKind = "no_content"
)

// TokenUsage aggregates token counts across the embedding and generation
// stages of one query.
type TokenUsage struct {
	Embedding int `json:"embedding"`
	Input     int `json:"input"`
	Output    int `json:"output"`
}

// Total returns the sum of all counted tokens.
func (u TokenUsage) Total() int { return u.Embedding + u.Input + u.Output }

// Timing records per-stage wall clock for one query.
type Timing struct {
	Embedding  time.Duration `json:"-"`
	Retrieval  time.Duration `json:"-"`
	Generation time.Duration `json:"-"`
	Total      time.Duration `json:"-"`
}

// QueryResult is the outcome of a successful Ask call. It is not modified
// after being returned.
type QueryResult struct {
	Answer         string
	Citations      []Citation
	Tokens         TokenUsage
	Timing         Timing
	Model          string
	ChunksFound    int
	ChunksUsed     int
	ContextTrimmed int
	Kind           ResultKind
	ConversationID string
}

// Pipeline runs the full question-answering flow: embed the question,
// retrieve nearest chunks, assemble context, build the prompt, generate,
// and map citations. Safe for concurrent use.
type Pipeline struct {
	embedder embed.Provider
	index    Searcher
	llm      llm.Client
	cfg      Config
	limiter  *rate.Limiter
	breaker  *provider.CircuitBreaker
	tracer   trace.Tracer
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithLimiter rate-limits LLM calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithTracer sets the tracer for per-stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline wires the stages together. embedder, idx, and client are
// required; logger may be nil.
func NewPipeline(embedder embed.Provider, idx Searcher, client llm.Client, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = cfg.TopK
	}
	if cfg.MaxQuestionRunes <= 0 {
		cfg.MaxQuestionRunes = 500
	}
	if cfg.MaxResultsLimit <= 0 {
		cfg.MaxResultsLimit = 10
	}
	if cfg.ProviderRetry.MaxAttempts <= 0 {
		cfg.ProviderRetry = provider.DefaultRetryConfig()
	}
	if cfg.IndexRetry.MaxAttempts <= 0 {
		cfg.IndexRetry = DefaultConfig().IndexRetry
	}

	p := &Pipeline{
		embedder: embedder,
		index:    idx,
		llm:      client,
		cfg:      cfg,
		breaker:  provider.NewCircuitBreaker(provider.CircuitBreakerConfig{}),
		tracer:   noop.NewTracerProvider().Tracer("rag"),
		metrics:  &Metrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Metrics exposes the pipeline counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Ask answers one question. Failures carry a *Error whose Kind tells the
// caller whether the fault is the question, the index, or an upstream
// provider.
func (p *Pipeline) Ask(ctx context.Context, q Question) (*QueryResult, error) {
	p.metrics.queries.Add(1)
	started := time.Now()

	q, err := p.validate(q)
	if err != nil {
		p.metrics.recordFailure(KindValidation)
		return nil, err
	}

	logger := p.logger.With("conversation_id", q.ConversationID)

	// Embed.
	embedStart := time.Now()
	vec, err := p.embedQuestion(ctx, q.Text)
	embedDur := time.Since(embedStart)
	if err != nil {
		return nil, p.fail(logger, "embedding failed", err)
	}

	// Retrieve.
	retrieveStart := time.Now()
	topK := q.MaxResults
	if topK == 0 {
		topK = p.cfg.TopK
	}
	candidates, err := p.retrieveSpan(ctx, vec.Values, topK, q.Chapter)
	retrieveDur := time.Since(retrieveStart)
	if err != nil {
		return nil, p.fail(logger, "retrieval failed", err)
	}

	if len(candidates) == 0 {
		p.metrics.noContent.Add(1)
		logger.Info("no relevant chunks found",
			"chapter", q.Chapter,
			"retrieval_ms", retrieveDur.Milliseconds())
		return &QueryResult{
			Answer:         noContentAnswer,
			Citations:      []Citation{},
			Tokens:         TokenUsage{Embedding: vec.Tokens},
			Timing:         Timing{Embedding: embedDur, Retrieval: retrieveDur, Total: time.Since(started)},
			Model:          p.model(),
			Kind:           ResultNoContent,
			ConversationID: q.ConversationID,
		}, nil
	}

	// Assemble and build.
	assembled, req, trimmed := p.buildRequest(ctx, q.Text, candidates)

	// Generate.
	genStart := time.Now()
	resp, err := p.generate(ctx, req)
	genDur := time.Since(genStart)
	if err != nil {
		return nil, p.fail(logger, "generation failed", err)
	}

	citations := p.mapCitations(ctx, resp.Text, assembled, logger)

	usage := TokenUsage{Embedding: vec.Tokens, Input: resp.InputTokens, Output: resp.OutputTokens}
	p.metrics.recordAnswer(usage, trimmed)

	result := &QueryResult{
		Answer:         resp.Text,
		Citations:      citations,
		Tokens:         usage,
		Timing:         Timing{Embedding: embedDur, Retrieval: retrieveDur, Generation: genDur, Total: time.Since(started)},
		Model:          p.model(),
		ChunksFound:    len(candidates),
		ChunksUsed:     len(assembled.Chunks),
		ContextTrimmed: trimmed,
		Kind:           ResultAnswer,
		ConversationID: q.ConversationID,
	}

	logger.Info("question answered",
		"chunks_found", result.ChunksFound,
		"chunks_used", result.ChunksUsed,
		"trimmed", trimmed,
		"citations", len(citations),
		"tokens_total", usage.Total(),
		"total_ms", result.Timing.Total.Milliseconds())
	return result, nil
}

// validate normalizes the question and rejects malformed input before any
// external call is made.
func (p *Pipeline) validate(q Question) (Question, error) {
	q.Text = strings.TrimSpace(q.Text)
	runes := utf8.RuneCountInString(q.Text)
	if runes == 0 {
		return q, newError(KindValidation, "spurning má ekki vera tóm", nil)
	}
	if runes > p.cfg.MaxQuestionRunes {
		return q, newError(KindValidation, "spurning er of löng", nil)
	}
	if q.MaxResults < 0 || q.MaxResults > p.cfg.MaxResultsLimit {
		return q, newError(KindValidation, "max_results utan marka", nil)
	}
	if len(q.ConversationID) > maxConversationIDLen {
		return q, newError(KindValidation, "conversation_id er of langt", nil)
	}
	if q.ConversationID == "" {
		q.ConversationID = uuid.NewString()
	}
	if q.Chapter != "" && !chapterRe.MatchString(q.Chapter) {
		return q, newError(KindValidation, "kafli verður að vera tala", nil)
	}
	return q, nil
}

func (p *Pipeline) embedQuestion(ctx context.Context, text string) (embed.Vector, error) {
	ctx, span := p.tracer.Start(ctx, "rag.embed")
	defer span.End()

	vec, err := provider.Do(ctx, p.cfg.ProviderRetry, nil, nil, p.logger, "rag.embed",
		func(ctx context.Context) (embed.Vector, error) {
			return p.embedder.Embed(ctx, text)
		})
	if err != nil {
		return embed.Vector{}, classifyProviderErr("embedding", err)
	}
	span.SetAttributes(attribute.Int("embed.tokens", vec.Tokens))
	return vec, nil
}

func (p *Pipeline) retrieveSpan(ctx context.Context, embedding []float32, topK int, chapter string) ([]index.SearchResult, error) {
	ctx, span := p.tracer.Start(ctx, "rag.retrieve")
	defer span.End()

	results, err := p.retrieve(ctx, embedding, topK, chapter)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieve.count", len(results)))
	return results, nil
}

func (p *Pipeline) buildRequest(ctx context.Context, question string, candidates []index.SearchResult) (AssembledContext, llm.Request, int) {
	_, span := p.tracer.Start(ctx, "rag.assemble")
	defer span.End()

	assembled := Assemble(candidates, p.cfg.MaxContextChunks, p.cfg.SectionCap)
	req, assembled, trimmed := BuildPrompt(question, assembled, p.cfg.Temperature, p.cfg.MaxTokens, p.cfg.TokenBudget)
	span.SetAttributes(
		attribute.Int("assemble.used", len(assembled.Chunks)),
		attribute.Int("assemble.trimmed", trimmed),
	)
	return assembled, req, trimmed
}

func (p *Pipeline) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, span := p.tracer.Start(ctx, "rag.generate")
	defer span.End()

	resp, err := provider.Do(ctx, p.cfg.ProviderRetry, p.limiter, p.breaker, p.logger, "rag.generate",
		func(ctx context.Context) (*llm.Response, error) {
			return p.llm.Generate(ctx, req)
		})
	if err != nil {
		return nil, classifyProviderErr("generation", err)
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

func (p *Pipeline) mapCitations(ctx context.Context, answer string, assembled AssembledContext, logger *slog.Logger) []Citation {
	_, span := p.tracer.Start(ctx, "rag.cite")
	defer span.End()

	citations, unresolved := MapCitations(answer, assembled, logger)
	if unresolved > 0 {
		p.metrics.unresolvedCites.Add(int64(unresolved))
	}
	span.SetAttributes(
		attribute.Int("cite.count", len(citations)),
		attribute.Int("cite.unresolved", unresolved),
	)
	return citations
}

// fail records the failure kind and logs it once at the pipeline boundary.
func (p *Pipeline) fail(logger *slog.Logger, msg string, err error) error {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindProviderUnavailable
	}
	p.metrics.recordFailure(kind)
	logger.Error(msg, "kind", kind.String(), "error", err)
	return err
}

func (p *Pipeline) model() string {
	if p.cfg.Model != "" {
		return p.cfg.Model
	}
	return p.llm.Model()
}

// Health reports whether the pipeline can serve answers: the index must be
// reachable and the corpus non-empty.
func (p *Pipeline) Health(ctx context.Context) error {
	n, err := p.index.Count(ctx)
	if err != nil {
		return newError(KindIndexUnavailable, "index unreachable", err)
	}
	if n == 0 {
		return newError(KindIndexUnavailable, "corpus is empty", nil)
	}
	return nil
}

// Stats bundles the corpus shape with the pipeline counters for the stats
// endpoint and CLI.
type Stats struct {
	Corpus  index.CorpusStats `json:"corpus"`
	Metrics MetricsSnapshot   `json:"metrics"`
	Breaker string            `json:"breaker"`
	TopK    int               `json:"top_k"`
	Model   string            `json:"model"`
}

// Stats returns corpus statistics, a counter snapshot, and the current
// state of the generation circuit breaker.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	corpus, err := p.index.Stats(ctx)
	if err != nil {
		return Stats{}, newError(KindIndexUnavailable, "corpus stats failed", err)
	}
	return Stats{
		Corpus:  corpus,
		Metrics: p.metrics.Snapshot(),
		Breaker: p.breaker.State().String(),
		TopK:    p.cfg.TopK,
		Model:   p.model(),
	}, nil
}
