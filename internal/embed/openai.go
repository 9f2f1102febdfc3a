package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/eddalabs/efni/internal/provider"
)

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI embedding provider.
func NewOpenAI(apiKey string, cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Dimensions returns the configured embedding dimensionality.
func (o *OpenAI) Dimensions() int { return o.cfg.Dimensions }

// Embed embeds a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) (Vector, error) {
	if err := validateText(text, o.cfg.MaxTextRunes); err != nil {
		return Vector{}, fmt.Errorf("%w: %w", provider.ErrRejected, err)
	}

	vecs, err := o.call(ctx, []string{text})
	if err != nil {
		return Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of cfg.BatchSize, preserving order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	for i, text := range texts {
		if err := validateText(text, o.cfg.MaxTextRunes); err != nil {
			return nil, fmt.Errorf("%w: text %d: %w", provider.ErrRejected, i, err)
		}
	}

	out := make([]Vector, 0, len(texts))
	for _, batch := range batches(texts, o.cfg.BatchSize) {
		vecs, err := o.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// call performs one embeddings request under the per-call timeout and
// classifies any SDK error.
func (o *OpenAI) call(ctx context.Context, texts []string) ([]Vector, error) {
	callCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	resp, err := o.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(o.cfg.Model),
		Input:      texts,
		Dimensions: o.cfg.Dimensions,
	})
	if err != nil {
		return nil, o.classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d texts",
			len(resp.Data), len(texts))
	}

	// Usage is reported per request; attribute it to the first vector so the
	// caller's sum stays correct.
	out := make([]Vector, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = Vector{Values: d.Embedding}
	}
	out[0].Tokens = resp.Usage.PromptTokens

	o.logger.Debug("openai embeddings created",
		"model", o.cfg.Model,
		"texts", len(texts),
		"tokens", resp.Usage.PromptTokens,
	)
	return out, nil
}

// classify maps go-openai errors onto the shared provider sentinels.
func (o *OpenAI) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai embed: %w", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus("openai embed", apiErr.HTTPStatusCode, err)
	}
	// No HTTP response at all (DNS, connection refused): transient.
	return provider.ClassifyStatus("openai embed", 0, err)
}
