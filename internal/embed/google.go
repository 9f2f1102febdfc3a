package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/eddalabs/efni/internal/provider"
)

// Google embeds text with the Gemini embedding API
// (google.golang.org/genai, model gemini-embedding-001).
type Google struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// NewGoogle creates a Google embedding provider.
func NewGoogle(ctx context.Context, apiKey string, cfg Config, logger *slog.Logger) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Google{client: client, cfg: cfg, logger: logger}, nil
}

// Dimensions returns the configured embedding dimensionality.
func (g *Google) Dimensions() int { return g.cfg.Dimensions }

// Embed embeds a single text.
func (g *Google) Embed(ctx context.Context, text string) (Vector, error) {
	if err := validateText(text, g.cfg.MaxTextRunes); err != nil {
		return Vector{}, fmt.Errorf("%w: %w", provider.ErrRejected, err)
	}

	vecs, err := g.call(ctx, []string{text})
	if err != nil {
		return Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of cfg.BatchSize, preserving order.
func (g *Google) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	for i, text := range texts {
		if err := validateText(text, g.cfg.MaxTextRunes); err != nil {
			return nil, fmt.Errorf("%w: text %d: %w", provider.ErrRejected, i, err)
		}
	}

	out := make([]Vector, 0, len(texts))
	for _, batch := range batches(texts, g.cfg.BatchSize) {
		vecs, err := g.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Google) call(ctx context.Context, texts []string) ([]Vector, error) {
	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := int32(g.cfg.Dimensions)
	resp, err := g.client.Models.EmbedContent(callCtx, g.cfg.Model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, g.classify(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts",
			len(resp.Embeddings), len(texts))
	}

	out := make([]Vector, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini embed: empty embedding at index %d", i)
		}
		out[i] = Vector{Values: e.Values}
		if e.Statistics != nil {
			out[i].Tokens = int(e.Statistics.TokenCount)
		}
	}

	g.logger.Debug("gemini embeddings created", "model", g.cfg.Model, "texts", len(texts))
	return out, nil
}

// classify maps genai errors onto the shared provider sentinels.
func (g *Google) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("gemini embed: %w", err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus("gemini embed", apiErr.Code, err)
	}
	return provider.ClassifyStatus("gemini embed", 0, err)
}
