package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/eddalabs/efni/internal/provider"
)

// Google generates responses with the Gemini API (google.golang.org/genai).
type Google struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// NewGoogle creates a Gemini client.
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

// Model returns the configured model name.
func (g *Google) Model() string { return g.cfg.Model }

// Generate performs a single GenerateContent call.
func (g *Google) Generate(ctx context.Context, req Request) (*Response, error) {
	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	temp := req.Temperature
	resp, err := g.client.Models.GenerateContent(callCtx, g.cfg.Model,
		genai.Text(req.User),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
			Temperature:       &temp,
			MaxOutputTokens:   int32(req.MaxTokens),
		})
	if err != nil {
		return nil, g.classify(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini generate: empty response")
	}

	out := &Response{Text: text}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	g.logger.Debug("gemini generation completed",
		"model", g.cfg.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"stop_reason", out.StopReason,
	)
	return out, nil
}

// classify maps genai errors onto the shared provider sentinels.
func (g *Google) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("gemini generate: %w", err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus("gemini generate", apiErr.Code, err)
	}
	return provider.ClassifyStatus("gemini generate", 0, err)
}
