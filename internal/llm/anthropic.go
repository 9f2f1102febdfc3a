package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/eddalabs/efni/internal/provider"
)

// Anthropic generates responses with the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(apiKey string, cfg Config, logger *slog.Logger) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (a *Anthropic) Model() string { return a.cfg.Model }

// Generate performs a single Messages API call.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	msg, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return nil, a.classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic generate: empty response (stop reason %q)", msg.StopReason)
	}

	resp := &Response{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}

	a.logger.Debug("anthropic generation completed",
		"model", a.cfg.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return resp, nil
}

// classify maps Anthropic SDK errors onto the shared provider sentinels.
func (a *Anthropic) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("anthropic generate: %w", err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus("anthropic generate", apiErr.StatusCode, err)
	}
	return provider.ClassifyStatus("anthropic generate", 0, err)
}
