// Package llm invokes the external generation model. Two providers are
// supported: Anthropic (claude-sonnet-4, the default) and Google (Gemini).
//
// Clients perform exactly one upstream call per Generate; retry, backoff,
// rate limiting and the circuit breaker live in the pipeline so the policy is
// shared with the embedding provider. SDK errors are classified into
// provider.ErrRejected / provider.ErrUnavailable at this boundary.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Request is a fully composed generation request. Temperature and MaxTokens
// come from immutable configuration, not request-time input, to keep answers
// reproducible enough for testing.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Response is the parsed provider response.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client generates model responses.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Config tunes a client implementation.
type Config struct {
	Model   string
	Timeout time.Duration // per-attempt deadline
}

// EstimateTokens provides a rough token count: rune count divided by 2,
// a conservative estimate that holds for both English and accented
// Icelandic text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// icelandicProbe contains every Icelandic-specific character. Used by
// ValidateIcelandic to verify a model round-trips them intact.
const icelandicProbe = "Prófun á íslenskum stöfum: á, ð, þ, æ, ö, ó, í, ú, ý, é"

// ValidateIcelandic asks the model to repeat a probe sentence and checks that
// every Icelandic character survives the round trip. Used by `efni doctor` to
// catch encoding or tokenizer problems before they garble student answers.
func ValidateIcelandic(ctx context.Context, client Client) error {
	resp, err := client.Generate(ctx, Request{
		System:      "Þú ert prófunartól. Endurtaktu texta nákvæmlega.",
		User:        fmt.Sprintf("Endurtaktu nákvæmlega: %s", icelandicProbe),
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return fmt.Errorf("icelandic validation call: %w", err)
	}

	var missing []string
	for _, r := range "áðþæöóíúýé" {
		if !strings.ContainsRune(resp.Text, r) {
			missing = append(missing, string(r))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("model %s dropped icelandic characters: %s",
			client.Model(), strings.Join(missing, ", "))
	}
	return nil
}
