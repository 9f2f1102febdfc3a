// Package embed turns text into fixed-dimension float vectors via an external
// embedding service. Two providers are supported: OpenAI
// (text-embedding-3-small, the default) and Google (gemini-embedding-001).
//
// Providers classify SDK errors at the boundary into provider.ErrRejected
// (4xx, never retried) and provider.ErrUnavailable (network/5xx, retried by
// the pipeline). Retry policy lives in the caller, not here.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Vector is an embedding plus the tokens the provider billed for it.
type Vector struct {
	Values []float32
	Tokens int
}

// Provider generates embeddings for query and ingestion text.
type Provider interface {
	// Embed embeds a single text (the query path).
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedBatch embeds many texts (the ingestion path), preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)

	// Dimensions returns the configured embedding dimensionality.
	Dimensions() int
}

// Config tunes a provider implementation.
type Config struct {
	Model        string
	Dimensions   int
	Timeout      time.Duration // per-call deadline
	BatchSize    int           // max texts per upstream call
	MaxTextRunes int           // reject longer inputs before calling out
}

// validateText rejects input the provider would reject anyway, without
// spending a network call.
func validateText(text string, maxRunes int) error {
	if text == "" {
		return errors.New("cannot embed empty text")
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return fmt.Errorf("text length %d exceeds limit %d runes",
			utf8.RuneCountInString(text), maxRunes)
	}
	return nil
}

// batches splits texts into batches of at most size, preserving order.
func batches(texts []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
