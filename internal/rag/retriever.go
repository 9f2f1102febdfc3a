package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/provider"
)

// Searcher is the slice of the chunk index the pipeline needs.
// *index.Store satisfies it; tests substitute fakes.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, opts ...index.SearchOption) ([]index.SearchResult, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (index.CorpusStats, error)
}

// classifyIndexErr marks a store failure as transient so the retry loop
// allows a second attempt. Context cancellation and deadlines pass through
// unchanged: the loop already stops on cancellation and budgets timeouts.
func classifyIndexErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
}

// retrieve runs nearest-neighbor search with the bounded index retry policy,
// which allows fewer attempts than the provider policy.
func (p *Pipeline) retrieve(ctx context.Context, embedding []float32, topK int, chapter string) ([]index.SearchResult, error) {
	opts := []index.SearchOption{index.WithTopK(topK)}
	if chapter != "" {
		opts = append(opts, index.WithChapter(chapter))
	}

	results, err := provider.Do(ctx, p.cfg.IndexRetry, nil, nil, p.logger, "rag.retrieve",
		func(ctx context.Context) ([]index.SearchResult, error) {
			results, err := p.index.Search(ctx, embedding, opts...)
			return results, classifyIndexErr(err)
		})
	if err != nil {
		return nil, newError(KindIndexUnavailable, "vector search failed", err)
	}
	return results, nil
}
