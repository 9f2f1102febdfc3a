package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// searchTimeout bounds a single vector search so a slow index cannot block a
// query indefinitely.
const searchTimeout = 5 * time.Second

// Store manages curriculum chunks with vector search capabilities.
// Safe for concurrent use by multiple goroutines; the query path only reads.
type Store struct {
	queries Querier
	logger  *slog.Logger
}

// NewStore creates a Store.
//
// Example (production):
//
//	store := index.NewStore(index.NewQueries(pool), logger.With("component", "index"))
//
// Example (testing):
//
//	store := index.NewStore(fakeQuerier, log.NewNop())
func NewStore(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, logger: logger}
}

// Search performs nearest-neighbor search over the chunk index.
// Results are ordered by similarity descending, ties by insertion order.
//
//	results, err := store.Search(ctx, vec,
//	    index.WithTopK(5),
//	    index.WithChapter("3"))
func (s *Store) Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]SearchResult, error) {
	cfg := buildSearchConfig(opts)
	if cfg.topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", cfg.topK)
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	results, err := s.queries.SearchChunks(queryCtx, embedding, cfg.topK, cfg.chapter)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	s.logger.Debug("vector search completed",
		"top_k", cfg.topK,
		"chapter", cfg.chapter,
		"results", len(results),
	)
	return results, nil
}

// Insert adds a chunk to the index. Used by offline ingestion only.
func (s *Store) Insert(ctx context.Context, arg InsertParams) (int64, error) {
	if arg.Key == "" {
		return 0, errors.New("chunk key cannot be empty")
	}
	if arg.Content == "" {
		return 0, fmt.Errorf("chunk %q has empty content", arg.Key)
	}
	if len(arg.Embedding) == 0 {
		return 0, fmt.Errorf("chunk %q has empty embedding", arg.Key)
	}

	id, err := s.queries.InsertChunk(ctx, arg)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("inserted chunk", "key", arg.Key, "id", id, "words", arg.WordCount)
	return id, nil
}

// DeleteChapter removes all chunks of a chapter, returning how many were removed.
func (s *Store) DeleteChapter(ctx context.Context, chapter string) (int64, error) {
	n, err := s.queries.DeleteChunksByChapter(ctx, chapter)
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted chapter chunks", "chapter", chapter, "count", n)
	return n, nil
}

// Count returns the total number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.queries.CountChunks(ctx)
}

// Stats returns corpus-level aggregates.
func (s *Store) Stats(ctx context.Context) (CorpusStats, error) {
	return s.queries.CorpusStats(ctx)
}
