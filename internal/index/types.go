// Package index provides the read-mostly chunk store backing retrieval:
// PostgreSQL + pgvector nearest-neighbor search over ingested curriculum
// chunks. Chunks are written by the offline ingestion command and never
// mutated by the query path.
package index

import "time"

// Chunk is an immutable unit of ingested curriculum content.
// ID is a bigserial primary key; its order reflects insertion order and is
// used as the deterministic tie-break for equal similarities.
type Chunk struct {
	ID        int64
	Key       string // stable chunk key, e.g. "k3.1-0"
	Content   string
	Chapter   string // "3"
	Section   string // dotted, "3.1"
	Title     string
	WordCount int
	CreatedAt time.Time
}

// SearchResult pairs a chunk with its cosine similarity to the query vector.
// Ephemeral: produced per query, discarded after context assembly.
type SearchResult struct {
	Chunk      Chunk
	Similarity float64
}

// CorpusStats summarizes the ingested corpus.
type CorpusStats struct {
	TotalChunks int64 `json:"total_chunks"`
	Chapters    int64 `json:"chapters"`
	Sections    int64 `json:"sections"`
}

// InsertParams carries a new chunk plus its embedding into the store.
type InsertParams struct {
	Key       string
	Content   string
	Chapter   string
	Section   string
	Title     string
	WordCount int
	Embedding []float32
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	chapter string
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithChapter restricts results to a single chapter (e.g. "3").
// An empty value means no filter.
func WithChapter(chapter string) SearchOption {
	return func(c *searchConfig) {
		c.chapter = chapter
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{topK: 5}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
