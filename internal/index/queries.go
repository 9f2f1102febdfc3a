package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the Store needs. Defined by the
// consumer (like http.RoundTripper or io.Reader) so tests can substitute a
// fake without a database.
type Querier interface {
	// SearchChunks returns up to topK chunks ordered by cosine distance to
	// the query embedding, ties broken by id. Empty chapter means no filter.
	SearchChunks(ctx context.Context, embedding []float32, topK int, chapter string) ([]SearchResult, error)

	// InsertChunk inserts a chunk and returns its assigned id.
	InsertChunk(ctx context.Context, arg InsertParams) (int64, error)

	// DeleteChunksByChapter removes all chunks of a chapter, returning the count.
	DeleteChunksByChapter(ctx context.Context, chapter string) (int64, error)

	// CountChunks returns the total number of chunks.
	CountChunks(ctx context.Context) (int64, error)

	// CorpusStats returns corpus-level aggregates.
	CorpusStats(ctx context.Context) (CorpusStats, error)
}

// Queries implements Querier against a pgx connection pool with hand-written
// SQL. The pool handles concurrent readers; all queries are parameterized.
type Queries struct {
	db *pgxpool.Pool
}

// NewQueries creates a Queries bound to the given pool.
func NewQueries(db *pgxpool.Pool) *Queries {
	return &Queries{db: db}
}

const searchChunksSQL = `
SELECT id, chunk_key, content, chapter, section, title, word_count, created_at,
       1 - (embedding <=> $1) AS similarity
FROM chunks
WHERE ($3 = '' OR chapter = $3)
ORDER BY embedding <=> $1, id
LIMIT $2`

// SearchChunks performs nearest-neighbor search with cosine distance.
// The secondary ORDER BY id makes equal-distance ordering deterministic
// (insertion order).
func (q *Queries) SearchChunks(ctx context.Context, embedding []float32, topK int, chapter string) ([]SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := q.db.Query(ctx, searchChunksSQL, vec, topK, chapter)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Chunk.ID,
			&r.Chunk.Key,
			&r.Chunk.Content,
			&r.Chunk.Chapter,
			&r.Chunk.Section,
			&r.Chunk.Title,
			&r.Chunk.WordCount,
			&r.Chunk.CreatedAt,
			&r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return results, nil
}

const insertChunkSQL = `
INSERT INTO chunks (chunk_key, content, chapter, section, title, word_count, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chunk_key) DO UPDATE SET
    content = EXCLUDED.content,
    chapter = EXCLUDED.chapter,
    section = EXCLUDED.section,
    title = EXCLUDED.title,
    word_count = EXCLUDED.word_count,
    embedding = EXCLUDED.embedding
RETURNING id`

// InsertChunk upserts by chunk_key so re-ingesting a file is idempotent.
func (q *Queries) InsertChunk(ctx context.Context, arg InsertParams) (int64, error) {
	vec := pgvector.NewVector(arg.Embedding)
	var id int64
	err := q.db.QueryRow(ctx, insertChunkSQL,
		arg.Key, arg.Content, arg.Chapter, arg.Section, arg.Title, arg.WordCount, vec,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting chunk %q: %w", arg.Key, err)
	}
	return id, nil
}

// DeleteChunksByChapter removes a chapter's chunks (used by ingest -replace).
func (q *Queries) DeleteChunksByChapter(ctx context.Context, chapter string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM chunks WHERE chapter = $1`, chapter)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for chapter %q: %w", chapter, err)
	}
	return tag.RowsAffected(), nil
}

// CountChunks returns the total chunk count.
func (q *Queries) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

const corpusStatsSQL = `
SELECT COUNT(*),
       COUNT(DISTINCT chapter),
       COUNT(DISTINCT (chapter, section))
FROM chunks`

// CorpusStats returns corpus-level aggregates for the stats endpoint.
func (q *Queries) CorpusStats(ctx context.Context) (CorpusStats, error) {
	var s CorpusStats
	err := q.db.QueryRow(ctx, corpusStatsSQL).Scan(&s.TotalChunks, &s.Chapters, &s.Sections)
	if err != nil {
		return CorpusStats{}, fmt.Errorf("reading corpus stats: %w", err)
	}
	return s, nil
}

// compile-time check
var _ Querier = (*Queries)(nil)
