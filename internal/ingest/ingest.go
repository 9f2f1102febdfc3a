package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
)

// Inserter is the slice of the chunk index ingestion writes to.
type Inserter interface {
	Insert(ctx context.Context, arg index.InsertParams) (int64, error)
	DeleteChapter(ctx context.Context, chapter string) (int64, error)
}

// Config controls one ingestion run.
type Config struct {
	DataDir   string // lock file directory
	LockFile  string // file name, default efni-ingest.lock
	BatchSize int    // texts per EmbedBatch call, default 100
	Replace   bool   // delete each touched chapter's chunks before inserting
}

// Summary reports what an ingestion run did.
type Summary struct {
	Files    int   `json:"files"`
	Chunks   int   `json:"chunks"`
	Inserted int   `json:"inserted"`
	Deleted  int64 `json:"deleted"`
	Warnings int   `json:"warnings"`
}

// Ingester chunks markdown files, embeds the chunks in batches, and writes
// them to the index. Single-writer: a file lock rejects concurrent runs.
type Ingester struct {
	embedder embed.Provider
	index    Inserter
	cfg      Config
	logger   *slog.Logger
}

// NewIngester wires an ingestion run. logger may be nil.
func NewIngester(embedder embed.Provider, idx Inserter, cfg Config, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "efni-ingest.lock"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	return &Ingester{embedder: embedder, index: idx, cfg: cfg, logger: logger}
}

// Run ingests path, which may be a single markdown file or a directory of
// .md files (non-recursive). It acquires the ingest lock first and fails
// fast when another ingester holds it.
func (ing *Ingester) Run(ctx context.Context, path string) (*Summary, error) {
	lockPath := filepath.Join(ing.cfg.DataDir, ing.cfg.LockFile)
	if err := os.MkdirAll(ing.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another ingestion is running (lock held on %s)", lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			ing.logger.Warn("releasing ingest lock failed", "path", lockPath, "error", err)
		}
	}()

	runID := uuid.NewString()
	logger := ing.logger.With("run_id", runID)

	files, err := collectFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no markdown files found at %s", path)
	}
	logger.Info("ingestion started", "path", path, "files", len(files), "replace", ing.cfg.Replace)

	summary := &Summary{Files: len(files)}
	var chunks []Chunk
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		fileChunks, err := ChunkMarkdown(string(content))
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", file, err)
		}
		if len(fileChunks) == 0 {
			logger.Warn("no chunks produced", "file", file)
			continue
		}
		for _, c := range fileChunks {
			for _, w := range c.Validate() {
				summary.Warnings++
				logger.Warn("chunk validation", "key", c.Key, "file", file, "problem", w)
			}
		}
		chunks = append(chunks, fileChunks...)
	}
	summary.Chunks = len(chunks)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no ingestible content in %s", path)
	}

	if ing.cfg.Replace {
		deleted, err := ing.deleteChapters(ctx, chunks)
		if err != nil {
			return nil, err
		}
		summary.Deleted = deleted
	}

	inserted, err := ing.embedAndInsert(ctx, chunks, logger)
	summary.Inserted = inserted
	if err != nil {
		return summary, err
	}

	logger.Info("ingestion finished",
		"files", summary.Files,
		"chunks", summary.Chunks,
		"inserted", summary.Inserted,
		"deleted", summary.Deleted,
		"warnings", summary.Warnings)
	return summary, nil
}

// deleteChapters removes the existing chunks of every chapter the new chunk
// set touches, once per chapter.
func (ing *Ingester) deleteChapters(ctx context.Context, chunks []Chunk) (int64, error) {
	seen := make(map[string]bool)
	var total int64
	for _, c := range chunks {
		if c.Chapter == "" || seen[c.Chapter] {
			continue
		}
		seen[c.Chapter] = true
		n, err := ing.index.DeleteChapter(ctx, c.Chapter)
		if err != nil {
			return total, fmt.Errorf("deleting chapter %s: %w", c.Chapter, err)
		}
		total += n
	}
	return total, nil
}

// embedAndInsert embeds chunk contents in batches and inserts each chunk.
// It stops at the first error; already-inserted chunks stay (inserts are
// idempotent on chunk_key, rerunning completes the job).
func (ing *Ingester) embedAndInsert(ctx context.Context, chunks []Chunk, logger *slog.Logger) (int, error) {
	inserted := 0
	for start := 0; start < len(chunks); start += ing.cfg.BatchSize {
		end := min(start+ing.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return inserted, fmt.Errorf("embedding batch %d..%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return inserted, fmt.Errorf("embedding batch %d..%d: got %d vectors for %d texts",
				start, end-1, len(vectors), len(batch))
		}

		for i, c := range batch {
			if _, err := ing.index.Insert(ctx, index.InsertParams{
				Key:       c.Key,
				Content:   c.Content,
				Chapter:   c.Chapter,
				Section:   c.Section,
				Title:     c.Title,
				WordCount: c.WordCount,
				Embedding: vectors[i].Values,
			}); err != nil {
				return inserted, fmt.Errorf("inserting chunk %s: %w", c.Key, err)
			}
			inserted++
		}
		logger.Debug("batch ingested", "from", start, "to", end-1)
	}
	return inserted, nil
}

// collectFiles resolves path to a sorted list of markdown files.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
