package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
)

type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	err        error
	dims       int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) (embed.Vector, error) {
	if f.err != nil {
		return embed.Vector{}, f.err
	}
	return embed.Vector{Values: make([]float32, f.dims)}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([]embed.Vector, error) {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]embed.Vector, len(texts))
	for i := range out {
		out[i] = embed.Vector{Values: make([]float32, f.dims)}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeInserter struct {
	mu        sync.Mutex
	inserted  []index.InsertParams
	deleted   []string
	insertErr error
}

func (f *fakeInserter) Insert(_ context.Context, arg index.InsertParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, arg)
	return int64(len(f.inserted)), nil
}

func (f *fakeInserter) DeleteChapter(_ context.Context, chapter string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, chapter)
	return 3, nil
}

func writeCurriculum(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func curriculumMarkdown() string {
	return strings.Join([]string{
		"# Kafli 3: Sýrur og basar",
		"",
		"## 3.1 Eiginleikar sýra",
		"",
		para(250),
		"",
		"## 3.2 pH-kvarðinn",
		"",
		para(250),
		"",
	}, "\n")
}

func TestRunIngestsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeCurriculum(t, dir, "kafli3.md", curriculumMarkdown())

	embedder := &fakeEmbedder{dims: 4}
	inserter := &fakeInserter{}
	ing := NewIngester(embedder, inserter, Config{DataDir: dir}, nil)

	summary, err := ing.Run(context.Background(), file)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Files != 1 || summary.Chunks != 2 || summary.Inserted != 2 {
		t.Errorf("summary = %+v, want 1 file, 2 chunks, 2 inserted", summary)
	}
	if len(inserter.inserted) != 2 {
		t.Fatalf("inserted %d chunks, want 2", len(inserter.inserted))
	}
	got := inserter.inserted[0]
	if got.Key != "k3.1-0" || got.Chapter != "3" || got.Section != "3.1" {
		t.Errorf("first insert = %+v", got)
	}
	if len(got.Embedding) != 4 {
		t.Errorf("embedding dims = %d, want 4", len(got.Embedding))
	}
	if len(inserter.deleted) != 0 {
		t.Errorf("DeleteChapter called without -replace: %v", inserter.deleted)
	}
}

func TestRunIngestsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCurriculum(t, dir, "kafli3.md", curriculumMarkdown())
	writeCurriculum(t, dir, "kafli5.md", strings.Join([]string{
		"# Kafli 5: Lofttegundir",
		"",
		"## 5.1 Þrýstingur",
		"",
		para(250),
		"",
	}, "\n"))
	writeCurriculum(t, dir, "notes.txt", "ekki markdown")

	ing := NewIngester(&fakeEmbedder{dims: 4}, &fakeInserter{}, Config{DataDir: dir}, nil)
	summary, err := ing.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Files != 2 {
		t.Errorf("Files = %d, want 2 (.txt skipped)", summary.Files)
	}
	if summary.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", summary.Chunks)
	}
}

func TestRunReplaceDeletesChaptersOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeCurriculum(t, dir, "kafli3.md", curriculumMarkdown())

	inserter := &fakeInserter{}
	ing := NewIngester(&fakeEmbedder{dims: 4}, inserter, Config{DataDir: dir, Replace: true}, nil)

	summary, err := ing.Run(context.Background(), file)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(inserter.deleted) != 1 || inserter.deleted[0] != "3" {
		t.Errorf("deleted chapters = %v, want [3] exactly once", inserter.deleted)
	}
	if summary.Deleted != 3 {
		t.Errorf("summary.Deleted = %d, want 3", summary.Deleted)
	}
}

func TestRunBatchesEmbedding(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var parts []string
	parts = append(parts, "# Kafli 3: Sýrur og basar")
	// Five sections of one chunk each, batch size two.
	for _, s := range []string{"3.1", "3.2", "3.3", "3.4", "3.5"} {
		parts = append(parts, "", "## "+s+" Grein", "", para(250))
	}
	file := writeCurriculum(t, dir, "kafli3.md", strings.Join(parts, "\n"))

	embedder := &fakeEmbedder{dims: 4}
	ing := NewIngester(embedder, &fakeInserter{}, Config{DataDir: dir, BatchSize: 2}, nil)

	summary, err := ing.Run(context.Background(), file)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Inserted != 5 {
		t.Errorf("Inserted = %d, want 5", summary.Inserted)
	}
	want := []int{2, 2, 1}
	if len(embedder.batchSizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", embedder.batchSizes, want)
	}
	for i, w := range want {
		if embedder.batchSizes[i] != w {
			t.Errorf("batch[%d] = %d, want %d", i, embedder.batchSizes[i], w)
		}
	}
}

func TestRunRejectsConcurrentIngestion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeCurriculum(t, dir, "kafli3.md", curriculumMarkdown())

	held := flock.New(filepath.Join(dir, "efni-ingest.lock"))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not pre-acquire lock: locked=%v err=%v", locked, err)
	}
	defer held.Unlock() //nolint:errcheck

	ing := NewIngester(&fakeEmbedder{dims: 4}, &fakeInserter{}, Config{DataDir: dir}, nil)
	_, err = ing.Run(context.Background(), file)
	if err == nil || !strings.Contains(err.Error(), "another ingestion") {
		t.Errorf("Run() = %v, want lock contention error", err)
	}
}

func TestRunEmbeddingFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeCurriculum(t, dir, "kafli3.md", curriculumMarkdown())

	embedErr := errors.New("upstream down")
	inserter := &fakeInserter{}
	ing := NewIngester(&fakeEmbedder{dims: 4, err: embedErr}, inserter, Config{DataDir: dir}, nil)

	_, err := ing.Run(context.Background(), file)
	if err == nil || !errors.Is(err, embedErr) {
		t.Errorf("Run() = %v, want wrapped embed error", err)
	}
	if len(inserter.inserted) != 0 {
		t.Errorf("inserted %d chunks after embed failure", len(inserter.inserted))
	}
}

func TestRunMissingPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ing := NewIngester(&fakeEmbedder{dims: 4}, &fakeInserter{}, Config{DataDir: dir}, nil)
	if _, err := ing.Run(context.Background(), filepath.Join(dir, "vantar.md")); err == nil {
		t.Error("Run() on a missing path should fail")
	}
}
