package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/llm"
	"github.com/eddalabs/efni/internal/provider"
)

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   embed.Vector
	errs  []error // consumed one per call; nil entry means success
}

func (s *stubEmbedder) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) (embed.Vector, error) {
	if err := s.next(); err != nil {
		return embed.Vector{}, err
	}
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([]embed.Vector, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	out := make([]embed.Vector, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vec.Values) }

type stubIndex struct {
	mu      sync.Mutex
	calls   int
	results []index.SearchResult
	err     error
	count   int64
	stats   index.CorpusStats
}

func (s *stubIndex) Search(_ context.Context, _ []float32, _ ...index.SearchOption) ([]index.SearchResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubIndex) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubIndex) Count(_ context.Context) (int64, error)              { return s.count, s.err }
func (s *stubIndex) Stats(_ context.Context) (index.CorpusStats, error) { return s.stats, s.err }

type stubLLM struct {
	mu    sync.Mutex
	calls int
	text  string
	errs  []error // consumed one per call; nil entry means success
}

func (s *stubLLM) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: s.text, InputTokens: 120, OutputTokens: 45, StopReason: "end_turn"}, nil
}

func (s *stubLLM) Model() string { return "test-model" }

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ProviderRetry = provider.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
		TimeoutAttempts: 1,
	}
	cfg.IndexRetry = provider.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		TimeoutAttempts: 1,
	}
	return cfg
}

func acidCorpus() []index.SearchResult {
	return []index.SearchResult{
		chunkResult(1, "3", "3.1", "Sýrur og basar", "Sýra er efni sem gefur frá sér róteind í vatnslausn.", 0.95),
		chunkResult(2, "3", "3.2", "pH-kvarðinn", "pH-kvarðinn mælir styrk vetnisjóna.", 0.88),
	}
}

func newTestPipeline(e *stubEmbedder, idx *stubIndex, l *stubLLM) *Pipeline {
	return NewPipeline(e, idx, l, fastConfig(), nil)
}

func TestAskEndToEnd(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1, 0.2}, Tokens: 8}}
	idx := &stubIndex{results: acidCorpus()}
	client := &stubLLM{text: "Sýra er efni sem gefur frá sér róteind [Heimild 1]."}
	p := newTestPipeline(embedder, idx, client)

	got, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}

	if got.Kind != ResultAnswer {
		t.Errorf("Kind = %q, want %q", got.Kind, ResultAnswer)
	}
	if len(got.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: %+v", len(got.Citations), got.Citations)
	}
	if got.Citations[0].Chapter != "3" || got.Citations[0].Section != "3.1" {
		t.Errorf("citation = %+v, want chapter 3 section 3.1", got.Citations[0])
	}
	if got.ChunksFound != 2 || got.ChunksUsed != 2 {
		t.Errorf("ChunksFound=%d ChunksUsed=%d, want 2/2", got.ChunksFound, got.ChunksUsed)
	}
	if got.Tokens.Embedding != 8 || got.Tokens.Input != 120 || got.Tokens.Output != 45 {
		t.Errorf("token usage = %+v", got.Tokens)
	}
	if got.Tokens.Total() != 173 {
		t.Errorf("Total() = %d, want 173", got.Tokens.Total())
	}
	if got.ConversationID == "" {
		t.Error("ConversationID should be generated when absent")
	}
	if got.Model != "test-model" {
		t.Errorf("Model = %q", got.Model)
	}

	snap := p.Metrics().Snapshot()
	if snap.Queries != 1 || snap.Answers != 1 {
		t.Errorf("metrics queries=%d answers=%d, want 1/1", snap.Queries, snap.Answers)
	}
}

func TestAskValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		q    Question
	}{
		{"empty question", Question{Text: "   "}},
		{"question too long", Question{Text: strings.Repeat("a", 600)}},
		{"max results over limit", Question{Text: "Hvað er sýra?", MaxResults: 11}},
		{"negative max results", Question{Text: "Hvað er sýra?", MaxResults: -1}},
		{"conversation id too long", Question{Text: "Hvað er sýra?", ConversationID: strings.Repeat("x", 129)}},
		{"chapter not numeric", Question{Text: "Hvað er sýra?", Chapter: "3a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
			idx := &stubIndex{results: acidCorpus()}
			client := &stubLLM{text: "svar"}
			p := newTestPipeline(embedder, idx, client)

			_, err := p.Ask(context.Background(), tt.q)
			kind, ok := KindOf(err)
			if !ok || kind != KindValidation {
				t.Fatalf("got err %v, want KindValidation", err)
			}
			if n := embedder.callCount(); n != 0 {
				t.Errorf("embedder called %d times on invalid input", n)
			}
			if n := idx.callCount(); n != 0 {
				t.Errorf("index called %d times on invalid input", n)
			}
			if n := client.callCount(); n != 0 {
				t.Errorf("llm called %d times on invalid input", n)
			}
		})
	}
}

func TestAskPreservesConversationID(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	p := newTestPipeline(embedder, &stubIndex{results: acidCorpus()}, &stubLLM{text: "svar"})

	got, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?", ConversationID: "conv-42"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got.ConversationID != "conv-42" {
		t.Errorf("ConversationID = %q, want conv-42", got.ConversationID)
	}
}

func TestAskNoContent(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}, Tokens: 4}}
	idx := &stubIndex{results: nil}
	client := &stubLLM{text: "should never run"}
	p := newTestPipeline(embedder, idx, client)

	got, err := p.Ask(context.Background(), Question{Text: "Hvað er flogvéla-eðlisfræði?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if got.Kind != ResultNoContent {
		t.Errorf("Kind = %q, want %q", got.Kind, ResultNoContent)
	}
	if got.Answer != noContentAnswer {
		t.Errorf("Answer = %q, want the fixed apology", got.Answer)
	}
	if len(got.Citations) != 0 {
		t.Errorf("no-content result carries citations: %+v", got.Citations)
	}
	if n := client.callCount(); n != 0 {
		t.Errorf("llm called %d times, want 0", n)
	}
	snap := p.Metrics().Snapshot()
	if snap.NoContent != 1 || snap.Answers != 0 {
		t.Errorf("metrics no_content=%d answers=%d, want 1/0", snap.NoContent, snap.Answers)
	}
}

func TestAskRetriesTransientLLMFailure(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	transient := fmt.Errorf("generate: %w: status 503", provider.ErrUnavailable)
	client := &stubLLM{text: "svar [Heimild 1]", errs: []error{transient, nil}}
	p := newTestPipeline(embedder, &stubIndex{results: acidCorpus()}, client)

	got, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if n := client.callCount(); n != 2 {
		t.Errorf("llm called %d times, want 2 (one retry)", n)
	}
	if got.Kind != ResultAnswer {
		t.Errorf("Kind = %q", got.Kind)
	}
	// One logical call: counters must not double-count retries.
	snap := p.Metrics().Snapshot()
	if snap.Queries != 1 || snap.Answers != 1 {
		t.Errorf("metrics queries=%d answers=%d, want 1/1", snap.Queries, snap.Answers)
	}
}

func TestAskExhaustsRetriesOnPersistent503(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	transient := fmt.Errorf("generate: %w: status 503", provider.ErrUnavailable)
	client := &stubLLM{text: "aldrei", errs: []error{transient, transient, transient, transient}}
	p := newTestPipeline(embedder, &stubIndex{results: acidCorpus()}, client)

	start := time.Now()
	_, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	elapsed := time.Since(start)

	kind, ok := KindOf(err)
	if !ok || kind != KindUpstreamExhausted {
		t.Fatalf("got err %v, want KindUpstreamExhausted", err)
	}
	if !errors.Is(err, provider.ErrExhausted) {
		t.Errorf("error should wrap provider.ErrExhausted: %v", err)
	}
	if n := client.callCount(); n != 3 {
		t.Errorf("llm called %d times, want exactly MaxAttempts=3", n)
	}
	// Backoff schedule 10ms + 20ms between the three attempts.
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %v shorter than the backoff schedule", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("elapsed %v far exceeds the backoff schedule", elapsed)
	}
	snap := p.Metrics().Snapshot()
	if snap.Exhausted != 1 {
		t.Errorf("exhausted counter = %d, want 1", snap.Exhausted)
	}
}

func TestAskRejectedNotRetried(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	rejected := fmt.Errorf("generate: %w: status 400", provider.ErrRejected)
	client := &stubLLM{errs: []error{rejected}}
	p := newTestPipeline(embedder, &stubIndex{results: acidCorpus()}, client)

	_, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	kind, ok := KindOf(err)
	if !ok || kind != KindProviderRejected {
		t.Fatalf("got err %v, want KindProviderRejected", err)
	}
	if n := client.callCount(); n != 1 {
		t.Errorf("llm called %d times, want 1 (no retry on rejection)", n)
	}
}

func TestAskEmbeddingFailure(t *testing.T) {
	t.Parallel()

	rejected := fmt.Errorf("embed: %w: invalid input", provider.ErrRejected)
	embedder := &stubEmbedder{errs: []error{rejected}}
	idx := &stubIndex{results: acidCorpus()}
	client := &stubLLM{text: "svar"}
	p := newTestPipeline(embedder, idx, client)

	_, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	kind, ok := KindOf(err)
	if !ok || kind != KindProviderRejected {
		t.Fatalf("got err %v, want KindProviderRejected", err)
	}
	if n := idx.callCount(); n != 0 {
		t.Errorf("index called %d times after embed failure", n)
	}
	if n := client.callCount(); n != 0 {
		t.Errorf("llm called %d times after embed failure", n)
	}
}

func TestAskIndexUnavailable(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	idx := &stubIndex{err: errors.New("connection refused")}
	client := &stubLLM{text: "svar"}
	p := newTestPipeline(embedder, idx, client)

	_, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	kind, ok := KindOf(err)
	if !ok || kind != KindIndexUnavailable {
		t.Fatalf("got err %v, want KindIndexUnavailable", err)
	}
	// Index retry policy allows a second attempt for transient store faults.
	if n := idx.callCount(); n != 2 {
		t.Errorf("index called %d times, want 2", n)
	}
	if n := client.callCount(); n != 0 {
		t.Errorf("llm called %d times, want 0", n)
	}
}

func TestClassifyIndexErr(t *testing.T) {
	t.Parallel()

	if got := classifyIndexErr(nil); got != nil {
		t.Errorf("classifyIndexErr(nil) = %v, want nil", got)
	}

	plain := classifyIndexErr(errors.New("connection refused"))
	if !provider.Retryable(plain) {
		t.Errorf("store failure should be retryable, got %v", plain)
	}

	// Cancellation and deadlines pass through so the retry loop can apply
	// its own stop and timeout-budget rules.
	if got := classifyIndexErr(context.Canceled); !errors.Is(got, context.Canceled) || errors.Is(got, provider.ErrUnavailable) {
		t.Errorf("canceled should pass through unwrapped, got %v", got)
	}
	if got := classifyIndexErr(context.DeadlineExceeded); !errors.Is(got, context.DeadlineExceeded) || errors.Is(got, provider.ErrUnavailable) {
		t.Errorf("deadline should pass through unwrapped, got %v", got)
	}
}

func TestAskCountsUnresolvedCitations(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}, Tokens: 4}}
	idx := &stubIndex{results: acidCorpus()}
	client := &stubLLM{text: "Sýra gefur róteind [Heimild 1] en sjá líka [Heimild 9] og [Kafli 9.9: Ekkert]."}
	p := newTestPipeline(embedder, idx, client)

	got, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if len(got.Citations) != 1 {
		t.Fatalf("got %d citations, want 1 (fabricated markers dropped): %+v", len(got.Citations), got.Citations)
	}
	if got.Citations[0].Section != "3.1" {
		t.Errorf("citation section = %q, want 3.1", got.Citations[0].Section)
	}

	snap := p.Metrics().Snapshot()
	if snap.UnresolvedCitations != 2 {
		t.Errorf("UnresolvedCitations = %d, want 2", snap.UnresolvedCitations)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	client := &stubLLM{text: "svar"}

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline(embedder, &stubIndex{count: 42}, client)
		if err := p.Health(context.Background()); err != nil {
			t.Errorf("Health() = %v, want nil", err)
		}
	})
	t.Run("empty corpus", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline(embedder, &stubIndex{count: 0}, client)
		err := p.Health(context.Background())
		if kind, ok := KindOf(err); !ok || kind != KindIndexUnavailable {
			t.Errorf("Health() = %v, want KindIndexUnavailable", err)
		}
	})
	t.Run("index down", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline(embedder, &stubIndex{err: errors.New("down")}, client)
		err := p.Health(context.Background())
		if kind, ok := KindOf(err); !ok || kind != KindIndexUnavailable {
			t.Errorf("Health() = %v, want KindIndexUnavailable", err)
		}
	})
}

func TestStats(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	idx := &stubIndex{
		results: acidCorpus(),
		count:   120,
		stats:   index.CorpusStats{TotalChunks: 120, Chapters: 8, Sections: 41},
	}
	p := newTestPipeline(embedder, idx, &stubLLM{text: "svar"})

	if _, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"}); err != nil {
		t.Fatalf("Ask() error: %v", err)
	}

	got, err := p.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if got.Corpus.TotalChunks != 120 || got.Corpus.Chapters != 8 {
		t.Errorf("corpus stats = %+v", got.Corpus)
	}
	if got.Metrics.Queries != 1 || got.Metrics.Answers != 1 {
		t.Errorf("metrics = %+v", got.Metrics)
	}
	if got.TopK != 5 || got.Model != "test-model" {
		t.Errorf("config snapshot topK=%d model=%q", got.TopK, got.Model)
	}
	if got.Breaker != "closed" {
		t.Errorf("breaker state = %q, want closed", got.Breaker)
	}
}

func TestAskConcurrent(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{vec: embed.Vector{Values: []float32{0.1}}}
	idx := &stubIndex{results: acidCorpus()}
	client := &stubLLM{text: "svar [Heimild 1]"}
	p := newTestPipeline(embedder, idx, client)

	const n = 16
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Ask(context.Background(), Question{Text: "Hvað er sýra?"}); err != nil {
				t.Errorf("Ask() error: %v", err)
			}
		}()
	}
	wg.Wait()

	snap := p.Metrics().Snapshot()
	if snap.Queries != n || snap.Answers != n {
		t.Errorf("metrics queries=%d answers=%d, want %d/%d", snap.Queries, snap.Answers, n, n)
	}
}
