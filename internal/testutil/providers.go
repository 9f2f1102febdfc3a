package testutil

import (
	"context"
	"sync"

	"github.com/eddalabs/efni/internal/embed"
	"github.com/eddalabs/efni/internal/llm"
)

// FakeEmbedder implements embed.Provider with deterministic vectors. The
// vector for a text is all zeros except the first component, which encodes
// the text length, so distinct texts get distinct but repeatable embeddings.
type FakeEmbedder struct {
	Dim int
	Err error // returned from every call when set

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder returns a FakeEmbedder producing dim-dimensional vectors.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

func (f *FakeEmbedder) Embed(_ context.Context, text string) (embed.Vector, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return embed.Vector{}, f.Err
	}
	return f.vector(text), nil
}

func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([]embed.Vector, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]embed.Vector, len(texts))
	for i, text := range texts {
		out[i] = f.vector(text)
	}
	return out, nil
}

func (f *FakeEmbedder) Dimensions() int { return f.Dim }

// Calls reports how many Embed/EmbedBatch calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) vector(text string) embed.Vector {
	values := make([]float32, f.Dim)
	if f.Dim > 0 {
		values[0] = float32(len(text)%97) / 97
	}
	return embed.Vector{Values: values, Tokens: len(text) / 4}
}

// FakeLLM implements llm.Client with a canned answer.
type FakeLLM struct {
	Answer    string
	ModelName string
	Err       error // returned from every call when set

	mu       sync.Mutex
	requests []llm.Request
}

func (f *FakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &llm.Response{
		Text:         f.Answer,
		InputTokens:  llm.EstimateTokens(req.System + req.User),
		OutputTokens: llm.EstimateTokens(f.Answer),
		StopReason:   "end_turn",
	}, nil
}

func (f *FakeLLM) Model() string {
	if f.ModelName == "" {
		return "fake-model"
	}
	return f.ModelName
}

// Requests returns a copy of every request seen so far.
func (f *FakeLLM) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}
