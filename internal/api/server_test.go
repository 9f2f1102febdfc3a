package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eddalabs/efni/internal/index"
	"github.com/eddalabs/efni/internal/rag"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePipeline struct {
	result    *rag.QueryResult
	askErr    error
	healthErr error
	stats     rag.Stats
	statsErr  error
	askCalls  int
}

func (f *fakePipeline) Ask(_ context.Context, _ rag.Question) (*rag.QueryResult, error) {
	f.askCalls++
	if f.askErr != nil {
		return nil, f.askErr
	}
	return f.result, nil
}

func (f *fakePipeline) Health(_ context.Context) error { return f.healthErr }

func (f *fakePipeline) Stats(_ context.Context) (rag.Stats, error) {
	return f.stats, f.statsErr
}

func answerResult() *rag.QueryResult {
	return &rag.QueryResult{
		Answer: "Sýra er efni sem gefur frá sér róteind [Heimild 1].",
		Citations: []rag.Citation{
			{Chapter: "3", Section: "3.1", Title: "Sýrur og basar", Excerpt: "Sýra er..."},
		},
		Tokens:         rag.TokenUsage{Embedding: 8, Input: 120, Output: 45},
		Timing:         rag.Timing{Embedding: 12 * time.Millisecond, Total: 480 * time.Millisecond},
		Model:          "test-model",
		ChunksFound:    5,
		ChunksUsed:     4,
		Kind:           rag.ResultAnswer,
		ConversationID: "conv-1",
	}
}

func newTestServer(t *testing.T, p Pipeline) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Pipeline: p, RateBurst: 1000, IsDev: true})
	require.NoError(t, err)
	return srv
}

func doAsk(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresPipeline(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
}

func TestAskSuccess(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{result: answerResult()})

	rec := doAsk(t, srv, `{"question":"Hvað er sýra?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "answer", resp.Kind)
	assert.Contains(t, resp.Answer, "róteind")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "3.1", resp.Citations[0].Section)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, 5, resp.ChunksFound)
	assert.Equal(t, int64(480), resp.Timing.Total)
	assert.Equal(t, 173, resp.Tokens.Total())
}

func TestAskNoContent(t *testing.T) {
	result := answerResult()
	result.Kind = rag.ResultNoContent
	result.Citations = []rag.Citation{}
	srv := newTestServer(t, &fakePipeline{result: result})

	rec := doAsk(t, srv, `{"question":"Hvað er framandi efni?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_content", resp.Kind)
	assert.Empty(t, resp.Citations)
}

func TestAskMalformedBody(t *testing.T) {
	pipeline := &fakePipeline{result: answerResult()}
	srv := newTestServer(t, pipeline)

	for _, body := range []string{"", "not json", `{"question": 3}`, `{"unknown_field": true}`} {
		rec := doAsk(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Zero(t, pipeline.askCalls, "pipeline must not run for malformed bodies")
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &rag.Error{Kind: rag.KindValidation, Msg: "tóm spurning"}, http.StatusBadRequest, "validation_error"},
		{"rejected", &rag.Error{Kind: rag.KindProviderRejected, Msg: "bad key"}, http.StatusBadGateway, "provider_rejected"},
		{"unavailable", &rag.Error{Kind: rag.KindProviderUnavailable, Msg: "503"}, http.StatusServiceUnavailable, "provider_unavailable"},
		{"exhausted", &rag.Error{Kind: rag.KindUpstreamExhausted, Msg: "retries"}, http.StatusServiceUnavailable, "upstream_exhausted"},
		{"index down", &rag.Error{Kind: rag.KindIndexUnavailable, Msg: "db"}, http.StatusServiceUnavailable, "index_unavailable"},
		{"timeout", &rag.Error{Kind: rag.KindTimeout, Msg: "deadline"}, http.StatusGatewayTimeout, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakePipeline{askErr: tt.err})
			rec := doAsk(t, srv, `{"question":"Hvað er sýra?"}`)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
			// Internal detail stays out of the response.
			assert.NotContains(t, body.Error.Message, tt.err.(*rag.Error).Msg)
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{stats: rag.Stats{
		Corpus:  index.CorpusStats{TotalChunks: 120, Chapters: 8, Sections: 41},
		Breaker: "closed",
		TopK:    5,
		Model:   "test-model",
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats rag.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(120), stats.Corpus.TotalChunks)
	assert.Equal(t, "test-model", stats.Model)
	assert.Equal(t, "closed", stats.Breaker)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(t, &fakePipeline{})
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("not ready", func(t *testing.T) {
		srv := newTestServer(t, &fakePipeline{
			healthErr: &rag.Error{Kind: rag.KindIndexUnavailable, Msg: "corpus is empty"},
		})
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_ready")
	})
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{result: answerResult()})

	t.Run("generated", func(t *testing.T) {
		rec := doAsk(t, srv, `{"question":"Hvað er sýra?"}`)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
	t.Run("echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"Hvað er sýra?"}`))
		req.Header.Set("X-Request-ID", "req-abc-123")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
	})
}

func TestCORSPreflight(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Pipeline:    &fakePipeline{result: answerResult()},
		CORSOrigins: []string{"https://nam.eddalabs.is"},
		RateBurst:   1000,
		IsDev:       true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "https://nam.eddalabs.is")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://nam.eddalabs.is", rec.Header().Get("Access-Control-Allow-Origin"))

	t.Run("unknown origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestPanicRecovery(t *testing.T) {
	panicker := &fakePipeline{}
	srv := newTestServer(t, panicker)

	// Stats with a nil result marshals fine, so panic via a handler that
	// dereferences a nil ask result instead.
	rec := doAsk(t, srv, `{"question":"Hvað er sýra?"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{result: answerResult()})
	rec := doAsk(t, srv, `{"question":"Hvað er sýra?"}`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	// Dev mode: no HSTS.
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
