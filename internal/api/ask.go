package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/eddalabs/efni/internal/rag"
)

// maxAskBodyBytes caps the request body; questions are short.
const maxAskBodyBytes = 16 * 1024

type askHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// askRequest is the POST /api/v1/ask body.
type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
	Chapter        string `json:"chapter,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
}

// askResponse is the success body. Timings are integer milliseconds.
type askResponse struct {
	Answer         string         `json:"answer"`
	Citations      []rag.Citation `json:"citations"`
	Kind           string         `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	Model          string         `json:"model"`
	ChunksFound    int            `json:"chunks_found"`
	ChunksUsed     int            `json:"chunks_used"`
	ContextTrimmed int            `json:"context_trimmed"`
	Tokens         rag.TokenUsage `json:"tokens"`
	Timing         timingMillis   `json:"timing_ms"`
}

type timingMillis struct {
	Embedding  int64 `json:"embedding"`
	Retrieval  int64 `json:"retrieval"`
	Generation int64 `json:"generation"`
	Total      int64 `json:"total"`
}

func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)

	var req askRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	result, err := h.pipeline.Ask(r.Context(), rag.Question{
		Text:           req.Question,
		ConversationID: req.ConversationID,
		Chapter:        req.Chapter,
		MaxResults:     req.MaxResults,
	})
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:         result.Answer,
		Citations:      result.Citations,
		Kind:           string(result.Kind),
		ConversationID: result.ConversationID,
		Model:          result.Model,
		ChunksFound:    result.ChunksFound,
		ChunksUsed:     result.ChunksUsed,
		ContextTrimmed: result.ContextTrimmed,
		Tokens:         result.Tokens,
		Timing: timingMillis{
			Embedding:  result.Timing.Embedding.Milliseconds(),
			Retrieval:  result.Timing.Retrieval.Milliseconds(),
			Generation: result.Timing.Generation.Milliseconds(),
			Total:      result.Timing.Total.Milliseconds(),
		},
	})
}

// writePipelineError maps the failure taxonomy to HTTP statuses. The body
// carries the kind as a stable machine-readable code and a short message;
// raw provider errors stay in the logs.
func (h *askHandler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	kind, known := rag.KindOf(err)
	status := statusForKind(kind, known)

	logAttrs := []any{
		"kind", kind.String(),
		"status", status,
		"request_id", requestIDFromContext(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("ask failed", append(logAttrs, "error", err)...)
	} else {
		h.logger.Warn("ask rejected", logAttrs...)
	}

	writeError(w, status, kind.String(), kind.UserMessage())
}

func statusForKind(kind rag.Kind, known bool) int {
	if !known {
		return http.StatusInternalServerError
	}
	switch kind {
	case rag.KindValidation:
		return http.StatusBadRequest
	case rag.KindProviderRejected:
		return http.StatusBadGateway
	case rag.KindProviderUnavailable, rag.KindUpstreamExhausted, rag.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case rag.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
