package api

import (
	"log/slog"
	"net/http"
)

type statsHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func (h *statsHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusServiceUnavailable, "index_unavailable", "statistics are temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
