package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const readinessTimeout = 3 * time.Second

// health is the liveness probe: the process is up and serving.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the service can actually answer questions:
// the index is reachable and the corpus is non-empty. Pool stats are
// included when a pool is wired.
func readiness(pipeline Pipeline, pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		body := map[string]any{"status": "ready"}
		if pool != nil {
			stat := pool.Stat()
			body["pool"] = map[string]any{
				"total_conns":    stat.TotalConns(),
				"idle_conns":     stat.IdleConns(),
				"acquired_conns": stat.AcquiredConns(),
			}
		}

		if err := pipeline.Health(ctx); err != nil {
			body["status"] = "not_ready"
			body["reason"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	})
}
