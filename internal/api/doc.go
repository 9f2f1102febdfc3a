// Package api exposes the question-answering pipeline over HTTP as a small
// JSON API: POST /api/v1/ask, GET /api/v1/stats, plus /health and /ready
// probes. Handlers translate pipeline failure kinds to HTTP status codes;
// everything else is middleware.
package api
