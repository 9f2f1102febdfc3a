package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/eddalabs/efni/internal/provider"
)

// Kind classifies pipeline failures. Every failure surfaced by the pipeline
// carries exactly one Kind; callers switch on it instead of inspecting
// provider internals.
type Kind int

const (
	// KindValidation is a malformed or oversized question. Rejected before
	// any external call, never retried.
	KindValidation Kind = iota

	// KindProviderUnavailable is an embedding/LLM network or 5xx failure
	// that was still failing when surfaced.
	KindProviderUnavailable

	// KindProviderRejected is an embedding/LLM 4xx (bad request, auth).
	// Not retried, surfaced immediately.
	KindProviderRejected

	// KindIndexUnavailable means the vector store is unreachable after
	// bounded retries.
	KindIndexUnavailable

	// KindTimeout is a stage deadline exceeded, after its one retry.
	KindTimeout

	// KindUpstreamExhausted means retries ran out on a transient failure.
	KindUpstreamExhausted
)

// String returns the wire identifier for the kind (used in API error bodies).
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindProviderRejected:
		return "provider_rejected"
	case KindIndexUnavailable:
		return "index_unavailable"
	case KindTimeout:
		return "timeout"
	case KindUpstreamExhausted:
		return "upstream_exhausted"
	default:
		return "unknown"
	}
}

// UserMessage returns a short, non-technical message safe to show callers.
// Internal detail (provider name, raw error) is logged, never returned.
func (k Kind) UserMessage() string {
	switch k {
	case KindValidation:
		return "the question is missing or too long"
	case KindProviderRejected:
		return "the answering service rejected the request"
	case KindIndexUnavailable:
		return "the knowledge base is temporarily unavailable"
	case KindTimeout:
		return "the request took too long, please try again"
	default:
		return "the answering service is temporarily unavailable, please try again"
	}
}

// Error is a typed pipeline failure.
type Error struct {
	Kind Kind
	Msg  string // short internal description, not user-facing
	Err  error  // underlying cause, logged but never returned to callers
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// newError builds a typed pipeline failure.
func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error returned by the pipeline.
// Unknown errors report KindProviderUnavailable so callers degrade safely.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindProviderUnavailable, false
}

// classifyProviderErr maps a retry-loop error from an embedding or LLM call
// onto the taxonomy.
func classifyProviderErr(stage string, err error) *Error {
	switch {
	case errors.Is(err, provider.ErrRejected):
		return newError(KindProviderRejected, stage+" rejected", err)
	case errors.Is(err, provider.ErrExhausted):
		return newError(KindUpstreamExhausted, stage+" retries exhausted", err)
	case errors.Is(err, context.DeadlineExceeded):
		// Caller's own deadline, not a per-attempt timeout (those pass
		// through the retry loop and exhaust instead).
		return newError(KindTimeout, stage+" timed out", err)
	default:
		return newError(KindProviderUnavailable, stage+" unavailable", err)
	}
}
