// Package provider holds plumbing shared by the embedding and generation
// providers: error classification sentinels, the retry/backoff loop, and a
// circuit breaker.
//
// Provider SDK errors are classified at the SDK boundary into two sentinels:
//
//   - ErrUnavailable: transient failures (429, 5xx, network). Retried by the
//     pipeline with exponential backoff.
//   - ErrRejected: permanent failures (other 4xx: malformed request, auth).
//     Never retried.
//
// Callers check classification with errors.Is.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable marks transient upstream failures worth retrying.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRejected marks permanent upstream failures (bad request, auth).
	ErrRejected = errors.New("provider rejected request")

	// ErrExhausted wraps the last error after all retry attempts failed.
	ErrExhausted = errors.New("retries exhausted")
)

// ClassifyStatus wraps err with the retry classification for an HTTP status
// code from a provider SDK. 429 and 5xx are transient; any other 4xx is a
// permanent rejection. Status 0 (no HTTP response, e.g. connection refused)
// is transient.
func ClassifyStatus(op string, status int, err error) error {
	switch {
	case status == 429 || status >= 500 || status == 0:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	case status >= 400:
		return fmt.Errorf("%s: %w: %w", op, ErrRejected, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Retryable reports whether err is transient and should trigger a retry.
// Timeouts and network errors count as transient; the retry loop bounds
// how often a timeout may be retried separately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTimeout reports whether err is a deadline/timeout failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
