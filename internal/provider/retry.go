package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig configures the retry behavior for upstream calls.
// MaxAttempts counts total attempts, including the first.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          bool // randomize each delay in [delay/2, delay]

	// TimeoutAttempts bounds how many attempts may follow a timeout.
	// A call that times out is retried at most this many times before the
	// loop gives up, independent of MaxAttempts. Zero means 1.
	TimeoutAttempts int
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		TimeoutAttempts: 1,
	}
}

// Do executes fn with exponential backoff retry.
//
// Each attempt is gated by the rate limiter and the circuit breaker when they
// are non-nil. Non-retryable errors (ErrRejected) fail immediately. Transient
// errors back off exponentially, doubling from InitialInterval up to
// MaxInterval, and the sleep honors ctx cancellation, so no retry continues
// after the caller aborts. When all attempts fail, the returned error wraps
// both ErrExhausted and the last underlying error.
func Do[T any](ctx context.Context, cfg RetryConfig, limiter *rate.Limiter,
	breaker *CircuitBreaker, logger *slog.Logger, op string,
	fn func(context.Context) (T, error)) (T, error) {

	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	timeoutBudget := cfg.TimeoutAttempts
	if timeoutBudget <= 0 {
		timeoutBudget = 1
	}

	var lastErr error
	attempts := 0
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if breaker != nil {
			// ErrCircuitOpen already wraps ErrUnavailable.
			if err := breaker.Allow(); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}

		// Rate limit each attempt, not each logical call.
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: rate limit wait: %w", op, err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.Success()
			}
			logger.Debug("upstream call succeeded",
				"op", op,
				"attempts", attempt,
				"elapsed", time.Since(start),
			)
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if breaker != nil {
			breaker.Failure()
		}

		if IsTimeout(err) {
			timeoutBudget--
			if timeoutBudget < 0 {
				break
			}
		}

		// Caller gone, stop immediately.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Debug("retrying upstream call",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		sleep := delay
		if cfg.Jitter {
			sleep = delay/2 + rand.N(delay/2+1)
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: canceled during backoff: %w", op, ctx.Err())
		case <-time.After(sleep):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("%s: %w after %d attempts (elapsed %v): %w",
		op, ErrExhausted, attempts, time.Since(start).Round(time.Millisecond), lastErr)
}
