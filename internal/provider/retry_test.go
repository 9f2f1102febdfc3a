package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fastRetry keeps test wall-clock short while preserving the exponential shape.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     80 * time.Millisecond,
		TimeoutAttempts: 1,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), fastRetry(), nil, nil, nil, "test",
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls, want ok after 1", got, calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), fastRetry(), nil, nil, nil, "test",
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, fmt.Errorf("upstream: %w", ErrUnavailable)
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnRejected(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), fastRetry(), nil, nil, nil, "test",
		func(context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("bad request: %w", ErrRejected)
		})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on rejection)", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cfg := fastRetry()
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), cfg, nil, nil, nil, "test",
		func(context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("503: %w", ErrUnavailable)
		})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("exhaustion should wrap the last error, got %v", err)
	}
	if calls != cfg.MaxAttempts {
		t.Errorf("calls = %d, want exactly %d", calls, cfg.MaxAttempts)
	}

	// Backoff schedule: 10ms + 20ms between three attempts.
	wantMin := 30 * time.Millisecond
	if elapsed < wantMin {
		t.Errorf("elapsed %v shorter than backoff schedule %v", elapsed, wantMin)
	}
	if elapsed > time.Second {
		t.Errorf("elapsed %v far beyond backoff schedule", elapsed)
	}
}

func TestDoTimeoutRetriedOnce(t *testing.T) {
	t.Parallel()

	cfg := fastRetry()
	cfg.MaxAttempts = 5
	calls := 0
	_, err := Do(context.Background(), cfg, nil, nil, nil, "test",
		func(context.Context) (int, error) {
			calls++
			return 0, context.DeadlineExceeded
		})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	// One original attempt plus one timeout retry.
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (timeout retried once)", calls)
	}
}

func TestDoCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	cfg := fastRetry()
	cfg.InitialInterval = 5 * time.Second
	cfg.MaxInterval = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, nil, nil, nil, "test",
			func(context.Context) (int, error) {
				calls++
				return 0, fmt.Errorf("503: %w", ErrUnavailable)
			})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let first attempt fail and enter backoff
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1 (no retry after cancellation)", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}

func TestDoCircuitOpenFailsFast(t *testing.T) {
	t.Parallel()

	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	breaker.Failure() // trip it

	calls := 0
	_, err := Do(context.Background(), fastRetry(), nil, breaker, nil, "test",
		func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("open circuit should classify as unavailable, got %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 while circuit open", calls)
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	tests := []struct {
		status int
		want   error
	}{
		{429, ErrUnavailable},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
		{0, ErrUnavailable},
		{400, ErrRejected},
		{401, ErrRejected},
		{404, ErrRejected},
	}
	for _, tt := range tests {
		err := ClassifyStatus("op", tt.status, base)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: classified %v, want %v", tt.status, err, tt.want)
		}
		if !errors.Is(err, base) {
			t.Errorf("status %d: original error lost", tt.status)
		}
	}

	// 2xx passes through unclassified.
	err := ClassifyStatus("op", 200, base)
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRejected) {
		t.Errorf("status 200 should not classify, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", fmt.Errorf("x: %w", ErrUnavailable), true},
		{"rejected", fmt.Errorf("x: %w", ErrRejected), false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
