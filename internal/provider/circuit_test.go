package provider

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultCircuitBreakerConfig()

	if cfg.FailureThreshold <= 0 {
		t.Errorf("FailureThreshold should be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold <= 0 {
		t.Errorf("SuccessThreshold should be positive, got %d", cfg.SuccessThreshold)
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout should be positive, got %v", cfg.Timeout)
	}
}

func TestNewCircuitBreakerAppliesDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.failureThreshold <= 0 {
		t.Error("should apply default failure threshold")
	}
	if cb.successThreshold <= 0 {
		t.Error("should apply default success threshold")
	}
	if cb.timeout <= 0 {
		t.Error("should apply default timeout")
	}
	if cb.State() != CircuitClosed {
		t.Error("should start in closed state")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
	})

	cb.Failure()
	cb.Failure()
	if cb.State() != CircuitClosed {
		t.Error("should remain closed below threshold")
	}

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Error("should open at threshold")
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestErrCircuitOpenIsTransient(t *testing.T) {
	t.Parallel()

	// An open circuit must read as a transient upstream failure so callers
	// classify it with the same errors.Is check as any other outage.
	if !errors.Is(ErrCircuitOpen, ErrUnavailable) {
		t.Error("ErrCircuitOpen should wrap ErrUnavailable")
	}
	if !Retryable(ErrCircuitOpen) {
		t.Error("ErrCircuitOpen should be retryable")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after failure")
	}

	time.Sleep(30 * time.Millisecond)

	// First Allow after timeout transitions to half-open.
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want nil", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	// Two successes close the circuit.
	cb.Success()
	if cb.State() != CircuitHalfOpen {
		t.Error("one success should not close the circuit")
	}
	cb.Success()
	if cb.State() != CircuitClosed {
		t.Error("success threshold should close the circuit")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})

	cb.Failure()
	time.Sleep(30 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Error("failure in half-open should reopen")
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()
	if cb.State() != CircuitClosed {
		t.Error("success should reset the failure count")
	}
}

func TestCircuitBreakerConcurrent(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = cb.Allow()
			if n%2 == 0 {
				cb.Success()
			} else {
				cb.Failure()
			}
			_ = cb.State()
		}(i)
	}
	wg.Wait()
}

func TestCircuitStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
