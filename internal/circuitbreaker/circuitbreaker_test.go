package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open circuit must reject requests")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %v", cb.GetState())
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe request after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", cb.GetState())
	}

	// Only one probe is allowed.
	if cb.Allow() {
		t.Fatal("second request during probe must be rejected")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("successful probe should close the circuit, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("failed probe should reopen the circuit, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.Allow()
	cb.RecordFailure()
	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after reset, got %v", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("reset circuit must allow requests")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.TotalRequests != 2 || stats.TotalSuccesses != 1 || stats.TotalFailures != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.State != "closed" {
		t.Errorf("expected closed state, got %s", stats.State)
	}
}
