package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/texasrangers4/act-triggers/internal/testutil"
)

const evaluatorURL = "http://rules.internal/evaluate"

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func tripOpen(cb *CircuitBreaker, key string, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(key)
	}
}

func TestAllow_UnknownKey_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if got := cb.State(evaluatorURL); got != StateClosed {
		t.Errorf("State = %s, want closed", got)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	tripOpen(cb, evaluatorURL, 2)
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	tripOpen(cb, evaluatorURL, 3)
	if err := cb.Allow(evaluatorURL); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := cb.State(evaluatorURL); got != StateOpen {
		t.Errorf("State = %s, want open", got)
	}
}

func TestAllow_OpenAfterCooldown_SingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(3, 10*time.Second)
	tripOpen(cb, evaluatorURL, 3)

	clock.Advance(9 * time.Second)
	if err := cb.Allow(evaluatorURL); err == nil {
		t.Fatal("expected ErrCircuitOpen before cooldown elapsed")
	}

	clock.Advance(time.Second)
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected nil (trial allowed), got %v", err)
	}
	if err := cb.Allow(evaluatorURL); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open trial in flight")
	}
	if got := cb.State(evaluatorURL); got != StateHalfOpen {
		t.Errorf("State = %s, want half_open", got)
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newTestBreaker(3, 10*time.Second)
	tripOpen(cb, evaluatorURL, 3)
	clock.Advance(10 * time.Second)
	_ = cb.Allow(evaluatorURL)

	cb.RecordSuccess(evaluatorURL)

	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
	// The failure count starts over.
	tripOpen(cb, evaluatorURL, 2)
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected closed after 2 fresh failures, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb, clock := newTestBreaker(3, 10*time.Second)
	tripOpen(cb, evaluatorURL, 3)
	clock.Advance(10 * time.Second)
	_ = cb.Allow(evaluatorURL)

	cb.RecordFailure(evaluatorURL)

	if err := cb.Allow(evaluatorURL); err == nil {
		t.Fatal("expected ErrCircuitOpen after trial failure re-open")
	}
	// The cooldown restarts from the failed trial.
	clock.Advance(5 * time.Second)
	if err := cb.Allow(evaluatorURL); err == nil {
		t.Fatal("expected ErrCircuitOpen halfway through the new cooldown")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	cb.RecordSuccess(evaluatorURL)
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentKeys(t *testing.T) {
	cb, _ := newTestBreaker(2, 5*time.Second)
	a := "http://a.internal/evaluate"
	b := "http://b.internal/evaluate"
	tripOpen(cb, a, 2)
	if err := cb.Allow(a); err == nil {
		t.Fatal("expected a open")
	}
	if err := cb.Allow(b); err != nil {
		t.Fatalf("expected b allowed, got %v", err)
	}
}

func TestZeroThreshold_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(0, 5*time.Second)
	tripOpen(cb, evaluatorURL, 100)

	if cb.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if err := cb.Allow(evaluatorURL); err != nil {
		t.Fatalf("disabled breaker must always allow, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
