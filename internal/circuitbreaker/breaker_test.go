package circuitbreaker

import (
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Arun8573/codec-technology/internal/testutil"
)

const host = "example.com"

func newBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(host)
	}
}

func TestAllow_UnknownHost_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 2)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 3)
	err := cb.Allow(host)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.State(host) != StateOpen {
		t.Errorf("state = %s, want open", cb.State(host))
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(10 * time.Second)

	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while half-open probe in flight, got %v", err)
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(11 * time.Second)
	cb.Allow(host)
	cb.RecordSuccess(host)

	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
	// The failure count starts over.
	trip(cb, 2)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil below threshold after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(10 * time.Second)
	cb.Allow(host)
	cb.RecordFailure(host)

	if cb.State(host) != StateOpen {
		t.Fatalf("state = %s, want open", cb.State(host))
	}
	clock.Advance(5 * time.Second)
	if err := cb.Allow(host); err == nil {
		t.Fatal("expected the re-opened circuit to wait a full cooldown")
	}
}

func TestIndependentHosts(t *testing.T) {
	cb, _ := newBreaker(2, time.Minute)
	trip(cb, 2)
	if err := cb.Allow("other.example"); err != nil {
		t.Fatalf("other host affected: %v", err)
	}

	cb.RecordFailure("b.example")
	cb.RecordFailure("b.example")
	got := cb.OpenHosts()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "b.example" || got[1] != host {
		t.Errorf("OpenHosts = %v", got)
	}
}

func TestDisabledBreaker(t *testing.T) {
	cb, _ := newBreaker(0, time.Minute)
	trip(cb, 100)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("disabled breaker refused: %v", err)
	}
}
