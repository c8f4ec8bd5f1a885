// Package circuitbreaker stops fetching from hosts that keep failing.
//
// Each host is tracked independently. After Threshold consecutive failures
// the host is open and every request is refused until Cooldown elapses; one
// probe is then let through (half-open) and its result closes or re-opens
// the circuit.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type hostState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New returns a breaker; a threshold below 1 disables it.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		hosts:     make(map[string]*hostState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow returns ErrCircuitOpen, annotated with the host, when host must not be contacted.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb.threshold < 1 {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.hosts[host]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return errors.Wrapf(ErrCircuitOpen, "host %s", host)
	case StateHalfOpen:
		return errors.Wrapf(ErrCircuitOpen, "host %s (probe in flight)", host)
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Closed hosts carry no state.
	delete(cb.hosts, host)
}

func (cb *CircuitBreaker) RecordFailure(host string) {
	if cb.threshold < 1 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.hosts[host]
	if !ok {
		s = &hostState{}
		cb.hosts[host] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.clock()
	}
}

// State reports the current state of host without transitioning it.
func (cb *CircuitBreaker) State(host string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.hosts[host]; ok {
		return s.state
	}
	return StateClosed
}

// OpenHosts lists hosts whose circuit is currently open or half-open.
func (cb *CircuitBreaker) OpenHosts() []string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var out []string
	for host, s := range cb.hosts {
		if s.state != StateClosed {
			out = append(out, host)
		}
	}
	return out
}
