// circuitbreaker.go - Circuit breaker for the audit database.
//
// A dead audit database must not add a timeout to every request; while the
// breaker is open events go straight to the fallback auditor.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"file-exchanger/internal/db"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed: calls flow normally
	StateClosed CircuitState = iota
	// StateOpen: calls fail fast
	StateOpen
	// StateHalfOpen: one call probes whether the dependency recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and lets a
// single probe through once timeout has passed.
type CircuitBreaker struct {
	mu sync.Mutex

	name        string
	maxFailures int
	timeout     time.Duration
	now         func() time.Time

	state           CircuitState
	failures        int
	lastFailureTime time.Time
	probing         bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, maxFailures int, timeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.acquire() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		Info("circuit_breaker_half_open", map[string]any{"name": cb.name})
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		if cb.state != StateClosed {
			Info("circuit_breaker_closed", map[string]any{"name": cb.name})
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			Warn("circuit_breaker_opened", map[string]any{
				"name":     cb.name,
				"failures": cb.failures,
				"timeout":  cb.timeout.String(),
			})
		}
		cb.state = StateOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerAuditor records to primary through a circuit breaker. Events the
// primary cannot take are handed to fallback, so none are dropped silently.
type BreakerAuditor struct {
	primary  Auditor
	fallback Auditor
	breaker  *CircuitBreaker
}

// NewBreakerAuditor opens after five consecutive failures and retries the
// primary after thirty seconds.
func NewBreakerAuditor(primary, fallback Auditor) *BreakerAuditor {
	return &BreakerAuditor{
		primary:  primary,
		fallback: fallback,
		breaker:  NewCircuitBreaker("audit_db", 5, 30*time.Second),
	}
}

func (a *BreakerAuditor) Record(ctx context.Context, ev db.Event) error {
	err := a.breaker.Execute(func() error { return a.primary.Record(ctx, ev) })
	if err == nil {
		return nil
	}
	if fbErr := a.fallback.Record(ctx, ev); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}

// State reports the breaker state, for health output.
func (a *BreakerAuditor) State() CircuitState {
	return a.breaker.State()
}
