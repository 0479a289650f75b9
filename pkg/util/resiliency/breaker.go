package resiliency

import (
	"sync"
	"time"
)

// breaker states
const (
	stateClosed   = "CLOSED"
	stateOpen     = "OPEN"
	stateHalfOpen = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure
// detection on an outbound port.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
	now          func() time.Time
}

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        stateClosed,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Name identifies the guarded port.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. An open breaker transitions
// to half-open after the reset timeout, admitting one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold || cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}
