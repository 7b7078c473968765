package broker

import (
	"fmt"
	"sync"
	"time"
)

// circuitState is the state of a CircuitBreaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards Recycle against spinning a reconnect loop against a
// broker that is actually down. After failureThreshold consecutive failures
// it opens and short-circuits calls for resetTimeout before allowing a
// single trial call through (half-open); a trial success closes it again,
// a trial failure reopens it.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration

	mu          sync.Mutex
	state       circuitState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker constructs a closed CircuitBreaker.
func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            circuitClosed,
	}
}

// ErrCircuitOpen is returned by Call when the breaker is open and the reset
// timeout has not yet elapsed.
type ErrCircuitOpen struct {
	Name string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Call runs fn if the breaker allows it, and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return &ErrCircuitOpen{Name: cb.name}
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = circuitHalfOpen
		return true
	case circuitHalfOpen:
		// Only one trial call at a time; treat a racing second caller as
		// still-open rather than letting both through.
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = circuitClosed
		return
	}

	switch cb.state {
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.openedAt = time.Now()
	default:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
			cb.openedAt = time.Now()
		}
	}
}

// State reports the breaker's current state, for tests and diagnostics.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
