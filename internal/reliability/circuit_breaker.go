package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// CircuitOpenError is returned by Allow while the breaker rejects calls
type CircuitOpenError struct {
	Name      string
	Failures  int
	NextProbe time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open after %d failures, next probe at %s",
		e.Name, e.Failures, e.NextProbe.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// CircuitBreaker fails calls fast after consecutive failures. Once the open timeout passes, one
// probe call at a time is let through; enough successful probes close it again.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	onStateChange    func(from, to State)
	now              func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

// CircuitBreakerOption configures a CircuitBreaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the breaker
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets how many successful probes close a half-open breaker
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithStateChangeHook registers a callback run on every transition. It is called with the
// breaker lock held and must not call back into the breaker.
func WithStateChangeHook(fn func(from, to State)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		openTimeout:      30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range options {
		opt(cb)
	}
	if cb.failureThreshold < 1 {
		cb.failureThreshold = 1
	}
	if cb.successThreshold < 1 {
		cb.successThreshold = 1
	}
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. Every allowed call must be followed by Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		nextProbe := cb.openedAt.Add(cb.openTimeout)
		if cb.now().Before(nextProbe) {
			return &CircuitOpenError{Name: cb.name, Failures: cb.failures, NextProbe: nextProbe}
		}
		cb.transitionLocked(StateHalfOpen)
		cb.probing = true
		return nil

	case StateHalfOpen:
		if cb.probing {
			return &CircuitOpenError{Name: cb.name, Failures: cb.failures, NextProbe: cb.now()}
		}
		cb.probing = true
		return nil

	default:
		return nil
	}
}

// Record reports the outcome of an allowed call
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err != nil {
		cb.failures++
		cb.successes = 0
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.openLocked()
			}
		case StateHalfOpen:
			cb.openLocked()
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) openLocked() {
	cb.openedAt = cb.now()
	cb.transitionLocked(StateOpen)
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
