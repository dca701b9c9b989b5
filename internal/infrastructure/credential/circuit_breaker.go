package credential

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a credential's circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Testing recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements a per-credential circuit breaker. When a
// credential fails consecutively beyond the threshold, the breaker opens
// and the dispatcher skips it without spending a real call. After a
// recovery timeout, the breaker transitions to half-open and allows one
// probe attempt to test recovery. Adapted from the teacher's
// infrastructure/llm.CircuitBreaker (there, one breaker guards a whole
// provider); here one guards a single credential, and its thresholds are
// tuned by credential kind via NewCircuitBreakerForKind rather than fixed,
// since an OAuth credential has a self-healing path (Manager's throttled
// expiry refresh, see credential.go) that an api_key or cert credential
// does not.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		recoveryTimeout:  recoveryTimeout,
	}
}

// NewCircuitBreakerForKind picks breaker thresholds appropriate to how a
// credential of this kind recovers. OAuth credentials can self-heal through
// Manager's throttled expiry-refresh check, so they trip faster and cool
// down sooner, favoring a quick retry once a refresh has had a chance to
// run. api_key and cert credentials have no such path — recovering them
// means an operator replaces the underlying secret — so they keep the
// longer, more conservative default.
func NewCircuitBreakerForKind(kind Kind) *CircuitBreaker {
	switch kind {
	case KindOAuth:
		return NewCircuitBreaker(3, 10*time.Second)
	default:
		return NewCircuitBreaker(5, 30*time.Second)
	}
}

// Allow checks whether a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}
	if cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Describe summarizes the breaker's state for observability endpoints: the
// state name, plus how long until an open breaker next allows a probe.
func (cb *CircuitBreaker) Describe() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state != CircuitOpen {
		return cb.state.String()
	}
	remaining := cb.recoveryTimeout - time.Since(cb.lastFailureTime)
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("open: next probe in %s", remaining.Round(time.Second))
}

// Reset forces the circuit back to closed state, used when an operator
// manually confirms a credential has recovered.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
}
