package qlink

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

/*
CircuitState represents the state of the circuit breaker guarding a
simulation backend.
*/
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Backend healthy, payloads run
	CircuitOpen                         // Backend failing, payloads rejected
	CircuitHalfOpen                     // Probing, a limited number of payloads run
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

/*
CircuitBreaker sits between the pipeline and its backend. After maxFailures
consecutive backend failures it opens and every payload fails fast with
ErrTeleportFailed until resetTimeout has passed; then up to halfOpenMax
payloads are let through to test the backend.

It never retries on its own: a rejected payload is reported to the peer
as-is.
*/
type CircuitBreaker struct {
	mu               sync.RWMutex
	maxFailures      int           // Consecutive failures before opening
	resetTimeout     time.Duration // Time to wait before probing again
	halfOpenMax      int           // Trial payloads allowed in half-open state
	failureCount     int           // Current run of consecutive failures
	state            CircuitState
	openTime         time.Time
	halfOpenAttempts int
	metrics          *Metrics
}

/*
NewCircuitBreaker creates a closed circuit breaker.

Parameters:
  - maxFailures: consecutive failures before the circuit opens
  - resetTimeout: how long the circuit stays open before probing
  - halfOpenMax: successful trial payloads needed to close again
*/
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		state:        CircuitClosed,
	}
}

// Observe attaches the metrics that breaker trips are reported to.
func (cb *CircuitBreaker) Observe(metrics *Metrics) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics = metrics
}

// Limit reports whether the next payload should be rejected.
func (cb *CircuitBreaker) Limit() bool {
	return !cb.Allow()
}

// Renormalize moves an expired open circuit to half-open.
func (cb *CircuitBreaker) Renormalize() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openTime) > cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
		log.Debug("circuit breaker half-open")
	}
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

/*
RecordFailure counts a backend failure, opening the circuit once the
threshold is reached. A failure while half-open reopens immediately.
*/
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch {
	case cb.state == CircuitHalfOpen:
		cb.trip()
		log.Warn("circuit breaker reopened from half-open state")
	case cb.state == CircuitClosed && cb.failureCount >= cb.maxFailures:
		cb.trip()
		log.Warn("circuit breaker opened", "failures", cb.failureCount)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitOpen
	cb.openTime = time.Now()
	if cb.metrics != nil {
		cb.metrics.recordBreakerTrip()
	}
}

// RecordSuccess counts a healthy backend run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenAttempts++
		if cb.halfOpenAttempts >= cb.halfOpenMax {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.halfOpenAttempts = 0
			log.Info("circuit breaker closed from half-open")
		}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// Allow reports whether a payload may run, moving open to half-open once
// the reset timeout has expired.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openTime) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		return cb.halfOpenAttempts < cb.halfOpenMax
	default:
		return false
	}
}
