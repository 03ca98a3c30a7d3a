package qlink

import (
	"sync"
	"time"
)

/*
RateLimiter is a token bucket in front of the simulation backend. Every
authenticated payload takes one token; tokens come back one per refill
period up to the burst capacity. A payload that finds the bucket empty is
rejected with ErrTeleportFailed rather than queued.
*/
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int           // Burst capacity
	refillRate time.Duration // Time per returned token
	lastRefill time.Time
	metrics    *Metrics
}

/*
NewRateLimiter creates a full bucket.

Example:

	limiter := NewRateLimiter(32, 50*time.Millisecond) // bursts of 32, then 20 payloads/s
*/
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = time.Millisecond
	}
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Observe attaches the metrics rejected payloads are counted in.
func (rl *RateLimiter) Observe(metrics *Metrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = metrics
}

// Limit takes a token, reporting true when none was left.
func (rl *RateLimiter) Limit() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return false
	}

	if rl.metrics != nil {
		rl.metrics.recordRateLimited()
	}
	return true
}

// Renormalize returns the tokens earned since the last refill.
func (rl *RateLimiter) Renormalize() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
}

// refill assumes rl.mu is held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	earned := int(now.Sub(rl.lastRefill) / rl.refillRate)
	if earned <= 0 {
		return
	}

	rl.tokens = min(rl.maxTokens, rl.tokens+earned)
	if rl.tokens == rl.maxTokens {
		rl.lastRefill = now
		return
	}
	// Only whole periods are consumed so partial progress carries over.
	rl.lastRefill = rl.lastRefill.Add(time.Duration(earned) * rl.refillRate)
}

var _ Regulator = (*RateLimiter)(nil)
