package qlink

/*
Regulator gates access to a shared resource based on observed metrics.
The pipeline consults its CircuitBreaker and, when configured, its
RateLimiter before every payload.
*/
type Regulator interface {
	// Observe attaches the metrics the regulator reports to and reads from.
	Observe(metrics *Metrics)

	// Limit returns true if the next operation should be rejected.
	Limit() bool

	// Renormalize lets the regulator move back toward normal operation.
	Renormalize()
}

// Outcome receives the result of a regulated operation.
type Outcome interface {
	RecordSuccess()
	RecordFailure()
}

var (
	_ Regulator = (*CircuitBreaker)(nil)
	_ Outcome   = (*CircuitBreaker)(nil)
)
