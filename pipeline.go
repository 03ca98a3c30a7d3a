package qlink

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// PipelineResult aggregates the bits of one payload.
type PipelineResult struct {
	Success int
	Total   int
	Backend string
	Bits    []BitResult
}

/*
Pipeline teleports byte payloads one bit at a time, most significant bit
first. Bits are independent: a failed bit is reported, not retried, and does
not stop the payload. A backend that is unavailable, or fails mid-payload,
fails the whole payload with ErrTeleportFailed and no partial result.
*/
type Pipeline struct {
	teleporter *Teleporter
	breaker    guard
	limiter    Regulator
	station    *Station
	metrics    *Metrics
	log        *log.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// guard is a regulator that also learns from each payload's outcome.
type guard interface {
	Regulator
	Outcome
}

// WithBreaker guards the backend with cb.
func WithBreaker(cb *CircuitBreaker) PipelineOption {
	return func(p *Pipeline) {
		if cb != nil {
			p.breaker = cb
		}
	}
}

// WithRateLimiter caps how fast payloads reach the backend.
func WithRateLimiter(r Regulator) PipelineOption {
	return func(p *Pipeline) { p.limiter = r }
}

// WithPipelineMetrics records payload outcomes into m.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithPipelineLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

/*
NewPipeline creates a pipeline appending its summaries to station. Any
breaker or limiter passed in is attached to the pipeline's metrics.
*/
func NewPipeline(teleporter *Teleporter, station *Station, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		teleporter: teleporter,
		station:    station,
		log:        log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if p.breaker != nil {
		p.breaker.Observe(p.metrics)
	}
	if p.limiter != nil {
		p.limiter.Observe(p.metrics)
	}
	return p
}

/*
TeleportPayload runs every bit of payload through the teleporter.
Cancellation is checked before each bit.
*/
func (p *Pipeline) TeleportPayload(ctx context.Context, payload []byte) (result PipelineResult, err error) {
	start := time.Now()
	defer func() {
		p.metrics.recordPayload(start, result, err)
	}()

	backend := p.teleporter.Backend()

	if p.breaker != nil && p.breaker.Limit() {
		return PipelineResult{}, fmt.Errorf("%w: backend %s circuit open", ErrTeleportFailed, backend.Name())
	}

	if p.limiter != nil && p.limiter.Limit() {
		return PipelineResult{}, fmt.Errorf("%w: rate limited", ErrTeleportFailed)
	}

	if err := backend.Available(); err != nil {
		p.recordFailure()
		return PipelineResult{}, fmt.Errorf("%w: %w", ErrTeleportFailed, err)
	}

	result = PipelineResult{
		Total:   8 * len(payload),
		Backend: backend.Name(),
		Bits:    make([]BitResult, 0, 8*len(payload)),
	}

	for _, b := range payload {
		for shift := 7; shift >= 0; shift-- {
			if err := ctx.Err(); err != nil {
				return PipelineResult{}, fmt.Errorf("%w: %w", ErrTeleportFailed, err)
			}

			bit, err := p.teleporter.TeleportBit((b >> shift) & 1)
			if err != nil {
				p.recordFailure()
				return PipelineResult{}, fmt.Errorf("%w: %w", ErrTeleportFailed, err)
			}

			if bit.Success {
				result.Success++
			}
			result.Bits = append(result.Bits, bit)
		}
	}

	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}

	p.station.AppendLog(fmt.Sprintf("TELEPORT: %d/%d via %s", result.Success, result.Total, result.Backend))
	p.log.Debug("payload teleported", "bytes", len(payload), "success", result.Success, "total", result.Total)

	return result, nil
}

func (p *Pipeline) recordFailure() {
	if p.breaker != nil {
		p.breaker.RecordFailure()
	}
}
