package qlink

import (
	"sort"
	"sync"
	"time"
)

/*
Metrics collects link and pipeline counters. Every role writes through the
record* helpers, which take the lock; readers use Export.
*/
type Metrics struct {
	mu sync.RWMutex

	Sessions      int64
	ActiveSession string
	LinkLost      int64
	Heartbeats    int64
	Frames        map[Kind]int64

	Payloads        int64
	FailedPayloads  int64
	BitsTeleported  int64
	BitsSucceeded   int64
	BitSuccessRate  float64
	BreakerTrips    int64
	RateLimited     int64
	AveragePipeline time.Duration
	P95Pipeline     time.Duration

	latencies  []time.Duration
	windowSize int
}

// NewMetrics returns zeroed counters with a 256-entry latency window.
func NewMetrics() *Metrics {
	return &Metrics{
		Frames:     make(map[Kind]int64),
		latencies:  make([]time.Duration, 0, 256),
		windowSize: 256,
	}
}

func (m *Metrics) recordSessionStart(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions++
	m.ActiveSession = id
}

func (m *Metrics) recordSessionEnd(lost bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveSession = ""
	if lost {
		m.LinkLost++
	}
}

func (m *Metrics) recordHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats++
}

func (m *Metrics) recordFrame(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames[kind]++
}

func (m *Metrics) recordBreakerTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakerTrips++
}

func (m *Metrics) recordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimited++
}

func (m *Metrics) recordPayload(start time.Time, result PipelineResult, err error) {
	duration := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Payloads++
	if err != nil {
		m.FailedPayloads++
		return
	}

	m.BitsTeleported += int64(result.Total)
	m.BitsSucceeded += int64(result.Success)
	if m.BitsTeleported > 0 {
		m.BitSuccessRate = float64(m.BitsSucceeded) / float64(m.BitsTeleported)
	}

	m.updateLatency(duration)
}

func (m *Metrics) updateLatency(duration time.Duration) {
	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > m.windowSize {
		m.latencies = m.latencies[1:]
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	m.AveragePipeline = total / time.Duration(len(sorted))

	p95 := int(float64(len(sorted)) * 0.95)
	if p95 >= len(sorted) {
		p95 = len(sorted) - 1
	}
	m.P95Pipeline = sorted[p95]
}

// Export returns a flat copy of the counters suitable for logging.
func (m *Metrics) Export() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	frames := make(map[string]int64, len(m.Frames))
	for k, v := range m.Frames {
		frames[k.String()] = v
	}

	return map[string]any{
		"sessions":         m.Sessions,
		"active_session":   m.ActiveSession,
		"link_lost":        m.LinkLost,
		"heartbeats":       m.Heartbeats,
		"frames":           frames,
		"payloads":         m.Payloads,
		"failed_payloads":  m.FailedPayloads,
		"bits_teleported":  m.BitsTeleported,
		"bit_success_rate": m.BitSuccessRate,
		"breaker_trips":    m.BreakerTrips,
		"rate_limited":     m.RateLimited,
		"avg_pipeline_ms":  m.AveragePipeline.Milliseconds(),
		"p95_pipeline_ms":  m.P95Pipeline.Milliseconds(),
	}
}
