package evaluation

import (
	"sort"
	"sync"
	"time"
)

// DefaultMetricsWindow is how many recent latency samples percentiles are computed over.
const DefaultMetricsWindow = 1000

// MetricsSnapshot is a point-in-time copy of EvaluationMetrics.
type MetricsSnapshot struct {
	TotalEvaluations uint64  `json:"total_evaluations"`
	CacheHits        uint64  `json:"cache_hits"`
	CacheMisses      uint64  `json:"cache_misses"`
	Errors           uint64  `json:"errors"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	AverageMs        float64 `json:"avg_evaluation_time_ms"`
	P95Ms            float64 `json:"p95_evaluation_time_ms"`
	P99Ms            float64 `json:"p99_evaluation_time_ms"`
	Samples          int     `json:"samples"`
}

// EvaluationMetrics keeps running counters and a bounded window of latency
// samples. Percentiles are recomputed on every insert. Safe for concurrent use.
type EvaluationMetrics struct {
	mu      sync.Mutex
	window  int
	samples []float64 // ring buffer, milliseconds
	next    int
	snap    MetricsSnapshot
}

// NewEvaluationMetrics creates metrics over the last window samples.
func NewEvaluationMetrics(window int) *EvaluationMetrics {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	return &EvaluationMetrics{
		window:  window,
		samples: make([]float64, 0, window),
	}
}

// Record adds one evaluation outcome.
func (m *EvaluationMetrics) Record(d time.Duration, cached, failed bool) {
	ms := float64(d) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.TotalEvaluations++
	switch {
	case failed:
		m.snap.Errors++
	case cached:
		m.snap.CacheHits++
	default:
		m.snap.CacheMisses++
	}
	if lookups := m.snap.CacheHits + m.snap.CacheMisses; lookups > 0 {
		m.snap.CacheHitRate = float64(m.snap.CacheHits) / float64(lookups)
	}

	if len(m.samples) < m.window {
		m.samples = append(m.samples, ms)
	} else {
		m.samples[m.next] = ms
		m.next = (m.next + 1) % m.window
	}
	m.recompute()
}

func (m *EvaluationMetrics) recompute() {
	n := len(m.samples)
	sorted := append([]float64(nil), m.samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	m.snap.Samples = n
	m.snap.AverageMs = sum / float64(n)
	m.snap.P95Ms = sorted[percentileIndex(n, 0.95)]
	m.snap.P99Ms = sorted[percentileIndex(n, 0.99)]
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Snapshot returns the current counters and latency statistics.
func (m *EvaluationMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Reset clears counters and samples.
func (m *EvaluationMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
	m.next = 0
	m.snap = MetricsSnapshot{}
}
