// Package telemetry exposes Prometheus metrics for rule evaluation.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TimurManjosov/goflagship-rules/internal/cache"
	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
)

const (
	namespace = "flagship"
	subsystem = "rules"
)

// Evaluation outcomes used as the "outcome" label.
const (
	OutcomeMatched = "matched"
	OutcomeDefault = "default"
	OutcomeNoMatch = "no_match"
	OutcomeCached  = "cached"
	OutcomeError   = "error"
)

// lowLatencyBuckets resolve sub-millisecond evaluations; DefBuckets start at 5ms.
var lowLatencyBuckets = []float64{.0001, .0005, .001, .002, .005, .010, .025, .050, .100, .500}

// Metrics holds the evaluation collectors registered on one registry.
type Metrics struct {
	Evaluations   *prometheus.CounterVec
	Duration      prometheus.Histogram
	Batches       prometheus.Counter
	BatchSize     prometheus.Histogram
	SnapshotRules prometheus.Gauge
}

// NewMetrics registers evaluation collectors on reg. A nil reg creates an
// unregistered set, which is useful for tests and tools that do not export.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluations_total",
			Help:      "Rule set evaluations by outcome",
		}, []string{"outcome"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_duration_seconds",
			Help:      "Time taken to evaluate a rule set against one context",
			Buckets:   lowLatencyBuckets,
		}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Batch evaluations started",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_size",
			Help:      "Contexts per batch evaluation",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		SnapshotRules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_rules",
			Help:      "Number of rules in the active snapshot",
		}),
	}
}

// ObserveEvaluation records one evaluation.
func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.Duration.Observe(d.Seconds())
}

// ObserveBatch records the start of a batch of n contexts.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.BatchSize.Observe(float64(n))
}

// RegisterCacheCollectors exposes evaluation and compiler cache counters as
// collectors that read the caches at scrape time.
func RegisterCacheCollectors(reg prometheus.Registerer, ec *cache.EvaluationCache, comp *compiler.Compiler) {
	if reg == nil {
		return
	}
	f := promauto.With(reg)
	if ec != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluation_cache", Name: "hits_total",
			Help: "Evaluation cache hits",
		}, func() float64 { return float64(ec.Stats().Hits) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluation_cache", Name: "misses_total",
			Help: "Evaluation cache misses",
		}, func() float64 { return float64(ec.Stats().Misses) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluation_cache", Name: "evictions_total",
			Help: "Entries evicted to honor the size bound",
		}, func() float64 { return float64(ec.Stats().Evictions) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "evaluation_cache", Name: "items_count",
			Help: "Current number of cached outcomes",
		}, func() float64 { return float64(ec.Len()) })
	}
	if comp != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compiler", Name: "cache_hits_total",
			Help: "Compiled rule cache hits",
		}, func() float64 { return float64(comp.Stats().Hits) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compiler", Name: "cache_misses_total",
			Help: "Compiled rule cache misses",
		}, func() float64 { return float64(comp.Stats().Misses) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "compiler", Name: "cache_items_count",
			Help: "Current number of compiled rules held",
		}, func() float64 { return float64(comp.Stats().Size) })
	}
}

// ObserveSnapshot records the rule count of a newly activated snapshot.
func (m *Metrics) ObserveSnapshot(rules int) {
	if m == nil {
		return
	}
	m.SnapshotRules.Set(float64(rules))
}
