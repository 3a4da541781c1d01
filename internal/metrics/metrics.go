// Package metrics exposes Prometheus instrumentation for the tracker.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "readinghabits"

var (
	registerOnce sync.Once

	uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Total number of data arrivals by source",
	}, []string{"source"})
	rowsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_skipped_total",
		Help:      "Total number of malformed rows skipped while parsing",
	})
	recomputes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recomputes_total",
		Help:      "Total number of statistics recomputations by outcome",
	}, []string{"outcome"})
	recomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_duration_seconds",
		Help:      "Histogram of statistics recomputation durations in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	persistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Total number of persistence failures by tier and operation",
	}, []string{"tier", "op"})
	superseded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "superseded_total",
		Help:      "Total number of arrivals discarded because a newer one committed first",
	})
	sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Current number of loaded sessions",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(uploads, rowsSkipped, recomputes, recomputeDuration,
			persistenceFailures, superseded, sessions)
	})
}

// Arrival and recompute helpers
func IncUploads(source string)     { uploads.WithLabelValues(source).Inc() }
func AddRowsSkipped(n int)         { rowsSkipped.Add(float64(n)) }
func IncRecomputes(outcome string) { recomputes.WithLabelValues(outcome).Inc() }
func ObserveRecompute(d time.Duration) {
	recomputeDuration.Observe(d.Seconds())
}

// Persistence and session helpers
func IncPersistenceFailure(tier, op string) { persistenceFailures.WithLabelValues(tier, op).Inc() }
func IncSuperseded()                        { superseded.Inc() }
func SetSessions(n int)                     { sessions.Set(float64(n)) }
