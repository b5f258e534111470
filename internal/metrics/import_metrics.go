// Package metrics exposes Prometheus collectors for CSV imports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/billing/internal/ingest"
)

const namespace = "billing"

// Reasons an import is refused before it starts. Busy imports were refused
// without waiting; timed out ones waited for a slot and gave up.
const (
	RejectReasonBusy    = "busy"
	RejectReasonTimeout = "wait_timeout"
)

// ImportMetrics records batch outcomes. A nil *ImportMetrics is valid and
// records nothing.
type ImportMetrics struct {
	batches  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	failures *prometheus.CounterVec
	warnings prometheus.Counter
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	rejected *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer, falling
// back to the default registerer when nil.
func New(registerer prometheus.Registerer) *ImportMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &ImportMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_batches_total",
			Help:      "Import batches by failure policy and outcome.",
		}, []string{"policy", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_row_failures_total",
			Help:      "Rejected rows by error kind.",
		}, []string{"kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_warnings_total",
			Help:      "Values replaced by defaults during normalization.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of an import batch, commit included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"policy"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imports_in_flight",
			Help:      "Imports currently running.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_rejected_total",
			Help:      "Imports refused before starting.",
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.batches,
		m.rows,
		m.failures,
		m.warnings,
		m.duration,
		m.inFlight,
		m.rejected,
	)
	return m
}

// ImportStarted marks an import as running and returns the func that
// marks it finished.
func (m *ImportMetrics) ImportStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveReport records a finished batch. Rolled back batches count their
// attempted rows as failed.
func (m *ImportMetrics) ObserveReport(r *ingest.Report, elapsed time.Duration) {
	if m == nil || r == nil {
		return
	}
	outcome := string(r.Outcome)
	if r.DryRun {
		outcome = "dry_run"
	}
	m.batches.WithLabelValues(string(r.Policy), outcome).Inc()
	m.duration.WithLabelValues(string(r.Policy)).Observe(elapsed.Seconds())

	if r.Outcome == ingest.OutcomeCommitted || r.DryRun {
		m.rows.WithLabelValues("succeeded").Add(float64(r.Succeeded))
		m.rows.WithLabelValues("failed").Add(float64(r.Failed))
	} else {
		m.rows.WithLabelValues("rolled_back").Add(float64(r.Attempted))
	}

	for _, f := range r.Failures {
		m.failures.WithLabelValues(string(f.Kind)).Inc()
	}
	m.warnings.Add(float64(len(r.Warnings)))
}

// Rejected counts an import refused by the concurrency limiter.
func (m *ImportMetrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
