// Package metrics exposes Prometheus instrumentation for imports and searches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for one service instance.
type Metrics struct {
	ImportRuns      *prometheus.CounterVec
	ImportRows      *prometheus.CounterVec
	ImportDuration  *prometheus.HistogramVec
	SearchRequests  *prometheus.CounterVec
	ImportsInFlight prometheus.Gauge
}

// New registers the collectors against reg. Pass prometheus.DefaultRegisterer
// in production; tests use a fresh registry per instance.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ImportRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "import_runs_total",
			Help:      "Completed import runs by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		ImportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "import_rows_total",
			Help:      "Rows processed by dataset and disposition.",
		}, []string{"dataset", "disposition"}),
		ImportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refdata",
			Name:      "import_duration_seconds",
			Help:      "Wall time of import runs by dataset.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"dataset"}),
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "search_requests_total",
			Help:      "Search requests by dataset.",
		}, []string{"dataset"}),
		ImportsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "refdata",
			Name:      "imports_in_flight",
			Help:      "Import runs currently executing.",
		}),
	}
}

// ObserveImport records the tally counters for one finished run.
func (m *Metrics) ObserveImport(dataset string, inserted, updated, identifiers, skipped int64, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ImportRuns.WithLabelValues(dataset, outcome).Inc()
	m.ImportRows.WithLabelValues(dataset, "inserted").Add(float64(inserted))
	m.ImportRows.WithLabelValues(dataset, "updated").Add(float64(updated))
	m.ImportRows.WithLabelValues(dataset, "identifiers").Add(float64(identifiers))
	m.ImportRows.WithLabelValues(dataset, "skipped").Add(float64(skipped))
	m.ImportDuration.WithLabelValues(dataset).Observe(seconds)
}
