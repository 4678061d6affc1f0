// Package metrics exposes Prometheus collectors for imports and sub-entity
// deduplication.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/contacthub/internal/contact"
)

const namespace = "contacthub"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	rows         *prometheus.CounterVec
	imports      *prometheus.CounterVec
	importTime   *prometheus.HistogramVec
	upserts      *prometheus.CounterVec
	activeImport prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by source and outcome.",
		}, []string{"source", "outcome"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Completed import batches by source.",
		}, []string{"source"}),
		importTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of one import batch.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"source"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subentity_upserts_total",
			Help:      "Sub-entity upserts by kind and result (created or merged).",
		}, []string{"kind", "result"}),
		activeImport: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imports_active",
			Help:      "File imports currently holding a slot.",
		}),
	}

	m.registry.MustRegister(
		m.rows,
		m.imports,
		m.importTime,
		m.upserts,
		m.activeImport,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveUpsert implements contact.Observer.
func (m *Metrics) ObserveUpsert(kind contact.Kind, created bool) {
	result := "merged"
	if created {
		result = "created"
	}
	m.upserts.WithLabelValues(string(kind), result).Inc()
}

// ObserveImport records one finished batch.
func (m *Metrics) ObserveImport(source string, created, failed int, elapsed time.Duration) {
	m.rows.WithLabelValues(source, "created").Add(float64(created))
	m.rows.WithLabelValues(source, "failed").Add(float64(failed))
	m.imports.WithLabelValues(source).Inc()
	m.importTime.WithLabelValues(source).Observe(elapsed.Seconds())
}

// SetActiveImports reports the number of occupied import slots.
func (m *Metrics) SetActiveImports(n int) {
	m.activeImport.Set(float64(n))
}
