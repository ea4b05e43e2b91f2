// Package metrics provides Prometheus metrics for the document pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	DocumentsRegistered prometheus.Counter
	DocumentsVectorized prometheus.Counter
	ChunksUpserted      prometheus.Counter
	VectorizeFailures   *prometheus.CounterVec
	VectorizeDuration   prometheus.Histogram

	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// New registers every metric on a fresh registry, so tests can build as many
// instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DocumentsRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "incredoc_documents_registered_total",
			Help: "Documents newly registered by intake scans",
		}),
		DocumentsVectorized: f.NewCounter(prometheus.CounterOpts{
			Name: "incredoc_documents_vectorized_total",
			Help: "Documents marked vectorized by successful runs",
		}),
		ChunksUpserted: f.NewCounter(prometheus.CounterOpts{
			Name: "incredoc_chunks_upserted_total",
			Help: "Chunks written to the vector index",
		}),
		VectorizeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incredoc_vectorize_failures_total",
			Help: "Vectorization runs aborted, by failing stage",
		}, []string{"stage"}),
		VectorizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "incredoc_vectorize_duration_seconds",
			Help:    "Duration of vectorization runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incredoc_queries_total",
			Help: "Questions answered, by outcome",
		}, []string{"status"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "incredoc_query_duration_seconds",
			Help:    "Duration of question answering",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorders below accept a nil receiver so components can run without metrics.

func (m *Metrics) RecordRegistered(n int) {
	if m == nil {
		return
	}
	m.DocumentsRegistered.Add(float64(n))
}

func (m *Metrics) RecordVectorized(docs, chunks int, seconds float64) {
	if m == nil {
		return
	}
	m.DocumentsVectorized.Add(float64(docs))
	m.ChunksUpserted.Add(float64(chunks))
	m.VectorizeDuration.Observe(seconds)
}

func (m *Metrics) RecordVectorizeFailure(stage string, seconds float64) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.VectorizeFailures.WithLabelValues(stage).Inc()
	m.VectorizeDuration.Observe(seconds)
}

func (m *Metrics) RecordQuery(status string, seconds float64) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status).Inc()
	m.QueryDuration.Observe(seconds)
}
