// Package metrics provides Prometheus metrics for RAGLite
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Degraded paths (embedding zero vectors, index write failures, rerank identity)
	FallbacksTotal *prometheus.CounterVec

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	QueryResults  prometheus.Histogram

	// Upload metrics
	UploadsTotal *prometheus.CounterVec

	// Queue metrics
	TasksTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raglite_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"type", "status"},
	)

	m.JobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raglite_job_duration_seconds",
			Help:    "Duration of jobs in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"type"},
	)

	m.FallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raglite_fallbacks_total",
			Help: "Total number of degraded-but-continued operations",
		},
		[]string{"component"},
	)

	m.QueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raglite_queries_total",
			Help: "Total number of queries",
		},
		[]string{"status"},
	)

	m.QueryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raglite_query_duration_seconds",
			Help:    "Duration of queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.QueryResults = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raglite_query_results",
			Help:    "Number of results returned per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	m.UploadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raglite_uploads_total",
			Help: "Total number of accepted uploads",
		},
		[]string{"result"},
	)

	m.TasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raglite_queue_tasks_total",
			Help: "Total number of queue task deliveries by outcome",
		},
		[]string{"kind", "result"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordJob records a finished job.
func (m *Metrics) RecordJob(jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// RecordFallback records a degraded path taken by component.
func (m *Metrics) RecordFallback(component string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(component).Inc()
}

// RecordQuery records a finished query.
func (m *Metrics) RecordQuery(status string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status).Inc()
	m.QueryDuration.Observe(d.Seconds())
	m.QueryResults.Observe(float64(results))
}

// RecordUpload records an upload outcome ("accepted", "duplicate", "error").
func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

// RecordTask records a queue delivery outcome ("done", "redelivered", "failed", "inline").
func (m *Metrics) RecordTask(kind, result string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(kind, result).Inc()
}
