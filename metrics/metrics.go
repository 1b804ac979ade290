// Package metrics provides Prometheus metrics for audit indexing and queries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit log service.
type Metrics struct {
	EngineRequests   *prometheus.CounterVec
	EngineDuration   *prometheus.HistogramVec
	DocumentsIndexed *prometheus.CounterVec
	JobsEnqueued     *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
}

// New creates metrics and registers them with reg.
func New(reg prometheus.Registerer) (metrics *Metrics) {
	factory := promauto.With(reg)
	metrics = &Metrics{
		EngineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditlog_engine_requests_total",
				Help: "Total number of search engine requests",
			},
			[]string{"operation", "status"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditlog_engine_request_duration_seconds",
				Help:    "Time taken by search engine requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DocumentsIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditlog_documents_indexed_total",
				Help: "Total number of audit documents accepted, by path",
			},
			[]string{"mode"},
		),
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditlog_jobs_enqueued_total",
				Help: "Total number of index jobs handed to a queue connection",
			},
			[]string{"connection", "queue"},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditlog_jobs_processed_total",
				Help: "Total number of index jobs processed by workers",
			},
			[]string{"connection", "status"},
		),
	}
	return metrics
}
