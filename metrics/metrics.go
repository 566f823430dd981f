// Package metrics exposes Prometheus counters and histograms for job
// manager and worker activity. Callers that don't want metrics simply
// don't construct one: JobManager and Worker accept a nil *Metrics and
// then record nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector this package registers.
type Metrics struct {
	JobsDeferred  *prometheus.CounterVec
	JobsSucceeded *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsCancelled prometheus.Counter
	JobsStalled   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	FetchEmpty    prometheus.Counter
}

// New creates and registers every metric against the default registry.
func New() *Metrics {
	return &Metrics{
		JobsDeferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabbage_jobs_deferred_total",
			Help: "Total number of jobs deferred, by queue and task.",
		}, []string{"queue", "task"}),
		JobsSucceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabbage_jobs_succeeded_total",
			Help: "Total number of jobs finished as succeeded, by queue and task.",
		}, []string{"queue", "task"}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabbage_jobs_failed_total",
			Help: "Total number of jobs finished as failed, by queue and task.",
		}, []string{"queue", "task"}),
		JobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabbage_jobs_retried_total",
			Help: "Total number of jobs sent back to todo for retry, by queue and task.",
		}, []string{"queue", "task"}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cabbage_jobs_cancelled_total",
			Help: "Total number of todo jobs cancelled before being fetched.",
		}),
		JobsStalled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabbage_jobs_stalled_total",
			Help: "Total number of jobs observed stalled by a GetStalledJobs scan, by queue and task.",
		}, []string{"queue", "task"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cabbage_job_duration_seconds",
			Help:    "Wall time a handler spent running a job, by queue and task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "task"}),
		FetchEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cabbage_fetch_empty_total",
			Help: "Total number of FetchJob calls that found no eligible job.",
		}),
	}
}

// ObserveDuration records how long a handler for (queue, task) ran.
func (m *Metrics) ObserveDuration(queue, task string, d time.Duration) {
	m.JobDuration.WithLabelValues(queue, task).Observe(d.Seconds())
}
