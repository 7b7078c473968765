// Package telemetry registers the Prometheus collectors the consumer
// exposes on :METRICS_PORT/metrics, grounded on the teacher's
// observability/metrics.go CounterVec/GaugeVec/HistogramVec shape and
// setter-function style (EnqueueJob, CompleteJob, FailJob, ...).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_processed_total",
		Help: "Total number of messages drained from the registry, regardless of outcome.",
	})

	MessagesAckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_acked_total",
		Help: "Total number of messages acknowledged to the broker.",
	})

	MessagesDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_dead_lettered_total",
		Help: "Total number of messages routed to the broker's dead-letter subqueue.",
	})

	InflightRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inflight_records",
		Help: "Current number of records dispatched to the worker pool and not yet drained.",
	})

	LeaseRenewalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lease_renewals_total",
		Help: "Total number of lease-renewal calls issued for long-running records.",
	})

	StuckRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stuck_records",
		Help: "Number of in-flight records exceeding their long_record age threshold, sampled at each housekeeping tick.",
	})

	ProcessDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "process_duration_seconds",
		Help:    "Wall-clock time from dispatch to completion for a single record.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})
)

// ObserveProcessDuration records how long a record took to process.
func ObserveProcessDuration(d time.Duration) {
	ProcessDurationSeconds.Observe(d.Seconds())
}
