// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	SamplesIngested prometheus.Counter
	PointsPublished prometheus.Counter
	SampleDrops     *prometheus.CounterVec
	SourceRetries   prometheus.Counter
	IngestLatency   prometheus.Histogram
	EstimatorWarmup prometheus.Gauge

	// Delivery metrics
	ActiveSessions    prometheus.Gauge
	ActiveSubscribers prometheus.Gauge
	BacklogOverflow   prometheus.Counter
	TerminalEvents    *prometheus.CounterVec
	SessionsOpened    *prometheus.CounterVec
	SendErrors        *prometheus.CounterVec

	// Health metrics
	LastSampleTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "patchstream"
	}

	return &Metrics{
		SamplesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "samples_ingested_total",
			Help:      "Total number of raw samples accepted by the estimator",
		}),
		PointsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "points_published_total",
			Help:      "Total number of derivative points published to the broker",
		}),
		SampleDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "sample_drops_total",
			Help:      "Total number of samples dropped by reason",
		}, []string{"reason"}),
		SourceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "source_retries_total",
			Help:      "Total number of sample acquisition retries",
		}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ingest_latency_seconds",
			Help:      "Latency of one estimator ingest call in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		EstimatorWarmup: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "estimator_window_fill",
			Help:      "Number of samples currently held in the estimator window",
		}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "active_sessions",
			Help:      "Number of currently connected client sessions",
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "active_subscribers",
			Help:      "Number of active broker subscriptions",
		}),
		BacklogOverflow: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "backlog_overflow_total",
			Help:      "Total number of buffered events dropped due to full subscriber backlogs",
		}),
		TerminalEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "terminal_events_total",
			Help:      "Total number of terminal stream events by reason",
		}, []string{"reason"}),
		SessionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "sessions_opened_total",
			Help:      "Total number of client sessions opened by transport",
		}, []string{"transport"}),
		SendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_errors_total",
			Help:      "Total number of downstream send failures by transport",
		}, []string{"transport"}),

		LastSampleTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_sample_timestamp",
			Help:      "Signal-clock timestamp of the last accepted sample",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSampleIngested increments the samples ingested counter and records
// the signal-clock timestamp of the sample.
func RecordSampleIngested(timestamp float64) {
	DefaultMetrics.SamplesIngested.Inc()
	DefaultMetrics.LastSampleTimestamp.Set(timestamp)
}

// RecordPointPublished increments the points published counter.
func RecordPointPublished() {
	DefaultMetrics.PointsPublished.Inc()
}

// RecordSampleDrop records a dropped sample by reason.
func RecordSampleDrop(reason string) {
	DefaultMetrics.SampleDrops.WithLabelValues(reason).Inc()
}

// RecordSourceRetry increments the acquisition retry counter.
func RecordSourceRetry() {
	DefaultMetrics.SourceRetries.Inc()
}

// RecordIngestLatency records one estimator ingest duration.
func RecordIngestLatency(seconds float64) {
	DefaultMetrics.IngestLatency.Observe(seconds)
}

// RecordBacklogOverflow increments the backlog overflow counter.
func RecordBacklogOverflow() {
	DefaultMetrics.BacklogOverflow.Inc()
}

// RecordTerminalEvent records a terminal stream event by reason.
func RecordTerminalEvent(reason string) {
	DefaultMetrics.TerminalEvents.WithLabelValues(reason).Inc()
}

// RecordSessionOpened records a new client session by transport.
func RecordSessionOpened(transport string) {
	DefaultMetrics.SessionsOpened.WithLabelValues(transport).Inc()
}

// RecordSendError records a downstream send failure by transport.
func RecordSendError(transport string) {
	DefaultMetrics.SendErrors.WithLabelValues(transport).Inc()
}

// SetActiveSessions updates the active session gauge.
func SetActiveSessions(n int) {
	DefaultMetrics.ActiveSessions.Set(float64(n))
}

// SetActiveSubscribers updates the active subscriber gauge.
func SetActiveSubscribers(n int) {
	DefaultMetrics.ActiveSubscribers.Set(float64(n))
}

// SetEstimatorWindowFill updates the estimator window fill gauge.
func SetEstimatorWindowFill(n int) {
	DefaultMetrics.EstimatorWarmup.Set(float64(n))
}
