package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for clicktrail. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Tracking gateway
	TrackingEventsTotal      *prometheus.CounterVec
	TrackingRejectedTotal    *prometheus.CounterVec
	SuppressionFailuresTotal prometheus.Counter

	// Send path
	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	HTTPErrorsTotal            *prometheus.CounterVec

	// System
	UptimeSeconds     prometheus.Gauge
	Goroutines        prometheus.Gauge
	DatabaseSizeBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TrackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicktrail_tracking_events_total",
				Help: "Total number of recorded engagement events",
			},
			[]string{"type"},
		),
		TrackingRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicktrail_tracking_rejected_total",
				Help: "Total number of rejected tracking requests",
			},
			[]string{"endpoint", "reason"},
		),
		SuppressionFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clicktrail_suppression_failures_total",
				Help: "Total number of contact suppressions that failed after an unsubscribe",
			},
		),

		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clicktrail_messages_sent_total",
				Help: "Total number of messages handed to the mail transport",
			},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicktrail_messages_failed_total",
				Help: "Total number of send attempts that failed",
			},
			[]string{"reason"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicktrail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clicktrail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicktrail_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clicktrail_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clicktrail_goroutines",
				Help: "Number of active goroutines",
			},
		),
		DatabaseSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clicktrail_database_size_bytes",
				Help: "SQLite database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.TrackingEventsTotal,
		m.TrackingRejectedTotal,
		m.SuppressionFailuresTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HTTPErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.DatabaseSizeBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncTrackingEvent counts a recorded click or unsubscribe
func (m *Metrics) IncTrackingEvent(eventType string) {
	if m != nil {
		m.TrackingEventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncTrackingRejected counts a rejected gateway request
func (m *Metrics) IncTrackingRejected(endpoint, reason string) {
	if m != nil {
		m.TrackingRejectedTotal.WithLabelValues(endpoint, reason).Inc()
	}
}

// IncSuppressionFailure counts a failed post-unsubscribe suppression
func (m *Metrics) IncSuppressionFailure() {
	if m != nil {
		m.SuppressionFailuresTotal.Inc()
	}
}

// IncMessagesSent increments the sent message counter
func (m *Metrics) IncMessagesSent() {
	if m != nil {
		m.MessagesSentTotal.Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func (m *Metrics) IncMessagesFailed(reason string) {
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(reason).Inc()
	}
}
