// Package metrics holds the Prometheus collectors for the purchase service.
// The Metrics struct is injected into components that record metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service
type Metrics struct {
	// Purchase lifecycle
	purchaseSubmissionsTotal *prometheus.CounterVec
	purchaseTerminalTotal    *prometheus.CounterVec
	snapshotsObservedTotal   *prometheus.CounterVec
	snapshotsIgnoredTotal    *prometheus.CounterVec

	// Outbound collaborators
	recordingSubmissionsTotal *prometheus.CounterVec
	rpcPollsTotal             *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		purchaseSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_submissions_total",
				Help: "Total purchase submissions by network and outcome",
			},
			[]string{"network", "outcome"},
		),
		purchaseTerminalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_terminal_total",
				Help: "Total purchase attempts reaching a terminal status",
			},
			[]string{"network", "status"},
		),
		snapshotsObservedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_snapshots_observed_total",
				Help: "Total chain snapshots observed by network and status",
			},
			[]string{"network", "status"},
		),
		snapshotsIgnoredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_snapshots_ignored_total",
				Help: "Total chain snapshots ignored by reason (stale network, duplicate, no attempt)",
			},
			[]string{"reason"},
		),
		recordingSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recording_submissions_total",
				Help: "Total recording API submissions by outcome",
			},
			[]string{"outcome"},
		),
		rpcPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_watcher_polls_total",
				Help: "Total receipt watcher RPC polls by network and outcome",
			},
			[]string{"network", "outcome"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"method", "path"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, path and status code",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordSubmission records a purchase submission outcome
func (m *Metrics) RecordSubmission(network, outcome string) {
	if m == nil {
		return
	}
	m.purchaseSubmissionsTotal.WithLabelValues(network, outcome).Inc()
}

// RecordTerminal records a purchase attempt reaching a terminal status
func (m *Metrics) RecordTerminal(network, status string) {
	if m == nil {
		return
	}
	m.purchaseTerminalTotal.WithLabelValues(network, status).Inc()
}

// RecordSnapshot records an observed chain snapshot
func (m *Metrics) RecordSnapshot(network, status string) {
	if m == nil {
		return
	}
	m.snapshotsObservedTotal.WithLabelValues(network, status).Inc()
}

// RecordSnapshotIgnored records a snapshot dropped by a coordinator guard
func (m *Metrics) RecordSnapshotIgnored(reason string) {
	if m == nil {
		return
	}
	m.snapshotsIgnoredTotal.WithLabelValues(reason).Inc()
}

// RecordRecording records a recording API submission outcome
func (m *Metrics) RecordRecording(outcome string) {
	if m == nil {
		return
	}
	m.recordingSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRPCPoll records one receipt watcher poll
func (m *Metrics) RecordRPCPoll(network, outcome string) {
	if m == nil {
		return
	}
	m.rpcPollsTotal.WithLabelValues(network, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
