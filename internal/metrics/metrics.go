// Package metrics exposes Prometheus instrumentation for dispatch runs,
// delivery outcomes and tracking events.
//
// Metrics register on their own registry rather than the default one, so
// tests can build isolated instances. A process-wide instance is installed
// with SetGlobal; the package-level helpers are nil-safe and become no-ops
// when no instance is installed.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus collectors for the bulk email tool.
type Metrics struct {
	// Delivery counters
	EmailsSentTotal   *prometheus.CounterVec
	EmailsFailedTotal *prometheus.CounterVec

	// Tracking counters
	OpensRecordedTotal  prometheus.Counter
	ClicksRecordedTotal prometheus.Counter

	// Dispatch engine
	DispatchRunsTotal       *prometheus.CounterVec
	DispatchDurationSeconds prometheus.Histogram
	DispatchActive          prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_emails_sent_total",
				Help: "Total number of successfully delivered emails",
			},
			[]string{"transport"},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_emails_failed_total",
				Help: "Total number of failed deliveries",
			},
			[]string{"transport"},
		),

		OpensRecordedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_opens_recorded_total",
				Help: "Total number of open events that moved a recipient",
			},
		),
		ClicksRecordedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_clicks_recorded_total",
				Help: "Total number of click events that moved a recipient",
			},
		),

		DispatchRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_dispatch_runs_total",
				Help: "Total number of completed dispatch runs by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulkmail_dispatch_duration_seconds",
				Help:    "Wall clock duration of dispatch runs",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
			},
		),
		DispatchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkmail_dispatch_active",
				Help: "Number of dispatch runs currently in flight",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkmail_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.OpensRecordedTotal,
		m.ClicksRecordedTotal,
		m.DispatchRunsTotal,
		m.DispatchDurationSeconds,
		m.DispatchActive,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetGlobal installs the process-wide metrics instance.
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the process-wide metrics instance, or nil.
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// Handler serves the process-wide registry. Before SetGlobal has run it
// answers 503 so scrapes fail loudly instead of reporting empty data.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
			return
		}
		m.Handler().ServeHTTP(w, r)
	})
}

// IncEmailSent increments the delivered counter.
func IncEmailSent(transport string) {
	m := Global()
	if m != nil {
		m.EmailsSentTotal.WithLabelValues(transport).Inc()
	}
}

// IncEmailFailed increments the failed delivery counter.
func IncEmailFailed(transport string) {
	m := Global()
	if m != nil {
		m.EmailsFailedTotal.WithLabelValues(transport).Inc()
	}
}

// IncOpenRecorded increments the recorded opens counter.
func IncOpenRecorded() {
	m := Global()
	if m != nil {
		m.OpensRecordedTotal.Inc()
	}
}

// IncClickRecorded increments the recorded clicks counter.
func IncClickRecorded() {
	m := Global()
	if m != nil {
		m.ClicksRecordedTotal.Inc()
	}
}

// ObserveDispatchRun records one finished dispatch run.
func ObserveDispatchRun(outcome string, seconds float64) {
	m := Global()
	if m != nil {
		m.DispatchRunsTotal.WithLabelValues(outcome).Inc()
		m.DispatchDurationSeconds.Observe(seconds)
	}
}

// IncDispatchActive marks a dispatch run as started.
func IncDispatchActive() {
	m := Global()
	if m != nil {
		m.DispatchActive.Inc()
	}
}

// DecDispatchActive marks a dispatch run as finished.
func DecDispatchActive() {
	m := Global()
	if m != nil {
		m.DispatchActive.Dec()
	}
}
