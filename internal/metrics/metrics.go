package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for disparos
type Metrics struct {
	// Dispatch counters
	BatchesDispatchedTotal  *prometheus.CounterVec
	ContactsSentTotal       prometheus.Counter
	DispatchDurationSeconds prometheus.Histogram
	OpaqueDeliveriesTotal   prometheus.Counter
	RateLimitDeniedTotal    prometheus.Counter
	ClaimsSkippedTotal      prometheus.Counter
	WorkerPassesTotal       prometheus.Counter

	// Import counters
	ContactsImportedTotal *prometheus.CounterVec

	// Store gauges
	BatchesByStatus *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BatchesDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparos_batches_dispatched_total",
				Help: "Total number of batch dispatch attempts by outcome",
			},
			[]string{"status"},
		),
		ContactsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disparos_contacts_sent_total",
				Help: "Total number of contacts delivered to webhooks",
			},
		),
		DispatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "disparos_dispatch_duration_seconds",
				Help:    "Duration of one batch dispatch including the webhook call",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		OpaqueDeliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disparos_webhook_opaque_total",
				Help: "Total number of deliveries assumed successful via the opaque fallback",
			},
		),
		RateLimitDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disparos_ratelimit_denied_total",
				Help: "Total number of batches refused by the daily limit",
			},
		),
		ClaimsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disparos_claims_skipped_total",
				Help: "Total number of due batches already claimed by another run",
			},
		),
		WorkerPassesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disparos_worker_passes_total",
				Help: "Total number of dispatch worker passes",
			},
		),

		ContactsImportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparos_contacts_imported_total",
				Help: "Total number of imported rows by validation result",
			},
			[]string{"result"},
		),

		BatchesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "disparos_batches",
				Help: "Number of stored batches by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparos_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "disparos_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparos_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "disparos_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "disparos_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.BatchesDispatchedTotal,
		m.ContactsSentTotal,
		m.DispatchDurationSeconds,
		m.OpaqueDeliveriesTotal,
		m.RateLimitDeniedTotal,
		m.ClaimsSkippedTotal,
		m.WorkerPassesTotal,
		m.ContactsImportedTotal,
		m.BatchesByStatus,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveDispatch records the outcome of one batch dispatch
func ObserveDispatch(status string, contacts int, d time.Duration, opaque bool) {
	m := Global()
	if m == nil {
		return
	}
	m.BatchesDispatchedTotal.WithLabelValues(status).Inc()
	m.DispatchDurationSeconds.Observe(d.Seconds())
	if status == "sent" {
		m.ContactsSentTotal.Add(float64(contacts))
	}
	if opaque {
		m.OpaqueDeliveriesTotal.Inc()
	}
}

// IncRateLimitDenied increments the daily limit refusal counter
func IncRateLimitDenied() {
	if m := Global(); m != nil {
		m.RateLimitDeniedTotal.Inc()
	}
}

// IncClaimsSkipped increments the lost claim counter
func IncClaimsSkipped() {
	if m := Global(); m != nil {
		m.ClaimsSkippedTotal.Inc()
	}
}

// IncWorkerPasses increments the worker pass counter
func IncWorkerPasses() {
	if m := Global(); m != nil {
		m.WorkerPassesTotal.Inc()
	}
}

// AddContactsImported records the validation result of an import
func AddContactsImported(valid, invalid, duplicates int) {
	m := Global()
	if m == nil {
		return
	}
	m.ContactsImportedTotal.WithLabelValues("valid").Add(float64(valid))
	m.ContactsImportedTotal.WithLabelValues("invalid").Add(float64(invalid))
	m.ContactsImportedTotal.WithLabelValues("duplicate").Add(float64(duplicates))
}
