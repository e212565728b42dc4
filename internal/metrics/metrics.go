package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Mailtide
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	// Engagement counters, driven by tracking callbacks and webhooks
	OpensTotal      *prometheus.CounterVec
	ClicksTotal     *prometheus.CounterVec
	BouncesTotal    *prometheus.CounterVec
	ComplaintsTotal *prometheus.CounterVec

	// Job gauges
	ActiveJobs prometheus.Gauge

	// Webhook counters
	WebhookEventsTotal  *prometheus.CounterVec
	WebhookUnknownTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// Quota
	QuotaDeniedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_messages_sent_total",
				Help: "Total number of messages accepted by the delivery channel",
			},
			[]string{"tenant"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_messages_failed_total",
				Help: "Total number of messages that failed to send",
			},
			[]string{"tenant"},
		),

		OpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_opens_total",
				Help: "Total number of first opens recorded",
			},
			[]string{"tenant"},
		),
		ClicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_clicks_total",
				Help: "Total number of first clicks recorded",
			},
			[]string{"tenant"},
		),
		BouncesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_bounces_total",
				Help: "Total number of bounces recorded",
			},
			[]string{"tenant"},
		),
		ComplaintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_complaints_total",
				Help: "Total number of complaints recorded",
			},
			[]string{"tenant"},
		),

		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtide_active_jobs",
				Help: "Number of send jobs currently dispatching",
			},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_webhook_events_total",
				Help: "Total number of provider webhook notifications processed",
			},
			[]string{"type"},
		),
		WebhookUnknownTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailtide_webhook_unknown_total",
				Help: "Total number of webhook notifications referencing no known message",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtide_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		QuotaDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtide_quota_denied_total",
				Help: "Total number of sends denied by tenant quota",
			},
			[]string{"tenant", "window"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.OpensTotal,
		m.ClicksTotal,
		m.BouncesTotal,
		m.ComplaintsTotal,
		m.ActiveJobs,
		m.WebhookEventsTotal,
		m.WebhookUnknownTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.QuotaDeniedTotal,
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

// IncMessagesSent increments the sent message counter
func IncMessagesSent(tenant string) {
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues(tenant).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(tenant string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(tenant).Inc()
	}
}

// IncOpens increments the open counter
func IncOpens(tenant string) {
	if m := Global(); m != nil {
		m.OpensTotal.WithLabelValues(tenant).Inc()
	}
}

// IncClicks increments the click counter
func IncClicks(tenant string) {
	if m := Global(); m != nil {
		m.ClicksTotal.WithLabelValues(tenant).Inc()
	}
}

// IncBounces increments the bounce counter
func IncBounces(tenant string) {
	if m := Global(); m != nil {
		m.BouncesTotal.WithLabelValues(tenant).Inc()
	}
}

// IncComplaints increments the complaint counter
func IncComplaints(tenant string) {
	if m := Global(); m != nil {
		m.ComplaintsTotal.WithLabelValues(tenant).Inc()
	}
}

// IncActiveJobs increments the active job gauge
func IncActiveJobs() {
	if m := Global(); m != nil {
		m.ActiveJobs.Inc()
	}
}

// DecActiveJobs decrements the active job gauge
func DecActiveJobs() {
	if m := Global(); m != nil {
		m.ActiveJobs.Dec()
	}
}

// IncWebhookEvents increments the webhook event counter
func IncWebhookEvents(eventType string) {
	if m := Global(); m != nil {
		m.WebhookEventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncWebhookUnknown increments the unknown-message webhook counter
func IncWebhookUnknown() {
	if m := Global(); m != nil {
		m.WebhookUnknownTotal.Inc()
	}
}

// IncQuotaDenied increments the quota denial counter
func IncQuotaDenied(tenant, window string) {
	if m := Global(); m != nil {
		m.QuotaDeniedTotal.WithLabelValues(tenant, window).Inc()
	}
}
