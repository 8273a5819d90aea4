package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Letterbox
type Metrics struct {
	// Audience and newsletter counters
	SubscribersAddedTotal   *prometheus.CounterVec
	SubscribersRemovedTotal *prometheus.CounterVec
	NewslettersTotal        *prometheus.CounterVec
	GenerationsTotal        *prometheus.CounterVec
	ConnectionTestsTotal    *prometheus.CounterVec

	// Delivery counters
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessagesDeferredTotal *prometheus.CounterVec
	RateLimitedTotal      *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Snapshot gauges
	AudienceSubscribed   prometheus.Gauge
	AudienceUnsubscribed prometheus.Gauge
	ArchiveSent          prometheus.Gauge
	ArchiveAvgOpenRate   prometheus.Gauge
	ArchiveAvgClickRate  prometheus.Gauge
	OutboxSize           prometheus.Gauge
	OutboxActive         prometheus.Gauge
	OutboxFailed         prometheus.Gauge

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	// counters persisted by the Collector, keyed by metric name
	counters map[string]*prometheus.CounterVec
	registry *prometheus.Registry
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SubscribersAddedTotal:   counterVec("letterbox_subscribers_added_total", "Total number of subscribers added", "source"),
		SubscribersRemovedTotal: counterVec("letterbox_subscribers_removed_total", "Total number of subscribers removed"),
		NewslettersTotal:        counterVec("letterbox_newsletters_total", "Total number of newsletters saved or sent", "status"),
		GenerationsTotal:        counterVec("letterbox_generations_total", "Total number of content generation attempts", "provider", "result"),
		ConnectionTestsTotal:    counterVec("letterbox_connection_tests_total", "Total number of provider connection tests", "service", "status"),

		MessagesSentTotal:     counterVec("letterbox_messages_sent_total", "Total number of newsletter emails delivered to the relay"),
		MessagesFailedTotal:   counterVec("letterbox_messages_failed_total", "Total number of newsletter emails that failed permanently", "error_type"),
		MessagesDeferredTotal: counterVec("letterbox_messages_deferred_total", "Total number of newsletter emails deferred for retry"),
		RateLimitedTotal:      counterVec("letterbox_ratelimit_exceeded_total", "Total number of emails held back by a send quota", "level"),

		APIRequestsTotal: counterVec("letterbox_api_requests_total", "Total number of API requests", "method", "path", "status"),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "letterbox_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: counterVec("letterbox_api_errors_total", "Total number of API errors", "error_type"),

		AudienceSubscribed:   gauge("letterbox_audience_subscribed", "Number of subscribed audience members"),
		AudienceUnsubscribed: gauge("letterbox_audience_unsubscribed", "Number of unsubscribed audience members"),
		ArchiveSent:          gauge("letterbox_archive_sent", "Number of sent newsletters in the archive"),
		ArchiveAvgOpenRate:   gauge("letterbox_archive_avg_open_rate", "Average open rate of sent newsletters in percent"),
		ArchiveAvgClickRate:  gauge("letterbox_archive_avg_click_rate", "Average click rate of sent newsletters in percent"),
		OutboxSize:           gauge("letterbox_outbox_size", "Number of pending and deferred emails in the outbox"),
		OutboxActive:         gauge("letterbox_outbox_active", "Number of emails currently being sent"),
		OutboxFailed:         gauge("letterbox_outbox_failed", "Number of emails that failed permanently"),

		UptimeSeconds:    gauge("letterbox_uptime_seconds", "Server uptime in seconds"),
		Goroutines:       gauge("letterbox_goroutines", "Number of active goroutines"),
		StorageUsedBytes: gauge("letterbox_storage_used_bytes", "BoltDB file size in bytes"),

		registry: reg,
	}

	m.counters = map[string]*prometheus.CounterVec{
		"letterbox_subscribers_added_total":   m.SubscribersAddedTotal,
		"letterbox_subscribers_removed_total": m.SubscribersRemovedTotal,
		"letterbox_newsletters_total":         m.NewslettersTotal,
		"letterbox_generations_total":         m.GenerationsTotal,
		"letterbox_connection_tests_total":    m.ConnectionTestsTotal,
		"letterbox_messages_sent_total":       m.MessagesSentTotal,
		"letterbox_messages_failed_total":     m.MessagesFailedTotal,
		"letterbox_messages_deferred_total":   m.MessagesDeferredTotal,
		"letterbox_ratelimit_exceeded_total":  m.RateLimitedTotal,
		"letterbox_api_requests_total":        m.APIRequestsTotal,
		"letterbox_api_errors_total":          m.APIErrorsTotal,
	}

	for _, c := range m.counters {
		reg.MustRegister(c)
	}
	reg.MustRegister(
		m.APIRequestDurationSeconds,
		m.AudienceSubscribed,
		m.AudienceUnsubscribed,
		m.ArchiveSent,
		m.ArchiveAvgOpenRate,
		m.ArchiveAvgClickRate,
		m.OutboxSize,
		m.OutboxActive,
		m.OutboxFailed,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
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

// IncSubscribersAdded counts a new audience member by source (manual, import)
func IncSubscribersAdded(source string) {
	if m := Global(); m != nil {
		m.SubscribersAddedTotal.WithLabelValues(source).Inc()
	}
}

// IncSubscribersRemoved counts a removed audience member
func IncSubscribersRemoved() {
	if m := Global(); m != nil {
		m.SubscribersRemovedTotal.WithLabelValues().Inc()
	}
}

// IncNewsletters counts a newsletter saved as draft or sent
func IncNewsletters(status string) {
	if m := Global(); m != nil {
		m.NewslettersTotal.WithLabelValues(status).Inc()
	}
}

// IncGenerations counts a generation attempt
func IncGenerations(provider, result string) {
	if m := Global(); m != nil {
		m.GenerationsTotal.WithLabelValues(provider, result).Inc()
	}
}

// IncConnectionTests counts a provider connection test
func IncConnectionTests(service, status string) {
	if m := Global(); m != nil {
		m.ConnectionTestsTotal.WithLabelValues(service, status).Inc()
	}
}

// IncMessagesSent increments the delivered message counter
func IncMessagesSent() {
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues().Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(errorType string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(errorType).Inc()
	}
}

// IncMessagesDeferred increments the deferred message counter
func IncMessagesDeferred() {
	if m := Global(); m != nil {
		m.MessagesDeferredTotal.WithLabelValues().Inc()
	}
}

// IncRateLimited increments the quota counter for level
func IncRateLimited(level string) {
	if m := Global(); m != nil {
		m.RateLimitedTotal.WithLabelValues(level).Inc()
	}
}
