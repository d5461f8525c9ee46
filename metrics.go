package wpbot

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	routeEmpty      = "empty"
	routeCommand    = "command"
	routeCompletion = "completion"

	errorKindCommand    = "command"
	errorKindCompletion = "completion"
	errorKindPanic      = "panic"
)

// metrics 使用独立的 Registry, 多个 Bot 实例之间互不影响
type metrics struct {
	registry           *prometheus.Registry
	messages           *prometheus.CounterVec
	errors             *prometheus.CounterVec
	completionDuration prometheus.Histogram
}

func newMetrics(sessions *SessionStore) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpbot_messages_total",
			Help: "Inbound messages by route.",
		}, []string{"route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpbot_errors_total",
			Help: "Per-message errors absorbed into the default response.",
		}, []string{"kind"}),
		completionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wpbot_completion_duration_seconds",
			Help:    "Latency of completion calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.messages,
		m.errors,
		m.completionDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wpbot_sessions",
			Help: "Sessions held in memory.",
		}, func() float64 { return float64(sessions.Len()) }),
	)
	return m
}

func (m *metrics) recordMessage(route string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(route).Inc()
}

func (m *metrics) recordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *metrics) observeCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.completionDuration.Observe(d.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
