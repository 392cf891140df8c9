// Package metrics exports Anchor counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anchor"

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns          *prometheus.CounterVec
	parseFallbacks prometheus.Counter
	storeErrors    *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	llmLatency     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by resolved message type.",
		}, []string{"message_type"}),
		parseFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_fallbacks_total",
			Help:      "Model replies that could not be parsed.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Context store failures by operation.",
		}, []string{"op"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Scheduled prompt deliveries by result.",
		}, []string{"result"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Language model call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	m.registry.MustRegister(m.turns, m.parseFallbacks, m.storeErrors, m.deliveries, m.llmLatency)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(messageType string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(messageType).Inc()
}

func (m *Metrics) ParseFallback() {
	if m == nil {
		return
	}
	m.parseFallbacks.Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// Delivery records a scheduled send outcome: sent, failed, or skipped.
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) LLMLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(d.Seconds())
}
