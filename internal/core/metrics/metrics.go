package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns an explicit registry and the collectors of the core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingestionJobs    *prometheus.CounterVec
	chatTurns        *prometheus.CounterVec
	gatewayAttempts  *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	retrievalLatency prometheus.Histogram
	quotaRejections  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ingestionJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbase",
			Name:      "ingestion_jobs_total",
			Help:      "Finished ingestion jobs by source kind and outcome.",
		}, []string{"kind", "outcome"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbase",
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		gatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbase",
			Name:      "gateway_attempts_total",
			Help:      "Model provider attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatbase",
			Name:      "gateway_call_seconds",
			Help:      "Latency of a gateway invocation including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider"}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatbase",
			Name:      "retrieval_seconds",
			Help:      "Latency of BM25 ranking.",
			Buckets:   prometheus.DefBuckets,
		}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbase",
			Name:      "quota_rejections_total",
			Help:      "Requests refused because a plan limit was reached.",
		}, []string{"resource"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestionJobs, m.chatTurns, m.gatewayAttempts, m.gatewayLatency,
		m.retrievalLatency, m.quotaRejections,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IngestionFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.ingestionJobs.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveGateway(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalLatency.Observe(d.Seconds())
}

func (m *Metrics) QuotaRejected(resource string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(resource).Inc()
}
