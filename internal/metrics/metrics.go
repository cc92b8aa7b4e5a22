// Package metrics exposes the Prometheus registry for relaygate: request
// outcomes, fallback depth, rate-limit blocks, and pool health. Grounded on
// the teacher's internal/metrics/metrics.go (Registry/New/Handler shape,
// kept verbatim); the gauge/counter set itself is this gateway's own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestLatency     *prometheus.HistogramVec
	TokensTotal        *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
	FallbackAttempts   prometheus.Histogram
	ActiveCredentials  prometheus.Gauge
	ModelBlockedTotal  *prometheus.CounterVec
	StoreHealthUp      prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_requests_total",
			Help: "Total requests routed through relaygate",
		}, []string{"class", "model", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaygate_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"class", "model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_tokens_total",
			Help: "Total tokens accounted against credentials",
		}, []string{"model", "direction"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaygate_rate_limited_total",
			Help: "Total requests rejected by the inbound per-IP rate limiter",
		}),
		FallbackAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaygate_fallback_attempts",
			Help:    "Number of router attempts before a request succeeded or exhausted",
			Buckets: prometheus.LinearBuckets(1, 1, 20),
		}),
		ActiveCredentials: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaygate_active_credentials",
			Help: "Number of credentials currently active (not auto-deactivated)",
		}),
		ModelBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_model_blocked_total",
			Help: "Total times a model was blocked request-wide after repeated rate limiting",
		}, []string{"model"}),
		StoreHealthUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaygate_store_up",
			Help: "Whether the backing store answered its last health check (1=up, 0=down)",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.TokensTotal, m.RateLimitedTotal,
		m.FallbackAttempts, m.ActiveCredentials, m.ModelBlockedTotal, m.StoreHealthUp,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
