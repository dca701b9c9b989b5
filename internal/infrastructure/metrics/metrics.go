// Package metrics exports the gateway's Prometheus collectors. The teacher
// hand-rolled a text encoder (internal/infrastructure/monitoring/prometheus.go)
// specifically to avoid a third-party dependency; since the rest of this
// module already pulls in github.com/prometheus/client_golang as a real
// dependency, this package uses its CounterVec/HistogramVec/GaugeVec types
// directly instead of reproducing that hand-rolled encoder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the gateway exports, labeled by backend
// and model where that dimension is meaningful.
type Registry struct {
	prom *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DispatchAttempts  *prometheus.CounterVec
	CredentialHealthy *prometheus.GaugeVec
	LoopTrips         *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
}

// NewRegistry builds and registers every collector against its own
// prometheus.Registry, so tests can construct independent registries
// without colliding with prometheus.DefaultRegisterer.
func NewRegistry() *Registry {
	reg := &Registry{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "requests_total",
			Help:      "Total chat completion requests handled, labeled by dialect and outcome.",
		}, []string{"dialect", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration in seconds, labeled by dialect.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dialect"}),

		DispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "dispatch_attempts_total",
			Help:      "Dispatcher attempts, labeled by backend and outcome (success, failed, skipped).",
		}, []string{"backend", "outcome"}),

		CredentialHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmgateway",
			Name:      "credential_healthy",
			Help:      "1 if the credential's circuit breaker currently allows traffic, else 0.",
		}, []string{"backend", "key_name"}),

		LoopTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "loop_detector_trips_total",
			Help:      "Times a loop detector terminated a response, labeled by detector kind.",
		}, []string{"kind"}),

		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "rate_limited_total",
			Help:      "Attempts skipped because their (backend, key) scope was rate limited.",
		}, []string{"backend"}),
	}

	reg.prom = prometheus.NewRegistry()
	reg.prom.MustRegister(
		reg.RequestsTotal, reg.RequestDuration, reg.DispatchAttempts,
		reg.CredentialHealthy, reg.LoopTrips, reg.RateLimited,
	)
	return reg
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
