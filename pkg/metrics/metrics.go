// Package metrics exposes per-capability latency and outcome observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink accepts invocation observations. The dispatcher records one
// observation per terminal request state.
type Sink interface {
	ObserveInvocation(capabilityKey, outcome string, latency time.Duration)
	ObserveReplay(capabilityKey string)
}

// PrometheusSink implements Sink on a dedicated registry.
type PrometheusSink struct {
	registry *prometheus.Registry
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	replays  *prometheus.CounterVec
}

// NewPrometheusSink creates the sink and registers its collectors.
func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "capway",
		Name:      "invocation_latency_seconds",
		Help:      "Wall-clock latency of worker invocations per capability.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability"})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capway",
		Name:      "invocations_total",
		Help:      "Invocation outcomes per capability.",
	}, []string{"capability", "outcome"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capway",
		Name:      "idempotent_replays_total",
		Help:      "Requests served from the idempotency cache, so retry storms are distinguishable from genuine load.",
	}, []string{"capability"})

	registry.MustRegister(latency, outcomes, replays)

	return &PrometheusSink{
		registry: registry,
		latency:  latency,
		outcomes: outcomes,
		replays:  replays,
	}
}

// ObserveInvocation records one completed invocation.
func (s *PrometheusSink) ObserveInvocation(capabilityKey, outcome string, latency time.Duration) {
	s.latency.WithLabelValues(capabilityKey).Observe(latency.Seconds())
	s.outcomes.WithLabelValues(capabilityKey, outcome).Inc()
}

// ObserveReplay records one idempotent replay.
func (s *PrometheusSink) ObserveReplay(capabilityKey string) {
	s.replays.WithLabelValues(capabilityKey).Inc()
}

// Handler serves the metrics endpoint for this sink's registry.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// NopSink discards observations, for tests.
type NopSink struct{}

func (NopSink) ObserveInvocation(capabilityKey, outcome string, latency time.Duration) {}
func (NopSink) ObserveReplay(capabilityKey string)                                    {}
