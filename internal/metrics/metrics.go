/*
PURPOSE:
  Prometheus collectors for job scheduling and the relay endpoint.

REQUIREMENTS:
  Implementation-discovered:
  - Operators want to see how many upstream streams are open at once and how
    jobs end per provider.
  - A nil *Collector must be usable so metrics stay optional everywhere.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/relay, internal/cli
  - Dependencies: github.com/prometheus/client_golang

ERROR HANDLING:
  - Registration conflicts panic via MustRegister; use a fresh registry in tests.

IMPLEMENTATION RULES:
  - Every method is nil-safe.

USAGE:
  reg := prometheus.NewRegistry()
  m := metrics.New(reg)
  http.Handle("/metrics", m.Handler())

SELF-HEALING INSTRUCTIONS:
  - If a series is missing, check the label values passed by the caller.

RELATED FILES:
  - internal/engine/scheduler.go
  - internal/relay/server.go

MAINTENANCE:
  - Keep label cardinality bounded: provider and status only.
*/

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daryltucker/mimic-runner/internal/model"
)

const namespace = "mimic_runner"

// Collector groups the application's metrics.
type Collector struct {
	inFlight     prometheus.Gauge
	jobsFinished *prometheus.CounterVec
	chunks       *prometheus.CounterVec
	relayReqs    *prometheus.CounterVec
	gatherer     prometheus.Gatherer
}

// New creates a Collector and registers it with reg. A nil reg uses a
// private registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently streaming from a provider.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"provider", "status"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Content deltas received from providers.",
		}, []string{"provider"}),
		relayReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relay requests by provider and response code.",
		}, []string{"provider", "code"}),
		gatherer: reg,
	}
	reg.MustRegister(c.inFlight, c.jobsFinished, c.chunks, c.relayReqs)
	return c
}

// JobStarted marks one more open upstream stream.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// JobFinished releases an in-flight job and counts its outcome.
func (c *Collector) JobFinished(p model.ProviderName, s model.Status) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.jobsFinished.WithLabelValues(string(p), string(s)).Inc()
}

// JobSkipped counts a terminal job that never held a slot.
func (c *Collector) JobSkipped(p model.ProviderName, s model.Status) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(string(p), string(s)).Inc()
}

// Chunk counts one content delta.
func (c *Collector) Chunk(p model.ProviderName) {
	if c == nil {
		return
	}
	c.chunks.WithLabelValues(string(p)).Inc()
}

// RelayRequest counts one relay response.
func (c *Collector) RelayRequest(provider string, code int) {
	if c == nil {
		return
	}
	c.relayReqs.WithLabelValues(provider, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
