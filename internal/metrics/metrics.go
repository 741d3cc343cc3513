// Package metrics exposes orchestrator counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"testfleet/internal/model"
)

// Activation outcomes.
const (
	ActivationStarted = "started"
	ActivationFailed  = "failed"
	ActivationSkipped = "skipped"
)

// Metrics holds the orchestrator collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	activations        *prometheus.CounterVec
	completions        *prometheus.CounterVec
	keepAliveFailures  prometheus.Counter
	escalations        prometheus.Counter
	activeTests        prometheus.Gauge
	activeEnvironments prometheus.Gauge
	cycleTicks         *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testfleet_activations_total",
			Help: "Test activation attempts by outcome",
		},
		[]string{"outcome"},
	)
	m.completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testfleet_test_completions_total",
			Help: "Completed tests by result",
		},
		[]string{"result"},
	)
	m.keepAliveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testfleet_keepalive_failures_total",
		Help: "Failed keep-alive polls of active environments",
	})
	m.escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testfleet_environment_escalations_total",
		Help: "Environments declared lost after repeated keep-alive failures",
	})
	m.activeTests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testfleet_active_tests",
		Help: "Tests currently executing",
	})
	m.activeEnvironments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testfleet_active_environments",
		Help: "Environments currently bound to a test",
	})
	m.cycleTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testfleet_cycle_ticks_total",
			Help: "Supervisory cycle ticks by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.activations,
		m.completions,
		m.keepAliveFailures,
		m.escalations,
		m.activeTests,
		m.activeEnvironments,
		m.cycleTicks,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Activation counts one activation attempt.
func (m *Metrics) Activation(outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome).Inc()
}

// Completion counts one completed test.
func (m *Metrics) Completion(result model.TestResult) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(string(result)).Inc()
}

// KeepAliveFailure counts one failed poll.
func (m *Metrics) KeepAliveFailure() {
	if m == nil {
		return
	}
	m.keepAliveFailures.Inc()
}

// Escalation counts one lost environment.
func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// Active sets the current number of tests and environments.
func (m *Metrics) Active(tests, environments int) {
	if m == nil {
		return
	}
	m.activeTests.Set(float64(tests))
	m.activeEnvironments.Set(float64(environments))
}

// Tick counts one cycle tick; outcome is "run" or "skipped".
func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.cycleTicks.WithLabelValues(outcome).Inc()
}
