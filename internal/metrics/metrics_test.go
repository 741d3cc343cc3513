package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Activation(ActivationStarted)
	m.Activation(ActivationStarted)
	m.Activation(ActivationFailed)
	m.Completion(model.ResultFailed)
	m.KeepAliveFailure()
	m.Escalation()
	m.Active(2, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.activations.WithLabelValues(ActivationStarted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeEnvironments))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Tick("run")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `testfleet_cycle_ticks_total{outcome="run"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Activation(ActivationSkipped)
		m.Completion(model.ResultPassed)
		m.KeepAliveFailure()
		m.Escalation()
		m.Active(1, 1)
		m.Tick("skipped")
	})
}
