package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AtomicAttempt(false)
	m.AtomicAttempt(false)
	m.AtomicAttempt(true)
	m.Fallback()
	m.Leg("landed")
	m.MonitorStarted()
	m.MonitorStarted()
	m.MonitorStopped()
	m.Tick(true)
	m.Outcome("triggered", "threshold")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BundleAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BundleAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BundleFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorTickErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorOutcomes.WithLabelValues("triggered", "threshold")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AtomicAttempt(true)
		m.Fallback()
		m.Tick(false)
		m.Mitigation(false)
		m.Request("/healthz", "200")
	})
}
