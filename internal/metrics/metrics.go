// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of the bundle executor, the monitors and the
// mitigation trigger. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BundleAttempts   *prometheus.CounterVec
	BundleFallbacks  prometheus.Counter
	BundleLegs       *prometheus.CounterVec
	BundleLatency    *prometheus.HistogramVec
	MonitorsActive   prometheus.Gauge
	MonitorTicks     prometheus.Counter
	MonitorTickErrs  prometheus.Counter
	MonitorOutcomes  *prometheus.CounterVec
	TradesClassified *prometheus.CounterVec
	Mitigations      *prometheus.CounterVec
	APIRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BundleAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "bundle",
			Name:      "atomic_attempts_total",
			Help:      "Atomic bundle submission attempts by result",
		}, []string{"result"}),
		BundleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "bundle",
			Name:      "sequential_fallbacks_total",
			Help:      "Submissions that fell back to per-transaction sends",
		}),
		BundleLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "bundle",
			Name:      "legs_total",
			Help:      "Per-transaction outcomes of sequential submissions",
		}, []string{"outcome"}),
		BundleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "launchguard",
			Subsystem: "bundle",
			Name:      "submit_duration_seconds",
			Help:      "End-to-end duration of one Submit call",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		MonitorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "launchguard",
			Subsystem: "sniper",
			Name:      "monitors_active",
			Help:      "Monitors currently polling",
		}),
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "sniper",
			Name:      "ticks_total",
			Help:      "Poll ticks executed",
		}),
		MonitorTickErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "sniper",
			Name:      "tick_errors_total",
			Help:      "Poll ticks abandoned on an upstream error",
		}),
		MonitorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "sniper",
			Name:      "outcomes_total",
			Help:      "Terminal monitor transitions by status and reason",
		}, []string{"status", "reason"}),
		TradesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "sniper",
			Name:      "trades_total",
			Help:      "Classified trades by direction",
		}, []string{"direction"}),
		Mitigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "mitigation",
			Name:      "sells_total",
			Help:      "Mitigation sells by result",
		}, []string{"result"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchguard",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.BundleAttempts, m.BundleFallbacks, m.BundleLegs, m.BundleLatency,
		m.MonitorsActive, m.MonitorTicks, m.MonitorTickErrs, m.MonitorOutcomes, m.TradesClassified,
		m.Mitigations, m.APIRequests,
	)
	return m
}

func (m *Metrics) AtomicAttempt(ok bool) {
	if m == nil {
		return
	}
	m.BundleAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.BundleFallbacks.Inc()
}

func (m *Metrics) Leg(outcome string) {
	if m == nil {
		return
	}
	m.BundleLegs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubmitDuration(method string, seconds float64) {
	if m == nil {
		return
	}
	m.BundleLatency.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) MonitorStarted() {
	if m == nil {
		return
	}
	m.MonitorsActive.Inc()
}

func (m *Metrics) MonitorStopped() {
	if m == nil {
		return
	}
	m.MonitorsActive.Dec()
}

func (m *Metrics) Tick(failed bool) {
	if m == nil {
		return
	}
	m.MonitorTicks.Inc()
	if failed {
		m.MonitorTickErrs.Inc()
	}
}

func (m *Metrics) Outcome(status, reason string) {
	if m == nil {
		return
	}
	m.MonitorOutcomes.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) Trade(direction string) {
	if m == nil {
		return
	}
	m.TradesClassified.WithLabelValues(direction).Inc()
}

func (m *Metrics) Mitigation(ok bool) {
	if m == nil {
		return
	}
	m.Mitigations.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Request(route, code string) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(route, code).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
