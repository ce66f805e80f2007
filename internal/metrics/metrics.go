// Package metrics exposes Prometheus collectors for burst processing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mmd"

// Metrics groups the collectors of one registry. A nil *Metrics records nothing.
type Metrics struct {
	BurstsTotal      *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	ComputeDuration  *prometheus.HistogramVec
	NullSamplesTotal *prometheus.CounterVec
	TestsTotal       *prometheus.CounterVec
}

// New registers the collectors on reg; pass prometheus.NewRegistry() in tests
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BurstsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_total",
			Help:      "Bursts processed, by stage and outcome",
		}, []string{"stage", "outcome"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Estimator job executions, by backend and outcome",
		}, []string{"backend", "outcome"}),
		ComputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_duration_seconds",
			Help:      "Duration of one Compute call",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend"}),
		NullSamplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "null_samples_total",
			Help:      "Null samples drawn, by approximation method",
		}, []string{"method"}),
		TestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Completed two-sample tests, by decision",
		}, []string{"decision"}),
	}
}

// Burst counts a burst; outcome is "ok" or "skipped"
func (m *Metrics) Burst(stage, outcome string) {
	if m == nil {
		return
	}
	m.BurstsTotal.WithLabelValues(stage, outcome).Inc()
}

// Compute records one Compute call and its job executions
func (m *Metrics) Compute(backend string, jobs int, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.JobsTotal.WithLabelValues(backend, outcome).Add(float64(jobs))
	m.ComputeDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// NullSamples counts drawn null samples
func (m *Metrics) NullSamples(method string, n int) {
	if m == nil {
		return
	}
	m.NullSamplesTotal.WithLabelValues(method).Add(float64(n))
}

// Decision counts a finished test
func (m *Metrics) Decision(rejected bool) {
	if m == nil {
		return
	}
	label := "accept"
	if rejected {
		label = "reject"
	}
	m.TestsTotal.WithLabelValues(label).Inc()
}
