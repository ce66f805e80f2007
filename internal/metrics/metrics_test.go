package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Burst("statistic", "ok")
	m.Burst("statistic", "ok")
	m.Burst("statistic", "skipped")
	m.Compute("cpu", 3, false, 2*time.Millisecond)
	m.Compute("gpu", 2, true, time.Millisecond)
	m.NullSamples("permutation", 250)
	m.Decision(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BurstsTotal.WithLabelValues("statistic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BurstsTotal.WithLabelValues("statistic", "skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("cpu", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("gpu", "error")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.NullSamplesTotal.WithLabelValues("permutation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TestsTotal.WithLabelValues("reject")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ComputeDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Burst("null", "ok")
		m.Compute("cpu", 1, false, time.Second)
		m.NullSamples("gamma", 10)
		m.Decision(false)
	})
}
