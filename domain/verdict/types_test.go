package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		p      float64
		coarse bool
		want   Decision
		reason Reason
	}{
		{"significant", 0.01, false, DecisionReject, ReasonStatisticallySignificant},
		{"insignificant", 0.4, false, DecisionAccept, ReasonStatisticallyInsignificant},
		{"at alpha", 0.05, false, DecisionAccept, ReasonStatisticallyInsignificant},
		{"coarse null", 0.3, true, DecisionAccept, ReasonInsufficientResolution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decide(0.1, tt.p, 0.2, 0.05, tt.coarse)
			assert.Equal(t, tt.want, v.Decision)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.want == DecisionReject, v.Rejected())
		})
	}
}

func TestSummarize(t *testing.T) {
	null := make([]float64, 100)
	for i := range null {
		null[i] = float64(i + 1)
	}
	s, err := Summarize(null)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Count)
	assert.InDelta(t, 50.5, s.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Greater(t, s.StdDev, 28.0)
	assert.True(t, s.Percentile95 >= 94 && s.Percentile95 <= 96, "p95 = %v", s.Percentile95)
	assert.LessOrEqual(t, s.Percentile95, s.Percentile99)

	_, err = Summarize(nil)
	assert.Error(t, err)
}
