package verdict

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Decision is the outcome of a two-sample test at a significance level
type Decision string

const (
	DecisionReject Decision = "reject_h0"
	DecisionAccept Decision = "accept_h0"
)

// Reason explains a decision
type Reason string

const (
	ReasonStatisticallySignificant   Reason = "statistically_significant"
	ReasonStatisticallyInsignificant Reason = "statistically_insignificant"
	ReasonInsufficientResolution     Reason = "insufficient_null_resolution"
)

// Verdict is the judgment on "P and Q share a distribution"
type Verdict struct {
	Decision  Decision `json:"decision"`
	Reason    Reason   `json:"reason"`
	Statistic float64  `json:"statistic"`
	PValue    float64  `json:"p_value"`
	Threshold float64  `json:"threshold"`
	Alpha     float64  `json:"alpha"`
}

// Decide rejects when p < alpha. A coarse null marks an insignificant result
// as unresolved rather than insignificant.
func Decide(statistic, pValue, threshold, alpha float64, coarse bool) Verdict {
	v := Verdict{
		Statistic: statistic,
		PValue:    pValue,
		Threshold: threshold,
		Alpha:     alpha,
		Decision:  DecisionAccept,
		Reason:    ReasonStatisticallyInsignificant,
	}
	if pValue < alpha {
		v.Decision = DecisionReject
		v.Reason = ReasonStatisticallySignificant
	} else if coarse {
		v.Reason = ReasonInsufficientResolution
	}
	return v
}

// Rejected reports whether H0 was rejected
func (v Verdict) Rejected() bool {
	return v.Decision == DecisionReject
}

// NullDistributionSummary provides key statistics about the null distribution
type NullDistributionSummary struct {
	Count        int     `json:"count"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Percentile95 float64 `json:"percentile_95"`
	Percentile99 float64 `json:"percentile_99"`
}

// Summarize computes the summary of a null sample sequence
func Summarize(null []float64) (NullDistributionSummary, error) {
	if len(null) == 0 {
		return NullDistributionSummary{}, fmt.Errorf("empty null distribution")
	}
	data := stats.Float64Data(null)
	s := NullDistributionSummary{Count: len(null)}
	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return s, err
	}
	if s.StdDev, err = stats.StandardDeviation(data); err != nil {
		return s, err
	}
	if s.Min, err = stats.Min(data); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return s, err
	}
	if s.Percentile95, err = stats.Percentile(data, 95); err != nil {
		return s, err
	}
	if s.Percentile99, err = stats.Percentile(data, 99); err != nil {
		return s, err
	}
	return s, nil
}
