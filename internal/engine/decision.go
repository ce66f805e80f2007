package engine

import (
	"context"
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/domain/run"
	"gommd/domain/verdict"
)

// Result is the outcome of PerformTest
type Result struct {
	RunID         core.RunID
	Verdict       verdict.Verdict
	NullSamples   []float64
	Summary       verdict.NullDistributionSummary
	Manifest      *run.Manifest
	SkippedBursts int
	TotalBursts   int
	// Warnings holds non-fatal conditions such as *core.PrecisionWarning
	Warnings []error
}

func (e *Engine) analytic() bool {
	return e.cfg.NullMethod == mmd.NullGaussian || e.cfg.NullMethod == mmd.NullGamma
}

func (e *Engine) resolution(level float64) error {
	if e.analytic() {
		return nil
	}
	n := len(e.null)
	if res := 1 / float64(n); res > level {
		return &core.PrecisionWarning{NumNullSamples: n, Resolution: res, Requested: level}
	}
	return nil
}

// ComputePValue returns the probability under the null of a value at least as
// large as statistic. For sampled nulls it is the fraction of null samples
// >= statistic; a *core.PrecisionWarning accompanies a valid p-value when the
// null sample count cannot resolve the configured alpha.
func (e *Engine) ComputePValue(statistic float64) (float64, error) {
	if e.state < StateNullApproximated {
		return 0, core.NewStateError("ComputePValue requires a null approximation, state is %s", e.state)
	}

	var p float64
	switch e.cfg.NullMethod {
	case mmd.NullGaussian:
		sigma, err := e.gaussianSigma()
		if err != nil {
			return 0, err
		}
		p = distuv.Normal{Mu: 0, Sigma: sigma}.Survival(statistic)
	case mmd.NullGamma:
		p = distuv.Gamma{Alpha: e.gamma.shape, Beta: e.gamma.rate}.Survival(statistic * e.gamma.m)
	default:
		count := 0
		for _, v := range e.null {
			if v >= statistic {
				count++
			}
		}
		p = float64(count) / float64(len(e.null))
	}
	p = math.Min(1, math.Max(0, p))
	e.transition(StateDecided)
	return p, e.resolution(e.cfg.Alpha)
}

// ComputeThreshold returns the critical value at level alpha: the (1-alpha)
// quantile of the null.
func (e *Engine) ComputeThreshold(alpha float64) (float64, error) {
	if e.state < StateNullApproximated {
		return 0, core.NewStateError("ComputeThreshold requires a null approximation, state is %s", e.state)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, core.NewConfigurationError("alpha must be in (0, 1), got %v", alpha)
	}

	switch e.cfg.NullMethod {
	case mmd.NullGaussian:
		sigma, err := e.gaussianSigma()
		if err != nil {
			return 0, err
		}
		return distuv.Normal{Mu: 0, Sigma: sigma}.Quantile(1 - alpha), nil
	case mmd.NullGamma:
		q := distuv.Gamma{Alpha: e.gamma.shape, Beta: e.gamma.rate}.Quantile(1 - alpha)
		return q / e.gamma.m, nil
	}

	sorted := slices.Clone(e.null)
	slices.Sort(sorted)
	idx := min(int(math.Floor(float64(len(sorted))*(1-alpha))), len(sorted)-1)
	return sorted[idx], e.resolution(alpha)
}

// PerformTest runs the whole chain and rejects H0 when p < alpha
func (e *Engine) PerformTest(ctx context.Context, alpha float64) (*Result, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, core.NewConfigurationError("alpha must be in (0, 1), got %v", alpha)
	}
	e.cfg.Alpha = alpha

	statistic, err := e.ComputeStatistic(ctx)
	if err != nil {
		return nil, err
	}
	null, err := e.SampleNull(ctx)
	if err != nil {
		return nil, err
	}

	var warnings []error
	keep := func(err error) error {
		if err == nil {
			return nil
		}
		var pw *core.PrecisionWarning
		if errors.As(err, &pw) {
			warnings = append(warnings, err)
			return nil
		}
		return err
	}

	p, err := e.ComputePValue(statistic)
	if err := keep(err); err != nil {
		return nil, err
	}
	threshold, err := e.ComputeThreshold(alpha)
	if err := keep(err); err != nil {
		return nil, err
	}

	summary, err := verdict.Summarize(null)
	if err != nil {
		return nil, err
	}
	v := verdict.Decide(statistic, p, threshold, alpha, len(warnings) > 0)
	e.metrics.Decision(v.Rejected())
	e.logger.Info("statistic %.6g, p-value %.4g, threshold %.6g: %s", statistic, p, threshold, v.Decision)

	return &Result{
		RunID:         e.runID,
		Verdict:       v,
		NullSamples:   null,
		Summary:       summary,
		Manifest:      run.NewManifest(e.runID, e.fingerprint(), null),
		SkippedBursts: e.skipped,
		TotalBursts:   e.bursts,
		Warnings:      warnings,
	}, nil
}

func (e *Engine) fingerprint() run.RunFingerprint {
	names := make([]string, e.kernels.NumKernels())
	for i := range names {
		if k, err := e.kernels.LiveKernelAt(i); err == nil {
			names[i] = k.Name()
		}
	}
	return run.NewRunFingerprint(string(e.cfg.Statistic), string(e.cfg.NullMethod), names,
		e.data.Blocksize(), e.data.NumBlocksPerBurst(), e.cfg.NumNullSamples, e.cfg.Seed)
}

// Record converts the result into its persisted form
func (r *Result) Record() *run.Record {
	return &run.Record{
		Manifest:      *r.Manifest,
		Verdict:       r.Verdict,
		NullSummary:   r.Summary,
		SkippedBursts: r.SkippedBursts,
		TotalBursts:   r.TotalBursts,
	}
}
