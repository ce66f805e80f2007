package engine

import (
	"context"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/internal/kernelmgr"
)

// gammaFit holds the Gretton moment fit of m * MMD_b^2 under the null
type gammaFit struct {
	shape, rate float64
	m           float64
}

// SampleNull approximates the null distribution of the statistic. Every
// method returns samples on the statistic's own scale, and a fixed seed on
// fixed data reproduces them exactly.
func (e *Engine) SampleNull(ctx context.Context) ([]float64, error) {
	if e.state < StateStatisticComputed {
		return nil, core.NewStateError("SampleNull requires a computed statistic, state is %s", e.state)
	}
	r, err := e.rng.SeededStream(ctx, "null/"+string(e.cfg.NullMethod), e.cfg.Seed)
	if err != nil {
		return nil, err
	}

	var null []float64
	switch e.cfg.NullMethod {
	case mmd.NullPermutation:
		null, err = e.permutationNull(ctx, r)
	case mmd.NullGaussian:
		null, err = e.gaussianNull(r)
	case mmd.NullGamma:
		null, err = e.gammaNull(ctx, r)
	case mmd.NullSpectrum:
		null, err = e.spectrumNull(ctx, r)
	default:
		err = core.NewConfigurationError("unknown null approximation method %q", e.cfg.NullMethod)
	}
	if err != nil {
		return nil, err
	}

	e.null = null
	e.metrics.NullSamples(string(e.cfg.NullMethod), len(null))
	e.logger.Debug("drew %d null samples (%s), hash %s", len(null), e.cfg.NullMethod, core.HashFloats(null).Short())
	e.transition(StateNullApproximated)
	return e.NullSamples(), nil
}

// permutationNull reruns the statistic pipeline once per null sample with
// every block seen through a random relabelling of its pooled samples. The
// data manager is reset between repetitions.
func (e *Engine) permutationNull(ctx context.Context, r *rand.Rand) ([]float64, error) {
	est, err := e.statisticEstimator()
	if err != nil {
		return nil, err
	}
	l, err := e.newLane(true, est.Compute)
	if err != nil {
		return nil, err
	}
	defer l.cm.Done()

	if err := e.data.Start(ctx); err != nil {
		return nil, err
	}
	defer e.data.End()

	null := make([]float64, e.cfg.NumNullSamples)
	for i := range null {
		if i > 0 {
			if err := e.data.Reset(ctx); err != nil {
				return nil, err
			}
		}
		var acc running
		err := e.runPass(ctx, "null", []int{0}, []*lane{l}, r, func(_ int, res laneResults) {
			for _, v := range res[0][0] {
				acc.add(v)
			}
		})
		if err != nil {
			return nil, err
		}
		null[i] = acc.mean
	}
	return null, nil
}

// gaussianSigma is the standard deviation of the aggregated statistic
func (e *Engine) gaussianSigma() (float64, error) {
	if !e.hasVariance {
		return 0, core.NewStateError("no variance estimate; compute the statistic with the gaussian null")
	}
	sigma := math.Sqrt(e.blockVariance / float64(e.numBlocks))
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return 0, core.NewConfigurationError("degenerate null variance %v", e.blockVariance)
	}
	return sigma, nil
}

func (e *Engine) gaussianNull(r *rand.Rand) ([]float64, error) {
	sigma, err := e.gaussianSigma()
	if err != nil {
		return nil, err
	}
	null := make([]float64, e.cfg.NumNullSamples)
	for i := range null {
		null[i] = sigma * r.NormFloat64()
	}
	return null, nil
}

// withFullKernel precomputes the kernel over all samples (full-data mode
// only) and hands the [x | y] matrix to fn inside the precompute scope.
func (e *Engine) withFullKernel(ctx context.Context, method string, fn func(k *mat.Dense, nx, ny int) error) error {
	if !e.data.FullData() {
		return core.NewConfigurationError("%s null needs the full data in a single block; unset the blocksize", method)
	}
	if err := e.data.Start(ctx); err != nil {
		return err
	}
	defer e.data.End()

	next, err := e.data.Next(ctx)
	if err != nil {
		return err
	}
	if next.NumBlocks() != 1 {
		return core.NewStateError("%s null expected one block, got %d", method, next.NumBlocks())
	}
	block := next.Blocks[0]
	merged, err := block.Merged()
	if err != nil {
		return err
	}

	live, err := e.kernels.LiveKernelAt(0)
	if err != nil {
		return err
	}
	if err := live.Init(merged, merged); err != nil {
		return err
	}
	defer live.Cleanup()
	if err := e.kernels.PrecomputeKernelAt(0); err != nil {
		return err
	}
	defer e.kernels.RestoreKernelAt(0)

	active, err := e.kernels.KernelAt(0)
	if err != nil {
		return err
	}
	km, err := active.(*kernelmgr.Precomputed).Matrix()
	if err != nil {
		return err
	}
	return fn(km, block.Nx(), block.Ny())
}

// fitGamma matches the null mean and variance of m * MMD_b^2 (Gretton et al.)
// to a gamma distribution. It needs the biased statistic and n_x == n_y.
func (e *Engine) fitGamma(ctx context.Context) (gammaFit, error) {
	if e.cfg.Statistic != mmd.StatisticBiasedFull {
		return gammaFit{}, core.NewConfigurationError("gamma null needs the %s statistic, got %s",
			mmd.StatisticBiasedFull, e.cfg.Statistic)
	}
	var fit gammaFit
	err := e.withFullKernel(ctx, "gamma", func(k *mat.Dense, nx, ny int) error {
		if nx != ny {
			return core.NewConfigurationError("gamma null needs equal sample sizes, got %d and %d", nx, ny)
		}
		if nx < 2 {
			return core.NewArithmeticDomainError("gamma", nx, ny)
		}
		m := nx
		var diag, sumSq float64
		for i := 0; i < m; i++ {
			diag += k.At(i, i) + k.At(m+i, m+i) - 2*k.At(i, m+i)
			for j := 0; j < m; j++ {
				if i == j {
					continue
				}
				h := k.At(i, j) + k.At(m+i, m+j) - k.At(i, m+j) - k.At(j, m+i)
				sumSq += h * h
			}
		}
		fm := float64(m)
		mean := diag / fm / fm
		variance := 2 / fm / (fm - 1) / fm / (fm - 1) * sumSq
		if !(mean > 0) || !(variance > 0) {
			return core.NewArithmeticDomainError("gamma", nx, ny)
		}
		scale := variance * fm / mean
		fit = gammaFit{shape: mean * mean / variance, rate: 1 / scale, m: fm}
		return nil
	})
	return fit, err
}

func (e *Engine) gammaNull(ctx context.Context, r *rand.Rand) ([]float64, error) {
	fit, err := e.fitGamma(ctx)
	if err != nil {
		return nil, err
	}
	e.gamma = fit
	dist := distuv.Gamma{Alpha: fit.shape, Beta: fit.rate}
	// inverse-cdf draws keep the samples on the engine's seeded stream
	null := make([]float64, e.cfg.NumNullSamples)
	for i := range null {
		null[i] = dist.Quantile(r.Float64()) / fit.m
	}
	return null, nil
}

// spectrumEigenvalues returns the largest eigenvalues of the centered kernel
// matrix, in descending order, clipped at zero.
func (e *Engine) spectrumEigenvalues(ctx context.Context) ([]float64, int, int, error) {
	var (
		eig    []float64
		nx, ny int
	)
	err := e.withFullKernel(ctx, "spectrum", func(k *mat.Dense, bx, by int) error {
		nx, ny = bx, by
		n := bx + by
		rowMean := make([]float64, n)
		var grand float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				rowMean[i] += k.At(i, j)
			}
			grand += rowMean[i]
			rowMean[i] /= float64(n)
		}
		grand /= float64(n * n)

		centered := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				centered.SetSym(i, j, k.At(i, j)-rowMean[i]-rowMean[j]+grand)
			}
		}
		var es mat.EigenSym
		if ok := es.Factorize(centered, false); !ok {
			return core.NewArithmeticDomainError("spectrum", bx, by)
		}
		eig = es.Values(nil)
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	slices.Reverse(eig)
	count := e.cfg.NumEigenvalues
	if count <= 0 || count > len(eig)-1 {
		count = len(eig) - 1
	}
	eig = eig[:count]
	for i, v := range eig {
		eig[i] = max(v, 0)
	}
	return eig, nx, ny, nil
}

// spectrumNull draws sum_j lambda_j/N * (z_j^2 - c) with c = 1 for unbiased
// statistics, then rescales from n_x*n_y/N * MMD^2 to MMD^2.
func (e *Engine) spectrumNull(ctx context.Context, r *rand.Rand) ([]float64, error) {
	eig, nx, ny, err := e.spectrumEigenvalues(ctx)
	if err != nil {
		return nil, err
	}
	n := float64(nx + ny)
	scale := float64(nx) * float64(ny) / n
	shift := 0.0
	if e.cfg.Statistic != mmd.StatisticBiasedFull {
		shift = 1
	}

	null := make([]float64, e.cfg.NumNullSamples)
	for i := range null {
		var s float64
		for _, lambda := range eig {
			z := r.NormFloat64()
			s += lambda / n * (z*z - shift)
		}
		null[i] = s / scale
	}
	return null, nil
}
