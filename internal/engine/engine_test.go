package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/domain/samples"
	"gommd/internal"
	"gommd/internal/computation"
	"gommd/internal/estimator"
	"gommd/internal/fetcher"
	"gommd/internal/kernelmgr"
	"gommd/internal/testkit"
	"gommd/ports"
)

type setup struct {
	cfg       Config
	p, q      *samples.Dense
	blocksize int
	perBurst  int
	kernels   []ports.Kernel
}

func build(t *testing.T, s setup) *Engine {
	t.Helper()
	nop := internal.NewNopLogger()
	data := fetcher.NewDataManager(fetcher.NewMemory(s.p, nop), fetcher.NewMemory(s.q, nop), nop)
	if s.blocksize > 0 {
		require.NoError(t, data.SetBlocksize(s.blocksize))
	}
	if s.perBurst > 0 {
		require.NoError(t, data.SetNumBlocksPerBurst(s.perBurst))
	}
	if len(s.kernels) == 0 {
		s.kernels = []ports.Kernel{testkit.NewGaussianKernel(2)}
	}
	e, err := New(s.cfg, data, kernelmgr.New(nop, s.kernels...), testkit.NewTestKit().RNGAdapter(), WithLogger(nop))
	require.NoError(t, err)
	return e
}

func config(null mmd.NullMethod, numNull int, seed int64) Config {
	cfg := DefaultConfig()
	cfg.NullMethod = null
	cfg.NumNullSamples = numNull
	cfg.Seed = seed
	return cfg
}

func TestEngine_StateMachine(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(1, 20, 20, 2, 0)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 20, 1), p: p, q: q})
	assert.Equal(t, StateConfigured, e.State())

	_, err := e.SampleNull(ctx)
	assert.True(t, core.IsStateError(err), "SampleNull before statistic: %v", err)
	_, err = e.ComputePValue(0)
	assert.True(t, core.IsStateError(err))
	_, err = e.ComputeThreshold(0.05)
	assert.True(t, core.IsStateError(err))

	stat, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStatisticComputed, e.State())

	_, err = e.ComputePValue(stat)
	assert.True(t, core.IsStateError(err))

	_, err = e.SampleNull(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNullApproximated, e.State())

	p1, err := e.ComputePValue(stat)
	assert.True(t, err == nil || core.IsPrecisionWarning(err))
	assert.GreaterOrEqual(t, p1, 0.0)
	assert.LessOrEqual(t, p1, 1.0)
	assert.Equal(t, StateDecided, e.State())

	// recomputing restarts the chain
	_, err = e.ComputeStatistic(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStatisticComputed, e.State())
	assert.Empty(t, e.NullSamples())
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	nop := internal.NewNopLogger()
	p, q := testkit.SamplePair(1, 10, 10, 1, 0)
	rng := testkit.NewTestKit().RNGAdapter()

	data := fetcher.NewDataManager(fetcher.NewMemory(p, nop), fetcher.NewMemory(q, nop), nop)
	e, err := New(DefaultConfig(), data, kernelmgr.New(nop), rng)
	require.NoError(t, err)
	_, err = e.ComputeStatistic(ctx)
	assert.ErrorIs(t, err, core.ErrKernelNotSet)
	assert.True(t, core.IsConfigurationError(err))

	empty := fetcher.NewDataManager(fetcher.NewMemory(samples.NewDense(0, 1, nil), nop), fetcher.NewMemory(q, nop), nop)
	e, err = New(DefaultConfig(), empty, kernelmgr.New(nop, testkit.NewLinearKernel()), rng)
	require.NoError(t, err)
	_, err = e.ComputeStatistic(ctx)
	assert.ErrorIs(t, err, core.ErrSamplesNotSet)

	for _, missing := range []*fetcher.DataManager{
		fetcher.NewDataManager(nil, fetcher.NewMemory(q, nop), nop),
		fetcher.NewDataManager(fetcher.NewMemory(p, nop), nil, nop),
	} {
		e, err = New(DefaultConfig(), missing, kernelmgr.New(nop, testkit.NewLinearKernel()), rng)
		require.NoError(t, err)
		_, err = e.ComputeStatistic(ctx)
		assert.ErrorIs(t, err, core.ErrSamplesNotSet)
		assert.True(t, core.IsConfigurationError(err))
		assert.Equal(t, StateConfigured, e.State())
	}

	bad := DefaultConfig()
	bad.NumNullSamples = 0
	_, err = New(bad, data, kernelmgr.New(nop), rng)
	assert.True(t, core.IsConfigurationError(err))

	bad = DefaultConfig()
	bad.NullMethod = "bootstrap"
	_, err = New(bad, data, kernelmgr.New(nop), rng)
	assert.True(t, core.IsConfigurationError(err))

	_, err = New(DefaultConfig(), data, kernelmgr.New(nop), nil)
	assert.True(t, core.IsConfigurationError(err))
}

func TestEngine_StatisticMatchesEstimatorOnFullData(t *testing.T) {
	p, q := testkit.SamplePair(3, 15, 12, 2, 0.5)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 10, 0), p: p, q: q})

	stat, err := e.ComputeStatistic(context.Background())
	require.NoError(t, err)

	merged, err := samples.Merge(p, q)
	require.NoError(t, err)
	k := testkit.NewGaussianKernel(2)
	require.NoError(t, k.Init(merged, merged))
	km, err := k.Matrix()
	require.NoError(t, err)
	est, err := estimator.NewUnbiasedFull(15, 12)
	require.NoError(t, err)
	want, err := est.Compute(km)
	require.NoError(t, err)

	assert.InDelta(t, want, stat, 1e-12)
	assert.Equal(t, 1, e.NumBlocks())
}

func TestEngine_BlockwiseIsMeanOfBlocks(t *testing.T) {
	p, q := testkit.SamplePair(4, 24, 24, 1, 0)
	cfg := config(mmd.NullPermutation, 10, 0)
	cfg.Statistic = mmd.StatisticBiasedFull
	e := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 16, perBurst: 2})

	stat, err := e.ComputeStatistic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, e.NumBlocks())

	est, err := estimator.NewBiasedFull(8, 8)
	require.NoError(t, err)
	var sum float64
	for b := 0; b < 3; b++ {
		merged, err := samples.Merge(p.Slice(8*b, 8*b+8), q.Slice(8*b, 8*b+8))
		require.NoError(t, err)
		k := testkit.NewGaussianKernel(2)
		require.NoError(t, k.Init(merged, merged))
		km, err := k.Matrix()
		require.NoError(t, err)
		v, err := est.Compute(km)
		require.NoError(t, err)
		sum += v
	}
	assert.InDelta(t, sum/3, stat, 1e-12)
}

func TestEngine_ReproducibleWithSeed(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(5, 30, 30, 2, 0)

	run := func(seed int64, backend mmd.Backend) core.Hash {
		cfg := config(mmd.NullPermutation, 30, seed)
		cfg.Backend = backend
		cfg.NumWorkers = 4
		e := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 20, perBurst: 2})
		_, err := e.ComputeStatistic(ctx)
		require.NoError(t, err)
		null, err := e.SampleNull(ctx)
		require.NoError(t, err)
		return core.HashFloats(null)
	}

	first := run(42, mmd.BackendCPU)
	assert.Equal(t, first, run(42, mmd.BackendCPU))
	assert.Equal(t, first, run(42, mmd.BackendGPU), "backends must agree bit for bit")
	assert.NotEqual(t, first, run(43, mmd.BackendCPU))
}

func TestEngine_PermutationCalibration(t *testing.T) {
	if testing.Short() {
		t.Skip("calibration runs many tests")
	}
	ctx := context.Background()
	const runs = 60
	var below05, sum float64
	for seed := int64(0); seed < runs; seed++ {
		p, q := testkit.SamplePair(1000+seed, 16, 16, 1, 0)
		e := build(t, setup{cfg: config(mmd.NullPermutation, 50, seed), p: p, q: q})
		res, err := e.PerformTest(ctx, 0.05)
		require.NoError(t, err)
		sum += res.Verdict.PValue
		if res.Verdict.PValue < 0.05 {
			below05++
		}
	}
	mean := sum / runs
	assert.InDelta(t, 0.5, mean, 0.15, "mean p-value under H0")
	assert.LessOrEqual(t, below05/runs, 0.2, "false rejection rate")
}

func TestEngine_DetectsShift(t *testing.T) {
	p, q := testkit.SamplePair(9, 40, 40, 2, 1.5)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 100, 9), p: p, q: q})
	res, err := e.PerformTest(context.Background(), 0.05)
	require.NoError(t, err)
	assert.True(t, res.Verdict.Rejected(), "p = %v", res.Verdict.PValue)
	assert.Equal(t, 0.0, res.Verdict.PValue)
	assert.Equal(t, 100, res.Summary.Count)
	assert.NoError(t, res.Manifest.Validate())
	assert.Empty(t, res.Warnings)
}

func TestEngine_PrecisionWarning(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(2, 10, 10, 1, 0)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 10, 2), p: p, q: q})
	stat, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	_, err = e.SampleNull(ctx)
	require.NoError(t, err)

	pv, err := e.ComputePValue(stat)
	require.Error(t, err)
	assert.True(t, core.IsPrecisionWarning(err))
	assert.False(t, core.IsFatal(err))
	assert.True(t, pv >= 0 && pv <= 1)

	_, err = e.ComputeThreshold(0.01)
	assert.True(t, core.IsPrecisionWarning(err))

	res, err := e.PerformTest(ctx, 0.05)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestEngine_ThresholdIsNullQuantile(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(6, 12, 12, 1, 0)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 100, 6), p: p, q: q})
	_, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	null, err := e.SampleNull(ctx)
	require.NoError(t, err)

	thr, err := e.ComputeThreshold(0.1)
	require.NoError(t, err)
	above := 0
	for _, v := range null {
		if v > thr {
			above++
		}
	}
	assert.LessOrEqual(t, above, 10)

	_, err = e.ComputeThreshold(1.5)
	assert.True(t, core.IsConfigurationError(err))
}

func TestEngine_GaussianNull(t *testing.T) {
	ctx := context.Background()
	for _, vm := range []mmd.VarianceMethod{mmd.VarianceDirect, mmd.VariancePermutation} {
		t.Run(string(vm), func(t *testing.T) {
			p, q := testkit.SamplePair(11, 200, 200, 1, 0)
			cfg := config(mmd.NullGaussian, 200, 11)
			cfg.VarianceMethod = vm
			e := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 20, perBurst: 5})

			stat, err := e.ComputeStatistic(ctx)
			require.NoError(t, err)
			assert.Equal(t, 20, e.NumBlocks())

			variance, err := e.ComputeVariance(ctx)
			require.NoError(t, err)
			assert.Greater(t, variance, 0.0)

			null, err := e.SampleNull(ctx)
			require.NoError(t, err)
			assert.Len(t, null, 200)

			pv, err := e.ComputePValue(stat)
			require.NoError(t, err, "analytic nulls never warn")
			assert.True(t, pv > 0 && pv < 1)

			thr, err := e.ComputeThreshold(0.05)
			require.NoError(t, err)
			sigma := math.Sqrt(variance)
			if vm == mmd.VarianceDirect {
				assert.InDelta(t, 1.6448536269514722*sigma, thr, 1e-9)
			}
		})
	}
}

func TestEngine_GaussianNullRejectsShift(t *testing.T) {
	p, q := testkit.SamplePair(12, 400, 400, 1, 1)
	cfg := config(mmd.NullGaussian, 100, 12)
	cfg.Statistic = mmd.StatisticUnbiasedIncomplete
	e := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 4, perBurst: 50})
	res, err := e.PerformTest(context.Background(), 0.05)
	require.NoError(t, err)
	assert.True(t, res.Verdict.Rejected(), "p = %v", res.Verdict.PValue)
}

func TestEngine_GammaNull(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(13, 30, 30, 1, 0)

	cfg := config(mmd.NullGamma, 100, 13)
	e := build(t, setup{cfg: cfg, p: p, q: q})
	_, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	_, err = e.SampleNull(ctx)
	assert.True(t, core.IsConfigurationError(err), "gamma needs the biased statistic: %v", err)

	cfg.Statistic = mmd.StatisticBiasedFull
	e = build(t, setup{cfg: cfg, p: p, q: q})
	res, err := e.PerformTest(ctx, 0.05)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Greater(t, res.Verdict.Threshold, 0.0)
	assert.True(t, res.Verdict.PValue > 0 && res.Verdict.PValue <= 1)
	for _, v := range res.NullSamples {
		assert.Greater(t, v, 0.0)
	}

	blockwise := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 20})
	_, err = blockwise.ComputeStatistic(ctx)
	require.NoError(t, err)
	_, err = blockwise.SampleNull(ctx)
	assert.True(t, core.IsConfigurationError(err))
}

func TestEngine_SpectrumNull(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(14, 25, 25, 1, 0)
	for _, st := range []mmd.StatisticType{mmd.StatisticBiasedFull, mmd.StatisticUnbiasedFull} {
		t.Run(string(st), func(t *testing.T) {
			cfg := config(mmd.NullSpectrum, 200, 14)
			cfg.Statistic = st
			cfg.NumEigenvalues = 10
			e := build(t, setup{cfg: cfg, p: p, q: q})
			stat, err := e.ComputeStatistic(ctx)
			require.NoError(t, err)
			null, err := e.SampleNull(ctx)
			require.NoError(t, err)
			require.Len(t, null, 200)

			pv, err := e.ComputePValue(stat)
			require.NoError(t, err)
			assert.Greater(t, pv, 0.001, "no shift, p-value should not be tiny")
			if st == mmd.StatisticBiasedFull {
				for _, v := range null {
					assert.GreaterOrEqual(t, v, 0.0)
				}
			}
		})
	}
}

func TestEngine_ComputeMultiple(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(15, 20, 20, 2, 0.8)
	kernels := []ports.Kernel{testkit.NewGaussianKernel(1), testkit.NewGaussianKernel(4), testkit.NewLinearKernel()}
	e := build(t, setup{cfg: config(mmd.NullPermutation, 10, 0), p: p, q: q, blocksize: 20, perBurst: 1, kernels: kernels})

	all, err := e.ComputeMultiple(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	single, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	assert.InDelta(t, single, all[0], 1e-12)
	assert.NotEqual(t, all[0], all[1])
}

func TestEngine_RestoresKernelAfterEveryPass(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(16, 12, 12, 1, 0)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 5, 0), p: p, q: q, blocksize: 8})
	_, err := e.PerformTest(ctx, 0.5)
	require.NoError(t, err)
	assert.False(t, e.kernels.IsPrecomputed(0))
}

func TestEngine_CancelledBetweenBursts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, q := testkit.SamplePair(17, 10, 10, 1, 0)
	e := build(t, setup{cfg: config(mmd.NullPermutation, 5, 0), p: p, q: q})
	_, err := e.ComputeStatistic(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateConfigured, e.State())
}

// shapeKernel records the dimensions of every matrix it builds
type shapeKernel struct {
	ports.Kernel
	shapes [][2]int
}

func (k *shapeKernel) Matrix() (*mat.Dense, error) {
	km, err := k.Kernel.Matrix()
	if err == nil {
		r, c := km.Dims()
		k.shapes = append(k.shapes, [2]int{r, c})
	}
	return km, err
}

func TestEngine_PrecomputesOneMatrixPerBlock(t *testing.T) {
	ctx := context.Background()
	p, q := testkit.SamplePair(18, 20, 20, 1, 0)
	k := &shapeKernel{Kernel: testkit.NewGaussianKernel(2)}
	e := build(t, setup{cfg: config(mmd.NullPermutation, 4, 0), p: p, q: q,
		blocksize: 10, perBurst: 4, kernels: []ports.Kernel{k}})

	_, err := e.ComputeStatistic(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{10, 10}, {10, 10}, {10, 10}, {10, 10}}, k.shapes)

	_, err = e.SampleNull(ctx)
	require.NoError(t, err)
	for _, shape := range k.shapes {
		assert.Equal(t, [2]int{10, 10}, shape)
	}
	assert.False(t, e.kernels.IsPrecomputed(0))
}

func TestEngine_SkippedBursts(t *testing.T) {
	tests := []struct {
		name        string
		failing     map[int]bool
		maxFraction float64
		wantErr     bool
	}{
		{"one of ten below threshold", map[int]bool{3: true}, 0.2, false},
		{"one of ten at threshold", map[int]bool{3: true}, 0.1, false},
		{"two of ten above threshold", map[int]bool{3: true, 7: true}, 0.1, true},
		{"any failure with zero tolerance", map[int]bool{1: true}, 0, true},
		{"every burst failed", map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true,
			6: true, 7: true, 8: true, 9: true, 10: true}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := config(mmd.NullPermutation, 5, 0)
			cfg.MaxSkippedFraction = tt.maxFraction
			p, q := testkit.SamplePair(19, 20, 20, 1, 0)
			e := build(t, setup{cfg: cfg, p: p, q: q, blocksize: 4, perBurst: 1})

			calls := 0
			job := func(k mat.Matrix) (float64, error) {
				calls++
				if tt.failing[calls] {
					return 0, assert.AnError
				}
				return 1, nil
			}
			l, err := e.newLane(false, computation.Job(job))
			require.NoError(t, err)
			defer l.cm.Done()

			require.NoError(t, e.data.Start(ctx))
			defer e.data.End()

			aggregated := 0
			err = e.runPass(ctx, "test", []int{0}, []*lane{l}, nil, func(k int, res laneResults) {
				aggregated += len(res[0][0])
			})

			skipped, total := e.SkippedBursts()
			assert.Equal(t, len(tt.failing), skipped)
			assert.Equal(t, 10, total)
			assert.Equal(t, 10-len(tt.failing), aggregated)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrTooManySkipped)
				assert.True(t, core.IsStateError(err))
				return
			}
			assert.NoError(t, err)
			assert.False(t, e.kernels.IsPrecomputed(0))
		})
	}
}
