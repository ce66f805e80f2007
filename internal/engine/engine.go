// Package engine runs the kernel two-sample test: it drives the data manager
// across bursts, precomputes the kernel per burst, submits estimator jobs,
// aggregates per-block values and approximates the null distribution.
//
// State machine: Configured -> StatisticComputed -> NullApproximated -> Decided.
// ComputeStatistic may be called again from any state and restarts the chain.
package engine

import (
	"context"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/internal"
	"gommd/internal/estimator"
	"gommd/internal/fetcher"
	"gommd/internal/kernelmgr"
	"gommd/internal/metrics"
	"gommd/ports"
)

// State is the position in the test's state machine
type State int

const (
	StateConfigured State = iota
	StateStatisticComputed
	StateNullApproximated
	StateDecided
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "CONFIGURED"
	case StateStatisticComputed:
		return "STATISTIC_COMPUTED"
	case StateNullApproximated:
		return "NULL_APPROXIMATED"
	case StateDecided:
		return "DECIDED"
	}
	return "UNKNOWN"
}

// Config holds the test parameters
type Config struct {
	Statistic          mmd.StatisticType
	NullMethod         mmd.NullMethod
	VarianceMethod     mmd.VarianceMethod
	NumNullSamples     int
	Seed               int64
	Alpha              float64 // level used for the resolution check of ComputePValue
	Backend            mmd.Backend
	NumWorkers         int
	MaxSkippedFraction float64
	NumEigenvalues     int // spectrum null; 0 uses all
}

// DefaultConfig returns the unbiased full statistic with a permutation null
func DefaultConfig() Config {
	return Config{
		Statistic:          mmd.StatisticUnbiasedFull,
		NullMethod:         mmd.NullPermutation,
		VarianceMethod:     mmd.VarianceDirect,
		NumNullSamples:     250,
		Alpha:              0.05,
		Backend:            mmd.BackendCPU,
		MaxSkippedFraction: 0.1,
	}
}

// Validate checks the parameters that do not depend on the data
func (c Config) Validate() error {
	if _, err := mmd.ParseStatisticType(string(c.Statistic)); err != nil {
		return err
	}
	if _, err := mmd.ParseNullMethod(string(c.NullMethod)); err != nil {
		return err
	}
	if _, err := mmd.ParseVarianceMethod(string(c.VarianceMethod)); err != nil {
		return err
	}
	if _, err := mmd.ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.NumNullSamples <= 0 {
		return core.NewConfigurationError("number of null samples must be positive, got %d", c.NumNullSamples)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return core.NewConfigurationError("alpha must be in (0, 1), got %v", c.Alpha)
	}
	if c.MaxSkippedFraction < 0 || c.MaxSkippedFraction > 1 {
		return core.NewConfigurationError("max skipped fraction must be in [0, 1], got %v", c.MaxSkippedFraction)
	}
	return nil
}

// Engine is one two-sample test. It is not safe for concurrent use; run
// several engines for concurrent tests.
type Engine struct {
	cfg     Config
	data    *fetcher.DataManager
	kernels *kernelmgr.Manager
	rng     ports.RNGPort
	runID   core.RunID
	metrics *metrics.Metrics
	logger  *internal.Logger

	state         State
	statistic     float64
	numBlocks     int
	blockVariance float64
	hasVariance   bool
	null          []float64
	gamma         gammaFit
	skipped       int
	bursts        int
}

// Option configures an Engine
type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *internal.Logger) Option  { return func(e *Engine) { e.logger = l } }
func WithRunID(id core.RunID) Option        { return func(e *Engine) { e.runID = id } }

// New creates an engine in the Configured state. Missing samples or kernels
// are reported by the first computation, not here.
func New(cfg Config, data *fetcher.DataManager, kernels *kernelmgr.Manager, rng ports.RNGPort, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, core.NewConfigurationError("random stream provider is not set")
	}
	e := &Engine{
		cfg:     cfg,
		data:    data,
		kernels: kernels,
		rng:     rng,
		state:   StateConfigured,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = core.NewRunID()
	}
	e.logger = internal.OrDefault(e.logger).With("run_id", string(e.runID))
	return e, nil
}

// State returns the current state
func (e *Engine) State() State { return e.state }

// RunID identifies the run in logs and manifests
func (e *Engine) RunID() core.RunID { return e.runID }

// Config returns the engine's parameters
func (e *Engine) Config() Config { return e.cfg }

// SkippedBursts returns the number of skipped and total bursts since the last ComputeStatistic
func (e *Engine) SkippedBursts() (skipped, total int) { return e.skipped, e.bursts }

// NumBlocks is the number of valid blocks behind the last statistic
func (e *Engine) NumBlocks() int { return e.numBlocks }

// NullSamples returns a copy of the last null sample sequence
func (e *Engine) NullSamples() []float64 { return append([]float64(nil), e.null...) }

func (e *Engine) transition(to State) {
	if e.state != to {
		e.logger.Info("state %s -> %s", e.state, to)
	}
	e.state = to
}

func (e *Engine) ready() error {
	if e.kernels == nil {
		return core.ErrKernelNotSet
	}
	if err := e.kernels.Validate(); err != nil {
		return err
	}
	if e.data == nil || e.data.NumSamplesAt(0) == 0 || e.data.NumSamplesAt(1) == 0 {
		return core.ErrSamplesNotSet
	}
	return nil
}

func (e *Engine) statisticEstimator() (estimator.Estimator, error) {
	return estimator.New(e.cfg.Statistic, e.data.BlocksizeAt(0), e.data.BlocksizeAt(1))
}

// ComputeStatistic aggregates the per-block statistic over all bursts as an
// arithmetic mean of the valid blocks. With the Gaussian null it also
// estimates the block variance in the same pass.
func (e *Engine) ComputeStatistic(ctx context.Context) (float64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	e.skipped, e.bursts = 0, 0
	e.null = nil
	e.hasVariance = false

	withVariance := e.cfg.NullMethod == mmd.NullGaussian
	stat, variance, err := e.statisticPass(ctx, withVariance)
	if err != nil {
		return 0, err
	}
	e.statistic = stat.mean
	e.numBlocks = stat.n
	if withVariance {
		e.blockVariance = variance
		e.hasVariance = true
	}
	e.logger.Debug("statistic %.6g over %d blocks", e.statistic, e.numBlocks)
	e.transition(StateStatisticComputed)
	return e.statistic, nil
}

// ComputeVariance estimates the variance of the aggregated statistic under
// the null: the block variance divided by the number of blocks.
func (e *Engine) ComputeVariance(ctx context.Context) (float64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	stat, variance, err := e.statisticPass(ctx, true)
	if err != nil {
		return 0, err
	}
	return variance / float64(stat.n), nil
}

// ComputeMultiple returns the statistic of every managed kernel over the same bursts
func (e *Engine) ComputeMultiple(ctx context.Context) ([]float64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	est, err := e.statisticEstimator()
	if err != nil {
		return nil, err
	}
	l, err := e.newLane(false, est.Compute)
	if err != nil {
		return nil, err
	}
	defer l.cm.Done()

	n := e.kernels.NumKernels()
	kernels := make([]int, n)
	for i := range kernels {
		kernels[i] = i
	}
	acc := make([]running, n)

	if err := e.data.Start(ctx); err != nil {
		return nil, err
	}
	defer e.data.End()

	err = e.runPass(ctx, "multiple", kernels, []*lane{l}, nil, func(k int, res laneResults) {
		for _, v := range res[0][0] {
			acc[k].add(v)
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range acc {
		out[i] = acc[i].mean
	}
	return out, nil
}

// statisticPass runs one pass over the data with the statistic job and,
// optionally, the variance job; variance is the per-block null variance estimate.
func (e *Engine) statisticPass(ctx context.Context, withVariance bool) (running, float64, error) {
	var stat, vars running

	est, err := e.statisticEstimator()
	if err != nil {
		return stat, 0, err
	}

	var lanes []*lane
	statJob, varJob, permLane := -1, -1, -1
	direct, err := e.newLane(false)
	if err != nil {
		return stat, 0, err
	}
	defer direct.cm.Done()
	lanes = append(lanes, direct)

	// the statistic job always runs so that the block count is known
	direct.cm.EnqueueJob(est.Compute)
	statJob = 0

	if withVariance {
		switch e.cfg.VarianceMethod {
		case mmd.VarianceDirect:
			v, err := estimator.NewVariance(e.data.BlocksizeAt(0), e.data.BlocksizeAt(1))
			if err != nil {
				return stat, 0, err
			}
			direct.cm.EnqueueJob(v.Compute)
			varJob = 1
		case mmd.VariancePermutation:
			perm, err := e.newLane(true, est.Compute)
			if err != nil {
				return stat, 0, err
			}
			defer perm.cm.Done()
			lanes = append(lanes, perm)
			permLane = 1
		}
	}

	r, err := e.rng.SeededStream(ctx, "variance", e.cfg.Seed)
	if err != nil {
		return stat, 0, err
	}

	if err := e.data.Start(ctx); err != nil {
		return stat, 0, err
	}
	defer e.data.End()

	err = e.runPass(ctx, "statistic", []int{0}, lanes, r, func(_ int, res laneResults) {
		for _, v := range res[0][statJob] {
			stat.add(v)
		}
		if varJob >= 0 {
			for _, v := range res[0][varJob] {
				vars.add(v)
			}
		}
		if permLane >= 0 {
			for _, v := range res[permLane][0] {
				vars.add(v)
			}
		}
	})
	if err != nil {
		return stat, 0, err
	}

	if !withVariance {
		return stat, 0, nil
	}
	if permLane >= 0 {
		if vars.n < 2 {
			return stat, 0, core.NewConfigurationError("permutation variance needs at least two blocks, got %d", vars.n)
		}
		return stat, vars.variance(), nil
	}
	return stat, vars.mean, nil
}
