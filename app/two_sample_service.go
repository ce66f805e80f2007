package app

import (
	"context"
	"fmt"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/internal"
	"gommd/internal/config"
	"gommd/internal/engine"
	"gommd/internal/fetcher"
	"gommd/internal/kernelmgr"
	"gommd/internal/metrics"
	"gommd/ports"
)

// TestInput holds the samples and kernels of one two-sample test
type TestInput struct {
	P       fetcher.Fetcher
	Q       fetcher.Fetcher
	Kernels []ports.Kernel
}

// TwoSampleService wires configuration, data and kernels into a test engine
// and records finished runs.
type TwoSampleService struct {
	rngPort ports.RNGPort
	store   ports.RunStore
	metrics *metrics.Metrics
	logger  *internal.Logger
}

// NewTwoSampleService creates the service; store and m may be nil
func NewTwoSampleService(rngPort ports.RNGPort, store ports.RunStore, m *metrics.Metrics, logger *internal.Logger) *TwoSampleService {
	return &TwoSampleService{
		rngPort: rngPort,
		store:   store,
		metrics: m,
		logger:  internal.OrDefault(logger).Named("service"),
	}
}

// EngineConfig maps the file/env configuration onto engine parameters
func EngineConfig(cfg *config.Config) (engine.Config, error) {
	statistic, err := mmd.ParseStatisticType(cfg.Test.Statistic)
	if err != nil {
		return engine.Config{}, err
	}
	nullMethod, err := mmd.ParseNullMethod(cfg.Test.NullMethod)
	if err != nil {
		return engine.Config{}, err
	}
	varianceMethod, err := mmd.ParseVarianceMethod(cfg.Test.VarianceMethod)
	if err != nil {
		return engine.Config{}, err
	}
	backend, err := mmd.ParseBackend(cfg.Compute.Backend)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Statistic:          statistic,
		NullMethod:         nullMethod,
		VarianceMethod:     varianceMethod,
		NumNullSamples:     cfg.Test.NumNullSamples,
		Seed:               cfg.Test.Seed,
		Alpha:              cfg.Test.Alpha,
		Backend:            backend,
		NumWorkers:         cfg.Compute.NumWorkers,
		MaxSkippedFraction: cfg.Compute.MaxSkippedFraction,
		NumEigenvalues:     cfg.Test.NumEigenvalues,
	}, nil
}

// RunTest performs one complete test: statistic, null, p-value and decision.
// With a store attached the run is saved, and a warning is logged when an
// earlier run with the same parameters produced a different null.
func (s *TwoSampleService) RunTest(ctx context.Context, cfg *config.Config, in TestInput) (*engine.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(in.Kernels) == 0 {
		return nil, core.NewConfigurationError("at least one kernel is required")
	}
	if in.P == nil || in.Q == nil {
		return nil, fmt.Errorf("test input: %w", core.ErrSamplesNotSet)
	}
	engineCfg, err := EngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	data := fetcher.NewDataManager(in.P, in.Q, s.logger)
	if cfg.Compute.Blocksize > 0 {
		if err := data.SetBlocksize(cfg.Compute.Blocksize); err != nil {
			return nil, err
		}
	}
	if err := data.SetNumBlocksPerBurst(cfg.Compute.NumBlocksPerBurst); err != nil {
		return nil, err
	}

	runID := core.NewRunID()
	eng, err := engine.New(engineCfg, data, kernelmgr.New(s.logger, in.Kernels...), s.rngPort,
		engine.WithMetrics(s.metrics),
		engine.WithLogger(s.logger),
		engine.WithRunID(runID),
	)
	if err != nil {
		return nil, err
	}

	result, err := eng.PerformTest(ctx, cfg.Test.Alpha)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	for _, w := range result.Warnings {
		s.logger.Warn("run %s: %v", runID, w)
	}

	if s.store != nil {
		if err := s.record(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *TwoSampleService) record(ctx context.Context, result *engine.Result) error {
	previous, err := s.store.FindByFingerprint(ctx, result.Manifest.Fingerprint.Fingerprint)
	if err != nil {
		return err
	}
	for _, prior := range previous {
		if !prior.Manifest.Replays(result.Manifest) {
			s.logger.Warn("run %s does not replay run %s with the same parameters (null %s vs %s)",
				result.RunID, prior.RunID(), result.Manifest.NullHash.Short(), prior.Manifest.NullHash.Short())
		}
	}
	return s.store.Save(ctx, result.Record())
}

// Replayed reports whether an earlier stored run has the same parameters and null samples
func (s *TwoSampleService) Replayed(ctx context.Context, result *engine.Result) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	previous, err := s.store.FindByFingerprint(ctx, result.Manifest.Fingerprint.Fingerprint)
	if err != nil {
		return false, err
	}
	for _, prior := range previous {
		if prior.RunID() != result.RunID && prior.Manifest.Replays(result.Manifest) {
			return true, nil
		}
	}
	return false, nil
}
