package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/domain/samples"
	"gommd/internal/computation"
	"gommd/internal/kernelmgr"
)

// lane is one computation manager with its jobs. A permuting lane sees every
// block through a fresh within-block permutation drawn from the pass's stream.
type lane struct {
	cm      *computation.Manager
	permute bool
}

// laneResults is indexed [lane][job][block]
type laneResults [][][]float64

// burstError marks a burst whose jobs failed; the burst is skipped
type burstError struct {
	err error
}

func (b *burstError) Error() string { return "burst failed: " + b.err.Error() }
func (b *burstError) Unwrap() error { return b.err }

func (e *Engine) newLane(permute bool, jobs ...computation.Job) (*lane, error) {
	cm := computation.NewManager(
		computation.WithWorkers(e.cfg.NumWorkers),
		computation.WithMetrics(e.metrics),
		computation.WithLogger(e.logger),
	)
	if e.cfg.Backend == mmd.BackendGPU {
		if err := cm.UseGPU(); err != nil {
			return nil, err
		}
	}
	for _, job := range jobs {
		cm.EnqueueJob(job)
	}
	return &lane{cm: cm, permute: permute}, nil
}

// runPass drives the started data manager until exhaustion. For every burst
// and kernel it precomputes the kernel, runs every lane and restores the
// kernel, then hands the results to visit. Failed bursts are counted and
// skipped; too many of them fail the pass.
func (e *Engine) runPass(ctx context.Context, stage string, kernels []int, lanes []*lane,
	r *rand.Rand, visit func(k int, res laneResults)) error {

	total, skipped := 0, 0
	for {
		// bursts are the only interruption point
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := e.data.Next(ctx)
		if err != nil {
			return err
		}
		if next.Empty() {
			break
		}
		total++

		outs := make([]laneResults, len(kernels))
		var failed error
		for i, k := range kernels {
			out, err := e.processBurst(ctx, next, k, lanes, r)
			var be *burstError
			if errors.As(err, &be) {
				failed = be
				break
			}
			if err != nil {
				return err
			}
			outs[i] = out
		}
		if failed != nil {
			skipped++
			e.metrics.Burst(stage, "skipped")
			e.logger.Warn("%s: skipping burst %d: %v", stage, total, failed)
			continue
		}
		e.metrics.Burst(stage, "ok")
		e.logger.Trace("%s: burst %d with %d blocks", stage, total, next.NumBlocks())
		for i, k := range kernels {
			visit(k, outs[i])
		}
	}

	e.skipped += skipped
	e.bursts += total
	if total == 0 {
		return core.NewStateError("%s: no bursts were fetched", stage)
	}
	if skipped == total || float64(skipped)/float64(total) > e.cfg.MaxSkippedFraction {
		return core.NewSkippedBurstsError(skipped, total, e.cfg.MaxSkippedFraction)
	}
	return nil
}

// processBurst precomputes kernel k for every block of the burst, fills one
// slot per block in every lane, then computes and collects.
func (e *Engine) processBurst(ctx context.Context, next samples.NextSamples, k int,
	lanes []*lane, r *rand.Rand) (laneResults, error) {

	blocks := make([]mmd.Block, next.NumBlocks())
	for b, pair := range next.Blocks {
		blk, err := e.precomputeBlock(k, pair)
		if err != nil {
			return nil, err
		}
		blocks[b] = blk
	}

	out := make(laneResults, len(lanes))
	for li, l := range lanes {
		l.cm.NumData(len(blocks))
		for b, blk := range blocks {
			view := blk.K
			if l.permute {
				view = mmd.Permuted(view, r.Perm(blk.Nx+blk.Ny))
			}
			if err := l.cm.SetData(b, view); err != nil {
				return nil, err
			}
		}
		if err := l.cm.Compute(ctx); err != nil {
			return nil, &burstError{err: err}
		}
		jobs := l.cm.NumJobs()
		out[li] = make([][]float64, jobs)
		for j := 0; j < jobs; j++ {
			res, err := l.cm.NextResult()
			if err != nil {
				return nil, err
			}
			out[li][j] = res
		}
	}
	return out, nil
}

// precomputeBlock is the scope of one precomputed kernel: bind the block's
// [x | y] view, precompute, take the matrix and restore on every exit path.
func (e *Engine) precomputeBlock(k int, pair samples.BlockPair) (mmd.Block, error) {
	merged, err := pair.Merged()
	if err != nil {
		return mmd.Block{}, err
	}
	live, err := e.kernels.LiveKernelAt(k)
	if err != nil {
		return mmd.Block{}, err
	}
	if err := live.Init(merged, merged); err != nil {
		return mmd.Block{}, fmt.Errorf("init kernel %s: %w", live.Name(), err)
	}
	defer live.Cleanup()

	if err := e.kernels.PrecomputeKernelAt(k); err != nil {
		return mmd.Block{}, err
	}
	defer e.kernels.RestoreKernelAt(k)

	active, err := e.kernels.KernelAt(k)
	if err != nil {
		return mmd.Block{}, err
	}
	if _, ok := active.(*kernelmgr.Precomputed); !ok {
		return mmd.Block{}, core.NewStateError("kernel %d is not precomputed", k)
	}
	km, err := active.Matrix()
	if err != nil {
		return mmd.Block{}, err
	}
	blk := mmd.Block{K: km, Nx: pair.Nx(), Ny: pair.Ny()}
	return blk, blk.Validate()
}

// running is a Welford accumulator: running mean and sum of squared deviations
type running struct {
	n    int
	mean float64
	m2   float64
}

func (r *running) add(v float64) {
	r.n++
	d := v - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (v - r.mean)
}

func (r *running) variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}
