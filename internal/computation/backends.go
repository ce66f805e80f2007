package computation

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"
)

func defaultWorkers() int {
	return max(1, runtime.GOMAXPROCS(0))
}

// cpuBackend calls each job directly, job-major, on the caller's goroutine
type cpuBackend struct{}

func (cpuBackend) Name() string { return "cpu" }

func (cpuBackend) Run(ctx context.Context, jobs []Job, slots []mat.Matrix) ([][]float64, error) {
	results := make([][]float64, len(jobs))
	for j, job := range jobs {
		results[j] = make([]float64, len(slots))
		for s, slot := range slots {
			v, err := call(job, slot)
			if err != nil {
				return nil, fmt.Errorf("job %d, slot %d: %w", j, s, err)
			}
			results[j][s] = v
		}
	}
	return results, nil
}

// gpuBackend stages every slot once into contiguous device buffers and fans
// the (job, slot) pairs out over a bounded worker set. Staging turns lazy
// views into dense storage, so all jobs share one materialized copy.
type gpuBackend struct {
	workers int
}

func (b *gpuBackend) Name() string { return "gpu" }

func (b *gpuBackend) Run(ctx context.Context, jobs []Job, slots []mat.Matrix) ([][]float64, error) {
	staged := make([]*mat.Dense, len(slots))
	for i, s := range slots {
		staged[i] = upload(s)
	}

	results := make([][]float64, len(jobs))
	for j := range results {
		results[j] = make([]float64, len(slots))
	}

	workers := int64(max(1, b.workers))
	sem := semaphore.NewWeighted(workers)
	// a burst runs to completion; only a failing job stops the rest
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for j, job := range jobs {
		for s, buf := range staged {
			cost := min(workers, slotCost(buf))
			if err := sem.Acquire(gctx, cost); err != nil {
				return nil, g.Wait()
			}
			g.Go(func() error {
				defer sem.Release(cost)
				v, err := call(job, buf)
				if err != nil {
					return fmt.Errorf("job %d, slot %d: %w", j, s, err)
				}
				results[j][s] = v
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// upload copies a slot into a dense buffer unless it already is one
func upload(s mat.Matrix) *mat.Dense {
	if d, ok := s.(*mat.Dense); ok {
		r, c := d.Dims()
		if d.RawMatrix().Stride == c && r > 0 {
			return d
		}
	}
	return mat.DenseCopyOf(s)
}

// slotCost weights a slot by its size so large blocks take more of the pool
func slotCost(d *mat.Dense) int64 {
	r, _ := d.Dims()
	return 1 + int64(r*r)/(1<<18)
}
