package estimator

import (
	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
)

// FullDirect estimates the null variance of the block's unbiased statistic:
//
//	2/(n(n-1)) * mean_{i!=j} h(z_i, z_j)^2
//
// with x_i paired to y_i for i < n = min(n_x, n_y).
type FullDirect struct {
	nx, ny, n int
}

func NewFullDirect(nx, ny int) (*FullDirect, error) {
	n := min(nx, ny)
	if n < 2 {
		return nil, core.NewArithmeticDomainError("FullDirect", nx, ny)
	}
	return &FullDirect{nx: nx, ny: ny, n: n}, nil
}

func (e *FullDirect) Name() string { return "full_direct" }

func (e *FullDirect) Compute(k mat.Matrix) (float64, error) {
	if err := checkDims(e.Name(), k, e.nx, e.ny); err != nil {
		return 0, err
	}
	var sumSq float64
	for i := 0; i < e.n; i++ {
		for j := 0; j < e.n; j++ {
			if i == j {
				continue
			}
			h := hValue(k, e.nx, i, j)
			sumSq += h * h
		}
	}
	n := float64(e.n)
	pairs := n * (n - 1)
	return 2 / pairs * (sumSq / pairs), nil
}

// WithinBlockDirect is the variance estimate for small interleaved blocks:
// the mean of h^2 over consecutive disjoint pairs (0,1), (2,3), ...
type WithinBlockDirect struct {
	nx, ny, n int
}

func NewWithinBlockDirect(nx, ny int) (*WithinBlockDirect, error) {
	n := min(nx, ny)
	if n < 2 {
		return nil, core.NewArithmeticDomainError("WithinBlockDirect", nx, ny)
	}
	return &WithinBlockDirect{nx: nx, ny: ny, n: n}, nil
}

func (e *WithinBlockDirect) Name() string { return "within_block_direct" }

func (e *WithinBlockDirect) Compute(k mat.Matrix) (float64, error) {
	if err := checkDims(e.Name(), k, e.nx, e.ny); err != nil {
		return 0, err
	}
	var sumSq float64
	pairs := 0
	for i := 0; i+1 < e.n; i += 2 {
		h := hValue(k, e.nx, i, i+1)
		sumSq += h * h
		pairs++
	}
	return sumSq / float64(pairs), nil
}
