package estimator

import (
	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
)

// BiasedFull computes mean(K_xx) + mean(K_yy) - 2 mean(K_xy), diagonals included
type BiasedFull struct {
	nx, ny int
}

func NewBiasedFull(nx, ny int) (*BiasedFull, error) {
	if nx < 1 || ny < 1 {
		return nil, core.NewArithmeticDomainError("BiasedFull", nx, ny)
	}
	return &BiasedFull{nx: nx, ny: ny}, nil
}

func (e *BiasedFull) Name() string { return "biased_full" }

func (e *BiasedFull) Compute(k mat.Matrix) (float64, error) {
	if err := checkDims(e.Name(), k, e.nx, e.ny); err != nil {
		return 0, err
	}
	s := sums(k, e.nx, e.ny)
	nx, ny := float64(e.nx), float64(e.ny)
	return s.xx/(nx*nx) + s.yy/(ny*ny) - 2*s.xy/(nx*ny), nil
}

// UnbiasedFull drops the self-similarity diagonals of K_xx and K_yy
type UnbiasedFull struct {
	nx, ny int
}

func NewUnbiasedFull(nx, ny int) (*UnbiasedFull, error) {
	if nx < 2 || ny < 2 {
		return nil, core.NewArithmeticDomainError("UnbiasedFull", nx, ny)
	}
	return &UnbiasedFull{nx: nx, ny: ny}, nil
}

func (e *UnbiasedFull) Name() string { return "unbiased_full" }

func (e *UnbiasedFull) Compute(k mat.Matrix) (float64, error) {
	if err := checkDims(e.Name(), k, e.nx, e.ny); err != nil {
		return 0, err
	}
	s := sums(k, e.nx, e.ny)
	nx, ny := float64(e.nx), float64(e.ny)
	return (s.xx-s.trXX)/(nx*(nx-1)) + (s.yy-s.trYY)/(ny*(ny-1)) - 2*s.xy/(nx*ny), nil
}

// UnbiasedIncomplete averages h(z_i, z_j) over i != j on equal halves
type UnbiasedIncomplete struct {
	n int
}

func NewUnbiasedIncomplete(nx, ny int) (*UnbiasedIncomplete, error) {
	if nx != ny {
		return nil, core.NewConfigurationError("UnbiasedIncomplete needs equal halves, got n_x=%d n_y=%d", nx, ny)
	}
	if nx < 2 {
		return nil, core.NewArithmeticDomainError("UnbiasedIncomplete", nx, ny)
	}
	return &UnbiasedIncomplete{n: nx}, nil
}

func (e *UnbiasedIncomplete) Name() string { return "unbiased_incomplete" }

func (e *UnbiasedIncomplete) Compute(k mat.Matrix) (float64, error) {
	if err := checkDims(e.Name(), k, e.n, e.n); err != nil {
		return 0, err
	}
	s := sums(k, e.n, e.n)
	n := float64(e.n)
	return ((s.xx - s.trXX) + (s.yy - s.trYY) - 2*(s.xy-s.trXY)) / (n * (n - 1)), nil
}
