// Package estimator implements the MMD estimators as pure functions from a
// kernel-matrix block laid out as [x | y] to a scalar.
//
// The split sizes n_x and n_y are passed at construction and every block is
// checked against them before it is read.
package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
	"gommd/domain/mmd"
)

// Estimator maps a kernel block to a scalar. Compute has the signature of a
// computation job, so a method value can be enqueued directly.
type Estimator interface {
	Name() string
	Compute(k mat.Matrix) (float64, error)
}

// New builds the statistic estimator for the given type and split
func New(st mmd.StatisticType, nx, ny int) (Estimator, error) {
	switch st {
	case mmd.StatisticBiasedFull:
		return NewBiasedFull(nx, ny)
	case mmd.StatisticUnbiasedFull:
		return NewUnbiasedFull(nx, ny)
	case mmd.StatisticUnbiasedIncomplete:
		return NewUnbiasedIncomplete(nx, ny)
	}
	return nil, core.NewConfigurationError("unknown statistic type %q", st)
}

// NewVariance builds the direct variance estimator suited to the block size.
// Blocks with two samples per distribution use the within-block estimator.
func NewVariance(nx, ny int) (Estimator, error) {
	if nx == 2 && ny == 2 {
		return NewWithinBlockDirect(nx, ny)
	}
	return NewFullDirect(nx, ny)
}

// blockSums holds every partial sum the estimators need, gathered in one pass
type blockSums struct {
	// full sums over K_xx, K_yy, K_xy
	xx, yy, xy float64
	// diagonals of K_xx and K_yy
	trXX, trYY float64
	// paired diagonal K(i, nx+i), i < min(nx, ny)
	trXY float64
}

func checkDims(name string, k mat.Matrix, nx, ny int) error {
	r, c := k.Dims()
	if r != c || r != nx+ny {
		return fmt.Errorf("%s: block is %dx%d, expected %d+%d", name, r, c, nx, ny)
	}
	return nil
}

func sums(k mat.Matrix, nx, ny int) blockSums {
	var s blockSums
	n := nx + ny
	if d, ok := k.(*mat.Dense); ok {
		for i := 0; i < n; i++ {
			row := d.RawRowView(i)
			s.accumulateRow(i, row, nx, ny)
		}
		return s
	}
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			row[j] = k.At(i, j)
		}
		s.accumulateRow(i, row, nx, ny)
	}
	return s
}

func (s *blockSums) accumulateRow(i int, row []float64, nx, ny int) {
	if i < nx {
		for j := 0; j < nx; j++ {
			s.xx += row[j]
		}
		for j := nx; j < nx+ny; j++ {
			s.xy += row[j]
		}
		s.trXX += row[i]
		if i < ny {
			s.trXY += row[nx+i]
		}
		return
	}
	for j := nx; j < nx+ny; j++ {
		s.yy += row[j]
	}
	s.trYY += row[i]
}

// hValue is the paired U-statistic kernel
// h(z_i, z_j) = k(x_i,x_j) + k(y_i,y_j) - k(x_i,y_j) - k(x_j,y_i)
func hValue(k mat.Matrix, nx, i, j int) float64 {
	return k.At(i, j) + k.At(nx+i, nx+j) - k.At(i, nx+j) - k.At(j, nx+i)
}
