package mmd

import (
	"gonum.org/v1/gonum/mat"
)

// permuted is a read-only view of a square matrix with rows and columns
// relabelled by perm; no entries are copied.
type permuted struct {
	base mat.Matrix
	perm []int
}

// Permuted returns the view K[perm[i], perm[j]]. The caller keeps ownership of perm.
func Permuted(k mat.Matrix, perm []int) mat.Matrix {
	return &permuted{base: k, perm: perm}
}

func (p *permuted) Dims() (int, int) { return len(p.perm), len(p.perm) }

func (p *permuted) At(i, j int) float64 {
	return p.base.At(p.perm[i], p.perm[j])
}

func (p *permuted) T() mat.Matrix { return mat.Transpose{Matrix: p} }
