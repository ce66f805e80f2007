// Package samples holds in-memory feature views and the per-burst sample bundle.
package samples

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gommd/ports"
)

// Dense is a row-major feature matrix: one row per sample vector.
// Slices share the parent's storage.
type Dense struct {
	m    *mat.Dense
	dim  int
	rows int
}

// NewDense wraps n vectors of length dim stored row-major in data
func NewDense(n, dim int, data []float64) *Dense {
	if n == 0 {
		return &Dense{dim: dim}
	}
	return &Dense{m: mat.NewDense(n, dim, data), dim: dim, rows: n}
}

// FromRows copies a slice of vectors into a Dense view
func FromRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 {
		return &Dense{}, nil
	}
	dim := len(rows[0])
	data := make([]float64, 0, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(row), dim)
		}
		data = append(data, row...)
	}
	return NewDense(len(rows), dim, data), nil
}

func (d *Dense) NumVectors() int { return d.rows }
func (d *Dense) Dim() int        { return d.dim }

// Vector returns a view of the i-th sample; callers must not modify it
func (d *Dense) Vector(i int) []float64 {
	return d.m.RawRowView(i)
}

// Slice returns the samples [from, to) without copying
func (d *Dense) Slice(from, to int) ports.Features {
	if to <= from {
		return &Dense{dim: d.dim}
	}
	return &Dense{
		m:    d.m.Slice(from, to, 0, d.dim).(*mat.Dense),
		dim:  d.dim,
		rows: to - from,
	}
}

// Matrix exposes the underlying gonum matrix (nil when empty)
func (d *Dense) Matrix() *mat.Dense {
	return d.m
}

// Merge copies the given views, in order, into one contiguous Dense
func Merge(parts ...ports.Features) (*Dense, error) {
	total, dim := 0, -1
	for _, p := range parts {
		if p == nil || p.NumVectors() == 0 {
			continue
		}
		if dim >= 0 && p.Dim() != dim {
			return nil, fmt.Errorf("cannot merge features of dimension %d and %d", dim, p.Dim())
		}
		dim = p.Dim()
		total += p.NumVectors()
	}
	if total == 0 {
		return &Dense{}, nil
	}

	data := make([]float64, 0, total*dim)
	for _, p := range parts {
		if p == nil {
			continue
		}
		for i := 0; i < p.NumVectors(); i++ {
			data = append(data, p.Vector(i)...)
		}
	}
	return NewDense(total, dim, data), nil
}
