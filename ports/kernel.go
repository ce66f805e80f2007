package ports

import (
	"gonum.org/v1/gonum/mat"
)

// Kernel is a similarity function evaluated over an initialized pair of feature views
type Kernel interface {
	// Name identifies the kernel in logs and metrics
	Name() string

	// Init binds the left and right feature views
	Init(left, right Features) error

	// Matrix returns the dense similarity matrix for the bound views
	Matrix() (*mat.Dense, error)

	// Cleanup drops the bound views
	Cleanup()
}
