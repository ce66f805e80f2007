// Package mmd holds the value types shared by the MMD estimators and the test engine.
package mmd

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
)

// StatisticType selects the estimator used for the test statistic
type StatisticType string

const (
	StatisticBiasedFull         StatisticType = "biased_full"
	StatisticUnbiasedFull       StatisticType = "unbiased_full"
	StatisticUnbiasedIncomplete StatisticType = "unbiased_incomplete"
)

// VarianceMethod selects how the statistic's variance is estimated
type VarianceMethod string

const (
	VarianceDirect      VarianceMethod = "direct"
	VariancePermutation VarianceMethod = "permutation"
)

// NullMethod selects how the null distribution is approximated
type NullMethod string

const (
	NullPermutation NullMethod = "permutation"
	NullGaussian    NullMethod = "gaussian"
	NullGamma       NullMethod = "gamma"
	NullSpectrum    NullMethod = "spectrum"
)

// Backend selects where computation jobs run
type Backend string

const (
	BackendCPU Backend = "cpu"
	BackendGPU Backend = "gpu"
)

// ParseStatisticType maps a configuration string to a StatisticType
func ParseStatisticType(s string) (StatisticType, error) {
	switch t := StatisticType(strings.ToLower(strings.TrimSpace(s))); t {
	case StatisticBiasedFull, StatisticUnbiasedFull, StatisticUnbiasedIncomplete:
		return t, nil
	}
	return "", core.NewConfigurationError("unknown statistic type %q", s)
}

// ParseVarianceMethod maps a configuration string to a VarianceMethod
func ParseVarianceMethod(s string) (VarianceMethod, error) {
	switch m := VarianceMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case VarianceDirect, VariancePermutation:
		return m, nil
	}
	return "", core.NewConfigurationError("unknown variance estimation method %q", s)
}

// ParseNullMethod maps a configuration string to a NullMethod
func ParseNullMethod(s string) (NullMethod, error) {
	switch m := NullMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case NullPermutation, NullGaussian, NullGamma, NullSpectrum:
		return m, nil
	}
	return "", core.NewConfigurationError("unknown null approximation method %q", s)
}

// ParseBackend maps a configuration string to a Backend
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendCPU, BackendGPU:
		return b, nil
	}
	return "", core.NewConfigurationError("unknown backend %q", s)
}

// Block is a kernel matrix laid out as [x | y]: the first Nx rows/cols
// belong to P, the remaining Ny to Q.
type Block struct {
	K  mat.Matrix
	Nx int
	Ny int
}

// Validate checks that the split covers the whole square matrix
func (b Block) Validate() error {
	r, c := b.K.Dims()
	if r != c {
		return fmt.Errorf("kernel block must be square, got %dx%d", r, c)
	}
	if b.Nx+b.Ny != r {
		return fmt.Errorf("block split %d+%d does not match dimension %d", b.Nx, b.Ny, r)
	}
	return nil
}
