package core

import (
	"errors"
	"fmt"
)

// Error taxonomy for the two-sample test pipeline
var (
	// Fatal, propagate immediately
	ErrConfiguration    = errors.New("configuration error")
	ErrResource         = errors.New("resource error")
	ErrState            = errors.New("state error")
	ErrArithmeticDomain = errors.New("arithmetic domain error")

	// Non-fatal
	ErrPrecision = errors.New("insufficient null sample resolution")
)

// Common configuration failures
var (
	ErrKernelNotSet  = fmt.Errorf("%w: kernel is not set", ErrConfiguration)
	ErrSamplesNotSet = fmt.Errorf("%w: samples are not set", ErrConfiguration)
)

// Common state failures
var (
	ErrNoPendingResult = fmt.Errorf("%w: no pending result", ErrState)
	ErrMidBurstSwitch  = fmt.Errorf("%w: backend cannot change while jobs are pending", ErrState)
	ErrTooManySkipped  = errors.New("too many bursts skipped")
)

// NewConfigurationError reports a missing or inconsistent setting
func NewConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewResourceError reports a data source that could not be opened or read
func NewResourceError(source string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrResource, source)
	}
	return fmt.Errorf("%w: %s: %w", ErrResource, source, cause)
}

// NewStateError reports an out-of-order call
func NewStateError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// NewArithmeticDomainError reports block sizes an estimator cannot divide by
func NewArithmeticDomainError(estimator string, nx, ny int) error {
	return fmt.Errorf("%w: %s requires larger blocks (n_x=%d, n_y=%d)", ErrArithmeticDomain, estimator, nx, ny)
}

// NewSkippedBurstsError reports a computation that lost too much of its data
func NewSkippedBurstsError(skipped, total int, threshold float64) error {
	return fmt.Errorf("%w: %w: %d of %d bursts failed (threshold %.2f)", ErrState, ErrTooManySkipped, skipped, total, threshold)
}

// PrecisionWarning is returned alongside a valid p-value when the null sample
// sequence is too short to resolve the requested significance level.
type PrecisionWarning struct {
	NumNullSamples int
	Resolution     float64
	Requested      float64
}

func (w *PrecisionWarning) Error() string {
	return fmt.Sprintf("%s: %d null samples give resolution %.4g, requested %.4g",
		ErrPrecision.Error(), w.NumNullSamples, w.Resolution, w.Requested)
}

func (w *PrecisionWarning) Unwrap() error {
	return ErrPrecision
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsResourceError(err error) bool {
	return errors.Is(err, ErrResource)
}

func IsStateError(err error) bool {
	return errors.Is(err, ErrState)
}

func IsArithmeticDomainError(err error) bool {
	return errors.Is(err, ErrArithmeticDomain)
}

// IsPrecisionWarning reports whether err only carries a non-fatal precision warning
func IsPrecisionWarning(err error) bool {
	var w *PrecisionWarning
	return errors.As(err, &w)
}

// IsFatal reports whether err must abort the current test run
func IsFatal(err error) bool {
	return err != nil && !IsPrecisionWarning(err)
}
