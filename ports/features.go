package ports

import (
	"context"
)

// Features is random-access sample storage: NumVectors vectors of length Dim
type Features interface {
	NumVectors() int
	Dim() int
	Vector(i int) []float64
}

// SliceableFeatures supports zero-copy slicing, used by in-memory fetchers
type SliceableFeatures interface {
	Features
	Slice(from, to int) Features
}

// StreamingFeatures is an incremental source with an open / read-next / close cycle.
// The total count must be known before the first Open so block sizes can be split
// across distributions.
type StreamingFeatures interface {
	// NumVectors returns the total number of vectors the source yields per pass
	NumVectors() int

	// Open positions the source at its first vector
	Open(ctx context.Context) error

	// Read parses up to n vectors. At end of stream it returns a nil Features and nil error.
	Read(ctx context.Context, n int) (Features, error)

	// Close releases the underlying handle; calling it twice is harmless
	Close() error
}
