// Package rng provides the seeded random streams used for null sampling.
package rng

import (
	"context"
	"math/rand"

	"gommd/ports"
)

// Adapter implements ports.RNGPort with math/rand sources derived from
// deterministic string hashes, so the same operation name and seed always
// yield the same stream.
type Adapter struct{}

var _ ports.RNGPort = (*Adapter)(nil)

// New returns a stream provider
func New() *Adapter {
	return &Adapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (a *Adapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name != "" {
		seed += int64(hashString(name))
	}
	return rand.New(rand.NewSource(seed)), nil
}

// hashString is djb2
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c)
	}
	return hash
}
