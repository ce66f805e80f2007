package samples

import (
	"gommd/ports"
)

// BlockPair holds the P part and the Q part of one block
type BlockPair struct {
	P ports.Features
	Q ports.Features
}

// Nx returns the number of samples from P in the block
func (b BlockPair) Nx() int { return b.P.NumVectors() }

// Ny returns the number of samples from Q in the block
func (b BlockPair) Ny() int { return b.Q.NumVectors() }

// Merged lays the block out as [x | y]
func (b BlockPair) Merged() (*Dense, error) {
	return Merge(b.P, b.Q)
}

// NextSamples is one burst: the same number of blocks from each distribution.
// A zero value marks exhaustion.
type NextSamples struct {
	Blocks []BlockPair
}

// Empty reports the end-of-data sentinel
func (n NextSamples) Empty() bool { return len(n.Blocks) == 0 }

// NumBlocks returns the number of blocks in the burst
func (n NextSamples) NumBlocks() int { return len(n.Blocks) }
