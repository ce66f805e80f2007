// Package blockwise describes how samples are sliced into blocks and bursts.
package blockwise

import (
	"gommd/domain/core"
)

// Details is the block/burst configuration of one fetcher.
//
// Blocksize and NumBlocksPerBurst are set through the builder methods. The
// progress fields (NextBlockIndex, TotalNumBlocks) belong to the fetcher that
// owns the Details and are read-only for everybody else.
type Details struct {
	blocksize          int
	numBlocksPerBurst  int
	maxSamplesPerBurst int
	fullData           bool

	nextBlockIndex int
	totalNumBlocks int
}

// New returns details describing a single burst holding all data
func New() *Details {
	return &Details{numBlocksPerBurst: 1, fullData: true}
}

// WithBlocksize sets the number of samples per block
func (d *Details) WithBlocksize(n int) *Details {
	d.blocksize = n
	d.fullData = false
	d.recompute()
	return d
}

// WithNumBlocksPerBurst sets how many blocks are fetched together
func (d *Details) WithNumBlocksPerBurst(k int) *Details {
	d.numBlocksPerBurst = k
	d.recompute()
	return d
}

// WithFullData switches back to one block holding every sample
func (d *Details) WithFullData() *Details {
	d.fullData = true
	d.blocksize = 0
	d.numBlocksPerBurst = 1
	d.recompute()
	return d
}

func (d *Details) recompute() {
	d.maxSamplesPerBurst = d.blocksize * d.numBlocksPerBurst
}

func (d *Details) Blocksize() int          { return d.blocksize }
func (d *Details) NumBlocksPerBurst() int  { return d.numBlocksPerBurst }
func (d *Details) MaxSamplesPerBurst() int { return d.maxSamplesPerBurst }
func (d *Details) FullData() bool          { return d.fullData }
func (d *Details) NextBlockIndex() int     { return d.nextBlockIndex }
func (d *Details) TotalNumBlocks() int     { return d.totalNumBlocks }

// Validate checks the builder values before a fetch epoch starts
func (d *Details) Validate() error {
	if d.fullData {
		return nil
	}
	if d.blocksize <= 0 {
		return core.NewConfigurationError("blocksize must be positive, got %d", d.blocksize)
	}
	if d.numBlocksPerBurst <= 0 {
		return core.NewConfigurationError("number of blocks per burst must be positive, got %d", d.numBlocksPerBurst)
	}
	return nil
}

// Resolve fixes the block layout for a source of numSamples samples.
// In full-data mode the whole source becomes one block.
func (d *Details) Resolve(numSamples int) {
	if d.fullData {
		d.blocksize = numSamples
		d.numBlocksPerBurst = 1
		d.recompute()
	}
	if d.blocksize > 0 {
		d.totalNumBlocks = numSamples / d.blocksize
	}
}

// Advance moves the progress cursor forward; owning fetcher only
func (d *Details) Advance(blocks int) {
	if blocks > 0 {
		d.nextBlockIndex += blocks
	}
}

// SetTotalNumBlocks records the block count seen so far; owning fetcher only
func (d *Details) SetTotalNumBlocks(n int) {
	if n > d.totalNumBlocks {
		d.totalNumBlocks = n
	}
}

// Rewind resets the progress cursor for a new pass; owning fetcher only
func (d *Details) Rewind() {
	d.nextBlockIndex = 0
}

// Exhausted reports whether every block has been handed out
func (d *Details) Exhausted() bool {
	return d.totalNumBlocks > 0 && d.nextBlockIndex >= d.totalNumBlocks
}
