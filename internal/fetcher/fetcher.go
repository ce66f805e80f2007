// Package fetcher hands out the samples of one distribution block by block,
// either by slicing in-memory features or by reading an incremental source.
package fetcher

import (
	"context"

	"gommd/domain/blockwise"
	"gommd/domain/core"
	"gommd/internal"
	"gommd/ports"
)

// Fetcher is the contract shared by the in-memory and the streaming variant.
// It is single-threaded: Next and Reset are never called concurrently.
type Fetcher interface {
	// Start begins an epoch and acquires the source
	Start(ctx context.Context) error

	// Next returns the blocks of the next burst, or nil once exhausted
	Next(ctx context.Context) ([]ports.Features, error)

	// Reset rewinds to the first block for another pass
	Reset(ctx context.Context) error

	// End releases the source
	End() error

	// NumSamples is the total number of samples per pass
	NumSamples() int

	// Details exposes the block configuration; only the fetcher moves its progress fields
	Details() *blockwise.Details
}

// Memory slices random-access features without any I/O
type Memory struct {
	features ports.SliceableFeatures
	details  *blockwise.Details
	started  bool
	logger   *internal.Logger
}

var _ Fetcher = (*Memory)(nil)

// NewMemory creates a fetcher over in-memory features, in full-data mode
func NewMemory(features ports.SliceableFeatures, logger *internal.Logger) *Memory {
	return &Memory{
		features: features,
		details:  blockwise.New(),
		logger:   internal.OrDefault(logger),
	}
}

func (f *Memory) NumSamples() int             { return f.features.NumVectors() }
func (f *Memory) Details() *blockwise.Details { return f.details }

func (f *Memory) Start(ctx context.Context) error {
	if err := f.details.Validate(); err != nil {
		return err
	}
	f.details.Resolve(f.features.NumVectors())
	f.details.Rewind()
	f.started = true
	f.logger.Debug("memory fetcher started: %d samples, blocksize %d, %d blocks",
		f.features.NumVectors(), f.details.Blocksize(), f.details.TotalNumBlocks())
	return nil
}

func (f *Memory) Next(ctx context.Context) ([]ports.Features, error) {
	if !f.started {
		return nil, core.NewStateError("fetcher Next called before Start")
	}
	if f.details.Exhausted() {
		return nil, nil
	}
	bs := f.details.Blocksize()
	first := f.details.NextBlockIndex()
	count := min(f.details.NumBlocksPerBurst(), f.details.TotalNumBlocks()-first)
	blocks := make([]ports.Features, count)
	for i := range blocks {
		from := (first + i) * bs
		blocks[i] = f.features.Slice(from, from+bs)
	}
	f.details.Advance(count)
	return blocks, nil
}

func (f *Memory) Reset(ctx context.Context) error {
	if !f.started {
		return core.NewStateError("fetcher Reset called before Start")
	}
	f.details.Rewind()
	return nil
}

func (f *Memory) End() error {
	f.started = false
	return nil
}
