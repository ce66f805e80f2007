package fetcher

import (
	"context"
	"errors"

	"gommd/domain/core"
	"gommd/domain/samples"
	"gommd/internal"
	"gommd/ports"
)

// DataManager drives the P and Q fetchers in lockstep. A total blocksize is
// split across the two distributions in proportion to their sample counts, so
// every burst carries the same number of blocks from each.
type DataManager struct {
	fetchers          [2]Fetcher
	blocksize         int
	numBlocksPerBurst int
	logger            *internal.Logger
}

// NewDataManager pairs the fetcher for P with the fetcher for Q. Without a
// blocksize the manager runs in full-data mode: one block with every sample.
func NewDataManager(p, q Fetcher, logger *internal.Logger) *DataManager {
	return &DataManager{
		fetchers:          [2]Fetcher{p, q},
		numBlocksPerBurst: 1,
		logger:            internal.OrDefault(logger),
	}
}

// NumSamples is the total across both distributions
func (m *DataManager) NumSamples() int {
	return m.NumSamplesAt(0) + m.NumSamplesAt(1)
}

// NumSamplesAt returns the sample count of distribution i (0 = P, 1 = Q);
// an unset fetcher has none.
func (m *DataManager) NumSamplesAt(i int) int {
	if i < 0 || i >= len(m.fetchers) || m.fetchers[i] == nil {
		return 0
	}
	return m.fetchers[i].NumSamples()
}

// BlocksizeAt returns the per-block sample count of distribution i
func (m *DataManager) BlocksizeAt(i int) int {
	if m.blocksize == 0 {
		return m.NumSamplesAt(i)
	}
	return m.blocksize * m.NumSamplesAt(i) / m.NumSamples()
}

// FullData reports whether no blocksize was set
func (m *DataManager) FullData() bool { return m.blocksize == 0 }

// Blocksize is the combined number of samples per block (0 in full-data mode)
func (m *DataManager) Blocksize() int { return m.blocksize }

// NumBlocksPerBurst is the effective number of blocks fetched together
func (m *DataManager) NumBlocksPerBurst() int { return m.numBlocksPerBurst }

// NumBlocks is the number of blocks per distribution in one pass
func (m *DataManager) NumBlocks() int {
	if m.blocksize == 0 {
		return 1
	}
	return m.NumSamples() / m.blocksize
}

// SetBlocksize sets the combined block size. It must divide the total sample
// count and split evenly across both distributions.
func (m *DataManager) SetBlocksize(blocksize int) error {
	n := m.NumSamples()
	if blocksize <= 0 || blocksize > n {
		return core.NewConfigurationError("blocksize %d must be in [1, %d]", blocksize, n)
	}
	if n%blocksize != 0 {
		return core.NewConfigurationError("total number of samples %d is not divisible by blocksize %d", n, blocksize)
	}
	for i := range m.fetchers {
		ni := m.NumSamplesAt(i)
		if blocksize*ni%n != 0 {
			return core.NewConfigurationError("blocksize %d cannot be split evenly for distribution %d (%d of %d samples)",
				blocksize, i, ni, n)
		}
		if blocksize*ni/n == 0 {
			return core.NewConfigurationError("blocksize %d leaves no samples of distribution %d per block", blocksize, i)
		}
	}
	m.blocksize = blocksize
	m.capBlocksPerBurst()
	return nil
}

// SetNumBlocksPerBurst sets how many blocks are fetched per burst, capped at
// the number of blocks available.
func (m *DataManager) SetNumBlocksPerBurst(k int) error {
	if k <= 0 {
		return core.NewConfigurationError("number of blocks per burst must be positive, got %d", k)
	}
	m.numBlocksPerBurst = k
	m.capBlocksPerBurst()
	return nil
}

func (m *DataManager) capBlocksPerBurst() {
	if m.blocksize == 0 {
		return
	}
	if maxBlocks := m.NumBlocks(); m.numBlocksPerBurst > maxBlocks {
		m.logger.Warn("number of blocks per burst %d exceeds the %d available blocks, capping",
			m.numBlocksPerBurst, maxBlocks)
		m.numBlocksPerBurst = maxBlocks
	}
}

// Start configures both fetchers and begins an epoch
func (m *DataManager) Start(ctx context.Context) error {
	for i, f := range m.fetchers {
		if f == nil || f.NumSamples() == 0 {
			return core.NewConfigurationError("samples for distribution %d are not set", i)
		}
	}
	for i, f := range m.fetchers {
		if m.blocksize == 0 {
			f.Details().WithFullData()
		} else {
			f.Details().WithBlocksize(m.BlocksizeAt(i)).WithNumBlocksPerBurst(m.numBlocksPerBurst)
		}
	}
	for i, f := range m.fetchers {
		if err := f.Start(ctx); err != nil {
			for _, started := range m.fetchers[:i] {
				_ = started.End()
			}
			return err
		}
	}
	return nil
}

// Next returns the next burst; an empty NextSamples marks exhaustion
func (m *DataManager) Next(ctx context.Context) (samples.NextSamples, error) {
	var parts [2][]ports.Features
	for i, f := range m.fetchers {
		if f == nil {
			return samples.NextSamples{}, core.ErrSamplesNotSet
		}
		blocks, err := f.Next(ctx)
		if err != nil {
			return samples.NextSamples{}, err
		}
		if len(blocks) == 0 {
			return samples.NextSamples{}, nil
		}
		parts[i] = blocks
	}

	count := min(len(parts[0]), len(parts[1]))
	if len(parts[0]) != len(parts[1]) {
		m.logger.Warn("unequal block counts in burst (P=%d, Q=%d), using %d", len(parts[0]), len(parts[1]), count)
	}
	out := samples.NextSamples{Blocks: make([]samples.BlockPair, count)}
	for i := 0; i < count; i++ {
		out.Blocks[i] = samples.BlockPair{P: parts[0][i], Q: parts[1][i]}
	}
	return out, nil
}

// Reset rewinds both fetchers
func (m *DataManager) Reset(ctx context.Context) error {
	for _, f := range m.fetchers {
		if f == nil {
			return core.ErrSamplesNotSet
		}
		if err := f.Reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

// End releases both fetchers
func (m *DataManager) End() error {
	var errs []error
	for _, f := range m.fetchers {
		if f != nil {
			errs = append(errs, f.End())
		}
	}
	return errors.Join(errs...)
}
