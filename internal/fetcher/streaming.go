package fetcher

import (
	"context"

	"gommd/domain/blockwise"
	"gommd/domain/core"
	"gommd/domain/samples"
	"gommd/internal"
	"gommd/ports"
)

// Streaming reads one burst per Next from an incremental source.
// Reset closes and re-opens the source, so every pass re-parses from the start.
type Streaming struct {
	source  ports.StreamingFeatures
	name    string
	details *blockwise.Details
	open    bool
	logger  *internal.Logger
}

var _ Fetcher = (*Streaming)(nil)

// NewStreaming creates a fetcher over an incremental source, in full-data mode.
// The name identifies the source in errors.
func NewStreaming(name string, source ports.StreamingFeatures, logger *internal.Logger) *Streaming {
	return &Streaming{
		source:  source,
		name:    name,
		details: blockwise.New(),
		logger:  internal.OrDefault(logger),
	}
}

func (f *Streaming) NumSamples() int             { return f.source.NumVectors() }
func (f *Streaming) Details() *blockwise.Details { return f.details }

func (f *Streaming) Start(ctx context.Context) error {
	if err := f.details.Validate(); err != nil {
		return err
	}
	f.details.Resolve(f.source.NumVectors())
	f.details.Rewind()
	if err := f.source.Open(ctx); err != nil {
		return core.NewResourceError(f.name, err)
	}
	f.open = true
	f.logger.Debug("streaming fetcher %s opened: %d samples, blocksize %d",
		f.name, f.source.NumVectors(), f.details.Blocksize())
	return nil
}

func (f *Streaming) Next(ctx context.Context) ([]ports.Features, error) {
	if !f.open {
		return nil, core.NewStateError("fetcher %s: Next called before Start", f.name)
	}
	if f.details.Exhausted() {
		return nil, nil
	}
	bs := f.details.Blocksize()
	remaining := f.details.TotalNumBlocks() - f.details.NextBlockIndex()
	want := min(f.details.MaxSamplesPerBurst(), remaining*bs)

	feats, err := f.source.Read(ctx, want)
	if err != nil {
		return nil, core.NewResourceError(f.name, err)
	}
	if feats == nil || feats.NumVectors() < bs {
		// source ended early; the trailing partial block is dropped
		return nil, nil
	}

	sliceable, ok := feats.(ports.SliceableFeatures)
	if !ok {
		dense, err := samples.Merge(feats)
		if err != nil {
			return nil, core.NewResourceError(f.name, err)
		}
		sliceable = dense
	}

	count := feats.NumVectors() / bs
	blocks := make([]ports.Features, count)
	for i := range blocks {
		blocks[i] = sliceable.Slice(i*bs, (i+1)*bs)
	}
	f.details.Advance(count)
	f.details.SetTotalNumBlocks(f.details.NextBlockIndex())
	return blocks, nil
}

func (f *Streaming) Reset(ctx context.Context) error {
	if !f.open {
		return core.NewStateError("fetcher %s: Reset called before Start", f.name)
	}
	if err := f.source.Close(); err != nil {
		return core.NewResourceError(f.name, err)
	}
	f.open = false
	if err := f.source.Open(ctx); err != nil {
		return core.NewResourceError(f.name, err)
	}
	f.open = true
	f.details.Rewind()
	return nil
}

func (f *Streaming) End() error {
	if !f.open {
		return nil
	}
	f.open = false
	if err := f.source.Close(); err != nil {
		return core.NewResourceError(f.name, err)
	}
	return nil
}
