package samples

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectors(f interface {
	NumVectors() int
	Vector(int) []float64
}) [][]float64 {
	out := make([][]float64, f.NumVectors())
	for i := range out {
		out[i] = append([]float64(nil), f.Vector(i)...)
	}
	return out
}

func TestDense_SliceSharesStorage(t *testing.T) {
	d, err := FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}})
	require.NoError(t, err)

	s := d.Slice(1, 3)
	assert.Equal(t, 2, s.NumVectors())
	assert.Equal(t, 2, s.Dim())
	if diff := cmp.Diff([][]float64{{3, 4}, {5, 6}}, vectors(s)); diff != "" {
		t.Errorf("slice mismatch (-want +got):\n%s", diff)
	}

	d.Matrix().Set(1, 0, 30)
	assert.Equal(t, 30.0, s.Vector(0)[0])

	empty := d.Slice(2, 2)
	assert.Equal(t, 0, empty.NumVectors())
}

func TestFromRows_RejectsRaggedInput(t *testing.T) {
	_, err := FromRows([][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	p, _ := FromRows([][]float64{{1}, {2}})
	q, _ := FromRows([][]float64{{10}, {20}, {30}})

	merged, err := Merge(p, q)
	require.NoError(t, err)
	if diff := cmp.Diff([][]float64{{1}, {2}, {10}, {20}, {30}}, vectors(merged)); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}

	wide, _ := FromRows([][]float64{{1, 2}})
	_, err = Merge(p, wide)
	assert.Error(t, err)
}

func TestNextSamples_Blocks(t *testing.T) {
	p0, _ := FromRows([][]float64{{1}, {2}})
	q0, _ := FromRows([][]float64{{3}, {4}, {5}})

	burst := NextSamples{Blocks: []BlockPair{{P: p0, Q: q0}}}
	assert.False(t, burst.Empty())
	assert.Equal(t, 1, burst.NumBlocks())
	assert.Equal(t, 2, burst.Blocks[0].Nx())
	assert.Equal(t, 3, burst.Blocks[0].Ny())

	merged, err := burst.Blocks[0].Merged()
	require.NoError(t, err)
	assert.Equal(t, 5, merged.NumVectors())
	assert.Equal(t, []float64{3}, merged.Vector(2))

	assert.True(t, NextSamples{}.Empty())
}
