// Package testkit provides kernels, sample generators and in-memory sources
// for tests and examples.
package testkit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"gommd/adapters/rng"
	"gommd/domain/samples"
	"gommd/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	rng *rng.Adapter
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{rng: rng.New()}
}

// RNGAdapter returns the deterministic stream provider
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return t.rng
}

// GaussianSamples draws n vectors from N(shift, I_dim)
func GaussianSamples(r *rand.Rand, n, dim int, shift float64) *samples.Dense {
	data := make([]float64, n*dim)
	for i := range data {
		data[i] = r.NormFloat64() + shift
	}
	return samples.NewDense(n, dim, data)
}

// SamplePair draws P ~ N(0, I) and Q ~ N(shift, I) from one seed
func SamplePair(seed int64, m, n, dim int, shift float64) (*samples.Dense, *samples.Dense) {
	r := rand.New(rand.NewSource(seed))
	return GaussianSamples(r, m, dim, 0), GaussianSamples(r, n, dim, shift)
}

// pairKernel holds the bound views and evaluates a pointwise similarity
type pairKernel struct {
	mu          sync.Mutex
	left, right ports.Features
	eval        func(a, b []float64) float64
	calls       int
}

func (k *pairKernel) Init(left, right ports.Features) error {
	if left == nil || right == nil {
		return errors.New("kernel init: nil features")
	}
	if left.NumVectors() > 0 && right.NumVectors() > 0 && left.Dim() != right.Dim() {
		return errors.New("kernel init: dimension mismatch")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.left, k.right = left, right
	return nil
}

func (k *pairKernel) Matrix() (*mat.Dense, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.left == nil || k.right == nil {
		return nil, errors.New("kernel not initialized")
	}
	k.calls++
	r, c := k.left.NumVectors(), k.right.NumVectors()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		a := k.left.Vector(i)
		for j := 0; j < c; j++ {
			out.Set(i, j, k.eval(a, k.right.Vector(j)))
		}
	}
	return out, nil
}

func (k *pairKernel) Cleanup() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.left, k.right = nil, nil
}

// MatrixCalls reports how many dense matrices were built since creation
func (k *pairKernel) MatrixCalls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// GaussianKernel is exp(-|a-b|^2 / width)
type GaussianKernel struct {
	pairKernel
	Width float64
}

// NewGaussianKernel returns a Gaussian kernel with the given width
func NewGaussianKernel(width float64) *GaussianKernel {
	g := &GaussianKernel{Width: width}
	g.eval = func(a, b []float64) float64 {
		var d float64
		for i := range a {
			diff := a[i] - b[i]
			d += diff * diff
		}
		return math.Exp(-d / g.Width)
	}
	return g
}

func (g *GaussianKernel) Name() string { return "gaussian" }

// LinearKernel is the dot product
type LinearKernel struct {
	pairKernel
}

func NewLinearKernel() *LinearKernel {
	l := &LinearKernel{}
	l.eval = func(a, b []float64) float64 {
		var s float64
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	return l
}

func (l *LinearKernel) Name() string { return "linear" }

// MemorySource replays an in-memory Dense through the streaming interface
// and counts the calls made on it.
type MemorySource struct {
	data    *samples.Dense
	pos     int
	open    bool
	OpenErr error
	ReadErr error

	Opens  int
	Reads  int
	Closes int
}

// NewMemorySource wraps data as a restartable stream
func NewMemorySource(data *samples.Dense) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) NumVectors() int { return s.data.NumVectors() }

func (s *MemorySource) Open(ctx context.Context) error {
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.Opens++
	s.pos = 0
	s.open = true
	return nil
}

func (s *MemorySource) Read(ctx context.Context, n int) (ports.Features, error) {
	if !s.open {
		return nil, errors.New("source not open")
	}
	s.Reads++
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	if s.pos >= s.data.NumVectors() {
		return nil, nil
	}
	end := min(s.pos+n, s.data.NumVectors())
	// copy so callers never alias the backing data
	out, err := samples.Merge(s.data.Slice(s.pos, end))
	if err != nil {
		return nil, err
	}
	s.pos = end
	return out, nil
}

func (s *MemorySource) Close() error {
	if s.open {
		s.Closes++
	}
	s.open = false
	return nil
}
