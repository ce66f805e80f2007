// Package computation runs estimator jobs against the kernel-matrix slots of
// a burst on a selectable backend.
//
// A burst starts when slots or jobs are set after the previous Compute and
// ends with the next Compute. Results come back in job submission order, one
// vector per job with one scalar per populated slot.
package computation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"gommd/domain/core"
	"gommd/internal"
	"gommd/internal/metrics"
)

// Job maps one kernel-matrix block to a scalar
type Job func(k mat.Matrix) (float64, error)

// Backend executes every job against every slot
type Backend interface {
	Name() string
	Run(ctx context.Context, jobs []Job, slots []mat.Matrix) ([][]float64, error)
}

// Manager queues jobs, holds the slots of the current burst and hands out results.
// It is driven by one goroutine; the lock only guards against misuse.
type Manager struct {
	mu      sync.Mutex
	slots   []mat.Matrix
	jobs    []Job
	results [][]float64
	pending bool

	backend Backend
	workers int
	metrics *metrics.Metrics
	logger  *internal.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithWorkers bounds the parallel backend's concurrency
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMetrics records job counts and durations
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(l *internal.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a manager on the CPU backend
func NewManager(opts ...Option) *Manager {
	m := &Manager{workers: defaultWorkers()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = internal.OrDefault(m.logger)
	m.backend = cpuBackend{}
	return m
}

// NumData sizes the slot storage for n kernel-matrix blocks
func (m *Manager) NumData(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cap(m.slots) >= n {
		m.slots = m.slots[:n]
		clear(m.slots)
	} else {
		m.slots = make([]mat.Matrix, n)
	}
	m.pending = true
}

// SetData fills slot i
func (m *Manager) SetData(i int, k mat.Matrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return core.NewStateError("slot %d out of range [0, %d); call NumData first", i, len(m.slots))
	}
	m.slots[i] = k
	m.pending = true
	return nil
}

// Data returns slot i, or nil if it is out of range or empty
func (m *Manager) Data(i int) mat.Matrix {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return nil
	}
	return m.slots[i]
}

// EnqueueJob appends a job; jobs stay queued for every burst until Done
func (m *Manager) EnqueueJob(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	m.pending = true
}

// NumJobs returns the number of queued jobs
func (m *Manager) NumJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Compute runs every queued job against every populated slot. Unconsumed
// results of the previous burst are discarded. On error no results are
// available and the burst should be treated as invalid.
func (m *Manager) Compute(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results = m.results[:0]
	m.pending = false
	if len(m.jobs) == 0 {
		return core.NewStateError("compute called with no jobs enqueued")
	}

	populated := make([]mat.Matrix, 0, len(m.slots))
	for _, s := range m.slots {
		if s != nil {
			populated = append(populated, s)
		}
	}

	start := time.Now()
	results, err := m.backend.Run(ctx, m.jobs, populated)
	elapsed := time.Since(start)
	m.metrics.Compute(m.backend.Name(), len(m.jobs)*len(populated), err != nil, elapsed)
	if err != nil {
		return fmt.Errorf("%s backend: %w", m.backend.Name(), err)
	}
	m.logger.Trace("computed %d jobs on %d slots (%s) in %v", len(m.jobs), len(populated), m.backend.Name(), elapsed)
	m.results = results
	return nil
}

// NextResult pops the result vector of the next job in submission order
func (m *Manager) NextResult() ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		return nil, core.ErrNoPendingResult
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

// UseCPU selects direct sequential execution
func (m *Manager) UseCPU() error {
	return m.use(cpuBackend{})
}

// UseGPU selects the staged parallel backend
func (m *Manager) UseGPU() error {
	return m.use(&gpuBackend{workers: m.workers})
}

// Backend returns the name of the active backend
func (m *Manager) Backend() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Name()
}

func (m *Manager) use(b Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return core.ErrMidBurstSwitch
	}
	m.backend = b
	return nil
}

// Done clears jobs, slots and results
func (m *Manager) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = nil
	m.slots = nil
	m.results = nil
	m.pending = false
}

// call runs one job and turns a panic into an error
func call(job Job, k mat.Matrix) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(k)
}
