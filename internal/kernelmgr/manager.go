// Package kernelmgr owns the kernels of a test and swaps a kernel for its
// dense precomputed form for the duration of one block.
package kernelmgr

import (
	"fmt"
	"sync"

	"gommd/domain/core"
	"gommd/internal"
	"gommd/ports"
)

// Manager holds kernels shared with the caller. Slot i carries the live
// kernel and, between PrecomputeKernelAt and RestoreKernelAt, a Precomputed
// substitute that is returned by KernelAt instead.
type Manager struct {
	mu      sync.RWMutex
	kernels []ports.Kernel
	cached  []*Precomputed
	logger  *internal.Logger
}

// New creates a manager over the given kernels
func New(logger *internal.Logger, kernels ...ports.Kernel) *Manager {
	m := &Manager{logger: internal.OrDefault(logger)}
	for _, k := range kernels {
		m.PushBack(k)
	}
	return m
}

// NumKernels returns the number of managed kernels
func (m *Manager) NumKernels() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kernels)
}

// PushBack appends a kernel
func (m *Manager) PushBack(k ports.Kernel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernels = append(m.kernels, k)
	m.cached = append(m.cached, nil)
}

// KernelAt returns the active representation of kernel i: the precomputed
// matrix while a block is being precomputed, the live kernel otherwise.
func (m *Manager) KernelAt(i int) (ports.Kernel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(i); err != nil {
		return nil, err
	}
	if m.cached[i] != nil {
		return m.cached[i], nil
	}
	return m.kernels[i], nil
}

// LiveKernelAt returns kernel i ignoring any precomputed substitute
func (m *Manager) LiveKernelAt(i int) (ports.Kernel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(i); err != nil {
		return nil, err
	}
	return m.kernels[i], nil
}

// SetKernelAt replaces kernel i, dropping any precomputed block of the old one
func (m *Manager) SetKernelAt(i int, k ports.Kernel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(i); err != nil {
		return err
	}
	m.kernels[i] = k
	m.cached[i] = nil
	return nil
}

// PrecomputeKernelAt materializes the dense matrix of the views kernel i is
// initialized on. Calling it twice without a restore is a state error.
func (m *Manager) PrecomputeKernelAt(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(i); err != nil {
		return err
	}
	if m.kernels[i] == nil {
		return core.ErrKernelNotSet
	}
	if m.cached[i] != nil {
		return core.NewStateError("kernel %d is already precomputed", i)
	}
	km, err := m.kernels[i].Matrix()
	if err != nil {
		return fmt.Errorf("precompute kernel %d (%s): %w", i, m.kernels[i].Name(), err)
	}
	r, c := km.Dims()
	m.cached[i] = &Precomputed{name: m.kernels[i].Name(), km: km}
	m.logger.Trace("precomputed kernel %d (%s): %dx%d", i, m.kernels[i].Name(), r, c)
	return nil
}

// RestoreKernelAt frees the precomputed matrix of kernel i; without a prior
// precompute it does nothing.
func (m *Manager) RestoreKernelAt(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.cached) || m.cached[i] == nil {
		return
	}
	m.cached[i].Cleanup()
	m.cached[i] = nil
}

// IsPrecomputed reports whether kernel i currently has a dense substitute
func (m *Manager) IsPrecomputed(i int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return i >= 0 && i < len(m.cached) && m.cached[i] != nil
}

// Validate checks that at least one kernel is set
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.kernels) == 0 {
		return core.ErrKernelNotSet
	}
	for i, k := range m.kernels {
		if k == nil {
			return fmt.Errorf("kernel %d: %w", i, core.ErrKernelNotSet)
		}
	}
	return nil
}

func (m *Manager) check(i int) error {
	if i < 0 || i >= len(m.kernels) {
		return core.NewConfigurationError("kernel index %d out of range [0, %d)", i, len(m.kernels))
	}
	return nil
}
