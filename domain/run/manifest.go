package run

import (
	"gommd/domain/core"
)

// Manifest records one test run: its identity, determinism parameters and a
// hash of the null samples it produced, for replay checks.
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	Fingerprint RunFingerprint `json:"fingerprint"`
	NullHash    core.Hash      `json:"null_hash"`
	CreatedAt   core.Timestamp `json:"created_at"`
}

// NewManifest creates a manifest for a finished run
func NewManifest(runID core.RunID, fingerprint RunFingerprint, null []float64) *Manifest {
	return &Manifest{
		RunID:       runID,
		Fingerprint: fingerprint,
		NullHash:    core.HashFloats(null),
		CreatedAt:   core.Now(),
	}
}

// Replays reports whether other reproduces this run: same parameters, same null samples
func (m *Manifest) Replays(other *Manifest) bool {
	return m.Fingerprint.Fingerprint.Equals(other.Fingerprint.Fingerprint) && m.NullHash.Equals(other.NullHash)
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewConfigurationError("run manifest: run_id cannot be empty")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewConfigurationError("run manifest: fingerprint cannot be empty")
	}
	if m.NullHash.IsEmpty() {
		return core.NewConfigurationError("run manifest: null_hash cannot be empty")
	}
	return nil
}
