package run

import (
	"gommd/domain/core"
	"gommd/domain/verdict"
)

// Record is the persisted outcome of one test run
type Record struct {
	Manifest      Manifest                        `json:"manifest"`
	Verdict       verdict.Verdict                 `json:"verdict"`
	NullSummary   verdict.NullDistributionSummary `json:"null_summary"`
	SkippedBursts int                             `json:"skipped_bursts"`
	TotalBursts   int                             `json:"total_bursts"`
}

// RunID returns the run's identifier
func (r *Record) RunID() core.RunID {
	return r.Manifest.RunID
}

// Validate checks the record can be stored
func (r *Record) Validate() error {
	if err := r.Manifest.Validate(); err != nil {
		return err
	}
	if r.Verdict.Decision != verdict.DecisionReject && r.Verdict.Decision != verdict.DecisionAccept {
		return core.NewConfigurationError("run record: unknown decision %q", r.Verdict.Decision)
	}
	return nil
}
