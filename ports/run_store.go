package ports

import (
	"context"

	"gommd/domain/core"
	"gommd/domain/run"
)

// RunStore persists finished test runs so a later run can be checked as a replay
type RunStore interface {
	Save(ctx context.Context, record *run.Record) error
	Get(ctx context.Context, id core.RunID) (*run.Record, error)
	// FindByFingerprint returns every run with the given parameters, oldest first
	FindByFingerprint(ctx context.Context, fingerprint core.Hash) ([]*run.Record, error)
}
