package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"gommd/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run store schema. Statements stick to the
// subset of SQL shared by postgres and sqlite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order; each step is idempotent
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create mmd_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mmd_runs (
			run_id VARCHAR(64) PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL,
			statistic VARCHAR(32) NOT NULL,
			null_method VARCHAR(32) NOT NULL,
			kernels TEXT NOT NULL,
			blocksize INTEGER NOT NULL,
			num_blocks_per_burst INTEGER NOT NULL,
			num_null_samples INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			null_hash VARCHAR(64) NOT NULL,
			decision VARCHAR(16) NOT NULL,
			reason VARCHAR(40) NOT NULL,
			statistic_value DOUBLE PRECISION NOT NULL,
			p_value DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			null_summary TEXT NOT NULL,
			skipped_bursts INTEGER NOT NULL,
			total_bursts INTEGER NOT NULL,
			created_unix_ns BIGINT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_mmd_runs_fingerprint ON mmd_runs(fingerprint, created_unix_ns)
	`)
	return err
}
