package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gommd/domain/core"
	"gommd/domain/run"
	"gommd/domain/verdict"
	"gommd/internal/errors"
	"gommd/ports"
)

// runRepository stores run records in the mmd_runs table
type runRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a run store over db; the schema comes from migration.Runner
func NewRunRepository(db *sqlx.DB) ports.RunStore {
	return &runRepository{db: db}
}

type runRow struct {
	RunID             string  `db:"run_id"`
	Fingerprint       string  `db:"fingerprint"`
	Statistic         string  `db:"statistic"`
	NullMethod        string  `db:"null_method"`
	Kernels           string  `db:"kernels"`
	Blocksize         int     `db:"blocksize"`
	NumBlocksPerBurst int     `db:"num_blocks_per_burst"`
	NumNullSamples    int     `db:"num_null_samples"`
	Seed              int64   `db:"seed"`
	NullHash          string  `db:"null_hash"`
	Decision          string  `db:"decision"`
	Reason            string  `db:"reason"`
	StatisticValue    float64 `db:"statistic_value"`
	PValue            float64 `db:"p_value"`
	Threshold         float64 `db:"threshold"`
	Alpha             float64 `db:"alpha"`
	NullSummary       string  `db:"null_summary"`
	SkippedBursts     int     `db:"skipped_bursts"`
	TotalBursts       int     `db:"total_bursts"`
	CreatedUnixNs     int64   `db:"created_unix_ns"`
}

const runColumns = `run_id, fingerprint, statistic, null_method, kernels, blocksize,
	num_blocks_per_burst, num_null_samples, seed, null_hash, decision, reason,
	statistic_value, p_value, threshold, alpha, null_summary, skipped_bursts,
	total_bursts, created_unix_ns`

// Save inserts a new run record
func (r *runRepository) Save(ctx context.Context, record *run.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	row, err := toRow(record)
	if err != nil {
		return err
	}

	query := `INSERT INTO mmd_runs (` + runColumns + `) VALUES (
		:run_id, :fingerprint, :statistic, :null_method, :kernels, :blocksize,
		:num_blocks_per_burst, :num_null_samples, :seed, :null_hash, :decision, :reason,
		:statistic_value, :p_value, :threshold, :alpha, :null_summary, :skipped_bursts,
		:total_bursts, :created_unix_ns
	)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrapf(err, "failed to save run %s", record.RunID())
	}
	return nil
}

// Get retrieves a run by its ID
func (r *runRepository) Get(ctx context.Context, id core.RunID) (*run.Record, error) {
	var row runRow
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM mmd_runs WHERE run_id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		return nil, errors.Wrapf(err, "failed to get run %s", id)
	}
	return fromRow(row)
}

// FindByFingerprint returns the runs sharing a parameter fingerprint, oldest first
func (r *runRepository) FindByFingerprint(ctx context.Context, fingerprint core.Hash) ([]*run.Record, error) {
	var rows []runRow
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM mmd_runs
		WHERE fingerprint = ? ORDER BY created_unix_ns, run_id`)
	if err := r.db.SelectContext(ctx, &rows, query, fingerprint.String()); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}

	records := make([]*run.Record, 0, len(rows))
	for _, row := range rows {
		record, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func toRow(record *run.Record) (runRow, error) {
	fp := record.Manifest.Fingerprint
	kernels, err := json.Marshal(fp.Kernels)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to marshal kernels: %w", err)
	}
	summary, err := json.Marshal(record.NullSummary)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to marshal null summary: %w", err)
	}
	return runRow{
		RunID:             record.RunID().String(),
		Fingerprint:       fp.Fingerprint.String(),
		Statistic:         fp.Statistic,
		NullMethod:        fp.NullMethod,
		Kernels:           string(kernels),
		Blocksize:         fp.Blocksize,
		NumBlocksPerBurst: fp.NumBlocksPerBurst,
		NumNullSamples:    fp.NumNullSamples,
		Seed:              fp.Seed,
		NullHash:          record.Manifest.NullHash.String(),
		Decision:          string(record.Verdict.Decision),
		Reason:            string(record.Verdict.Reason),
		StatisticValue:    record.Verdict.Statistic,
		PValue:            record.Verdict.PValue,
		Threshold:         record.Verdict.Threshold,
		Alpha:             record.Verdict.Alpha,
		NullSummary:       string(summary),
		SkippedBursts:     record.SkippedBursts,
		TotalBursts:       record.TotalBursts,
		CreatedUnixNs:     record.Manifest.CreatedAt.Time().UnixNano(),
	}, nil
}

func fromRow(row runRow) (*run.Record, error) {
	var kernels []string
	if err := json.Unmarshal([]byte(row.Kernels), &kernels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kernels of run %s: %w", row.RunID, err)
	}
	var summary verdict.NullDistributionSummary
	if err := json.Unmarshal([]byte(row.NullSummary), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal null summary of run %s: %w", row.RunID, err)
	}

	fp := run.NewRunFingerprint(row.Statistic, row.NullMethod, kernels,
		row.Blocksize, row.NumBlocksPerBurst, row.NumNullSamples, row.Seed)
	if fp.Fingerprint.String() != row.Fingerprint {
		return nil, core.NewConfigurationError("run %s: stored fingerprint does not match its parameters", row.RunID)
	}

	return &run.Record{
		Manifest: run.Manifest{
			RunID:       core.RunID(row.RunID),
			Fingerprint: fp,
			NullHash:    core.Hash(row.NullHash),
			CreatedAt:   core.NewTimestamp(time.Unix(0, row.CreatedUnixNs)),
		},
		Verdict: verdict.Verdict{
			Decision:  verdict.Decision(row.Decision),
			Reason:    verdict.Reason(row.Reason),
			Statistic: row.StatisticValue,
			PValue:    row.PValue,
			Threshold: row.Threshold,
			Alpha:     row.Alpha,
		},
		NullSummary:   summary,
		SkippedBursts: row.SkippedBursts,
		TotalBursts:   row.TotalBursts,
	}, nil
}
