package app

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gommd/adapters/excel"
	"gommd/adapters/postgres"
	"gommd/domain/core"
	"gommd/internal"
	"gommd/internal/config"
	"gommd/internal/errors"
	"gommd/internal/fetcher"
)

// Sources are the two streaming fetchers built from configuration
type Sources struct {
	P  fetcher.Fetcher
	Q  fetcher.Fetcher
	DB *sqlx.DB
}

// Close releases the database handle, if any
func (s *Sources) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenSources builds streaming fetchers for P and Q from an excel workbook
// when one is configured, otherwise from two database tables.
func OpenSources(ctx context.Context, cfg config.SourceConfig, logger *internal.Logger) (*Sources, error) {
	logger = internal.OrDefault(logger)
	switch {
	case cfg.ExcelFile != "":
		p, err := excel.NewSource(cfg.ExcelFile, cfg.ExcelSheetP, logger)
		if err != nil {
			return nil, err
		}
		q, err := excel.NewSource(cfg.ExcelFile, cfg.ExcelSheetQ, logger)
		if err != nil {
			return nil, err
		}
		if p.Dim() != q.Dim() {
			return nil, core.NewConfigurationError("sheets %s and %s have dimensions %d and %d",
				cfg.ExcelSheetP, cfg.ExcelSheetQ, p.Dim(), q.Dim())
		}
		return &Sources{
			P: fetcher.NewStreaming(cfg.ExcelSheetP, p, logger),
			Q: fetcher.NewStreaming(cfg.ExcelSheetQ, q, logger),
		}, nil

	case cfg.DatabaseURL != "":
		if cfg.TableP == "" || cfg.TableQ == "" {
			return nil, errors.WithCode(errors.CodeConfigInvalid,
				core.NewConfigurationError("table_p and table_q are required with a database source"))
		}
		db, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.ResourceError("database", err)
		}
		var opts []postgres.SourceOption
		opts = append(opts, postgres.WithLogger(logger))
		if cfg.OrderBy != "" {
			opts = append(opts, postgres.WithOrderBy(cfg.OrderBy))
		}
		p, err := postgres.NewSource(ctx, db, cfg.TableP, cfg.Columns, opts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		q, err := postgres.NewSource(ctx, db, cfg.TableQ, cfg.Columns, opts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		if p.Dim() != q.Dim() {
			db.Close()
			return nil, core.NewConfigurationError("tables %s and %s have dimensions %d and %d",
				cfg.TableP, cfg.TableQ, p.Dim(), q.Dim())
		}
		return &Sources{
			P:  fetcher.NewStreaming(cfg.TableP, p, logger),
			Q:  fetcher.NewStreaming(cfg.TableQ, q, logger),
			DB: db,
		}, nil
	}
	return nil, errors.WithCode(errors.CodeConfigInvalid,
		core.NewConfigurationError("no sample source configured: set excel_file or database_url"))
}
