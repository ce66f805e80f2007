package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gommd/domain/samples"
	"gommd/internal"
	"gommd/internal/errors"
	"gommd/ports"
)

// Source streams sample vectors from a table, one row per vector, through a
// server-side cursor. Every selected column must hold a non-null number.
type Source struct {
	db      *sqlx.DB
	table   string
	columns []string
	orderBy string
	count   int

	rows   *sqlx.Rows
	row    int
	logger *internal.Logger
}

var _ ports.StreamingFeatures = (*Source)(nil)

// SourceOption configures a Source
type SourceOption func(*Source)

// WithOrderBy fixes the row order of every pass. Without it the database's
// natural order is used, which postgres does not guarantee to be stable.
func WithOrderBy(column string) SourceOption {
	return func(s *Source) { s.orderBy = column }
}

// WithLogger sets the logger
func WithLogger(logger *internal.Logger) SourceOption {
	return func(s *Source) { s.logger = logger }
}

// NewSource counts the table's rows. With no columns given, every column of
// the table is selected.
func NewSource(ctx context.Context, db *sqlx.DB, table string, columns []string, opts ...SourceOption) (*Source, error) {
	s := &Source{
		db:      db,
		table:   table,
		columns: append([]string(nil), columns...),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = internal.OrDefault(s.logger).Named("postgres")

	if len(s.columns) == 0 {
		cols, err := s.discoverColumns(ctx)
		if err != nil {
			return nil, err
		}
		s.columns = cols
	}
	if err := db.GetContext(ctx, &s.count, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)); err != nil {
		return nil, s.fail(err)
	}
	s.logger.Debug("table %s: %d vectors over columns %v", table, s.count, s.columns)
	return s, nil
}

func (s *Source) discoverColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(s.table)+" LIMIT 0")
	if err != nil {
		return nil, s.fail(err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, s.fail(err)
	}
	if len(cols) == 0 {
		return nil, s.fail(fmt.Errorf("table has no columns"))
	}
	return cols, nil
}

func (s *Source) NumVectors() int { return s.count }

// Dim is the number of selected columns
func (s *Source) Dim() int { return len(s.columns) }

func (s *Source) query() string {
	quoted := make([]string, len(s.columns))
	for i, c := range s.columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	q := "SELECT " + strings.Join(quoted, ", ") + " FROM " + pq.QuoteIdentifier(s.table)
	if s.orderBy != "" {
		q += " ORDER BY " + pq.QuoteIdentifier(s.orderBy)
	}
	return q
}

func (s *Source) Open(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	rows, err := s.db.QueryxContext(ctx, s.query())
	if err != nil {
		return s.fail(err)
	}
	s.rows, s.row = rows, 0
	return nil
}

func (s *Source) Read(ctx context.Context, n int) (ports.Features, error) {
	if s.rows == nil {
		return nil, s.fail(fmt.Errorf("read before open"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := len(s.columns)
	data := make([]float64, 0, n*dim)
	vec := make([]float64, dim)
	dest := make([]interface{}, dim)
	for i := range vec {
		dest[i] = &vec[i]
	}

	got := 0
	for got < n && s.rows.Next() {
		s.row++
		if err := s.rows.Scan(dest...); err != nil {
			return nil, s.fail(fmt.Errorf("row %d: %w", s.row, err))
		}
		data = append(data, vec...)
		got++
	}
	if err := s.rows.Err(); err != nil {
		return nil, s.fail(err)
	}
	if got == 0 {
		return nil, nil
	}
	return samples.NewDense(got, dim, data), nil
}

func (s *Source) Close() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	if err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Source) fail(err error) error {
	return errors.ResourceError("table "+s.table, err)
}
