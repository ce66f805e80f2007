// Package excel streams sample vectors from a worksheet, one row per vector.
package excel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"gommd/domain/core"
	"gommd/domain/samples"
	"gommd/internal"
	"gommd/internal/errors"
	"gommd/ports"
)

// Source reads a sheet through excelize's row iterator so a pass never holds
// more than one burst of parsed rows. A first row whose leading cell is not
// numeric is treated as a header and skipped.
type Source struct {
	path   string
	sheet  string
	header bool
	count  int
	dim    int

	file   *excelize.File
	rows   *excelize.Rows
	row    int
	logger *internal.Logger
}

var _ ports.StreamingFeatures = (*Source)(nil)

// NewSource scans the sheet once to count vectors and fix their dimension
func NewSource(path, sheet string, logger *internal.Logger) (*Source, error) {
	s := &Source{
		path:   path,
		sheet:  sheet,
		logger: internal.OrDefault(logger).Named("excel"),
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	s.logger.Debug("sheet %s!%s: %d vectors of dimension %d", path, sheet, s.count, s.dim)
	return s, nil
}

func (s *Source) NumVectors() int { return s.count }

// Dim is the vector length found by the initial scan
func (s *Source) Dim() int { return s.dim }

func (s *Source) scan() error {
	f, rows, err := s.openRows()
	if err != nil {
		return err
	}
	defer f.Close()
	defer rows.Close()

	line := 0
	for rows.Next() {
		line++
		cols, err := rows.Columns()
		if err != nil {
			return s.fail(err)
		}
		if len(cols) == 0 {
			continue
		}
		if line == 1 && !numeric(cols[0]) {
			s.header = true
			continue
		}
		if s.dim == 0 {
			s.dim = len(cols)
		}
		s.count++
	}
	if err := rows.Error(); err != nil {
		return s.fail(err)
	}
	if s.count == 0 {
		return errors.ResourceError(s.name(), core.NewConfigurationError("sheet %s has no sample rows", s.sheet))
	}
	return nil
}

func (s *Source) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	f, rows, err := s.openRows()
	if err != nil {
		return err
	}
	s.file, s.rows, s.row = f, rows, 0
	if s.header && rows.Next() {
		s.row++
	}
	return nil
}

func (s *Source) Read(ctx context.Context, n int) (ports.Features, error) {
	if s.rows == nil {
		return nil, errors.ResourceError(s.name(), fmt.Errorf("read before open"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := make([]float64, 0, n*s.dim)
	got := 0
	for got < n && s.rows.Next() {
		s.row++
		cols, err := s.rows.Columns()
		if err != nil {
			return nil, s.fail(err)
		}
		if len(cols) == 0 {
			continue
		}
		vec, err := s.parse(cols)
		if err != nil {
			return nil, err
		}
		data = append(data, vec...)
		got++
	}
	if err := s.rows.Error(); err != nil {
		return nil, s.fail(err)
	}
	if got == 0 {
		return nil, nil
	}
	return samples.NewDense(got, s.dim, data), nil
}

func (s *Source) Close() error {
	var firstErr error
	if s.rows != nil {
		firstErr = s.rows.Close()
		s.rows = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	if firstErr != nil {
		return s.fail(firstErr)
	}
	return nil
}

func (s *Source) openRows() (*excelize.File, *excelize.Rows, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, nil, s.fail(err)
	}
	rows, err := f.Rows(s.sheet)
	if err != nil {
		f.Close()
		return nil, nil, s.fail(err)
	}
	return f, rows, nil
}

func (s *Source) parse(cols []string) ([]float64, error) {
	// excelize trims trailing blank cells, so a short row means missing values
	if len(cols) != s.dim {
		return nil, errors.ResourceError(s.name(),
			fmt.Errorf("row %d has %d cells, expected %d", s.row, len(cols), s.dim))
	}
	vec := make([]float64, s.dim)
	for j, cell := range cols {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, errors.ResourceError(s.name(),
				fmt.Errorf("row %d column %d: %w", s.row, j+1, err))
		}
		vec[j] = v
	}
	return vec, nil
}

func (s *Source) fail(err error) error {
	return errors.ResourceError(s.name(), err)
}

func (s *Source) name() string {
	return s.path + "!" + s.sheet
}

func numeric(cell string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	return err == nil
}
