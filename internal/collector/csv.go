package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/3B132016/tws/internal/model"
)

// CSVLoader reads <Dir>/<securityID>.csv files.
type CSVLoader struct {
	Dir     string
	Columns Columns
}

// NewCSVLoader creates a loader rooted at dir.
func NewCSVLoader(dir string, cols Columns) *CSVLoader {
	return &CSVLoader{Dir: dir, Columns: cols}
}

func (l *CSVLoader) Name() string { return "csv" }

func (l *CSVLoader) Load(_ context.Context, securityID string) (*model.Series, error) {
	path := filepath.Join(l.Dir, securityID+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSecurityNotFound, securityID)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, _, err := l.Read(securityID, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return series, nil
}

// Read parses a CSV export with a header row.
func (l *CSVLoader) Read(securityID string, r io.Reader) (*model.Series, LoadStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("read header: %w", err)
	}
	idx, err := resolveColumns(header, l.Columns)
	if err != nil {
		return nil, LoadStats{}, err
	}

	var rows []rawRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, LoadStats{}, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, rec)
	}

	series, stats := buildSeries(securityID, rows, idx, l.Columns.DateLayouts)
	return series, stats, nil
}
