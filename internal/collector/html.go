package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/3B132016/tws/internal/model"
)

// HTMLLoader reads broker exports saved as HTML tables, including the ".xls"
// downloads that are HTML underneath.
type HTMLLoader struct {
	Dir     string
	Ext     string
	Columns Columns
}

// NewHTMLLoader creates a loader for <dir>/<securityID><ext>.
func NewHTMLLoader(dir, ext string, cols Columns) *HTMLLoader {
	if ext == "" {
		ext = ".html"
	}
	return &HTMLLoader{Dir: dir, Ext: ext, Columns: cols}
}

func (l *HTMLLoader) Name() string { return "html" }

func (l *HTMLLoader) Load(_ context.Context, securityID string) (*model.Series, error) {
	path := filepath.Join(l.Dir, securityID+l.Ext)
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

// Read parses the first table that has the configured date and close headers.
func (l *HTMLLoader) Read(securityID string, r io.Reader) (*model.Series, LoadStats, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		idx     columnIndex
		rows    []rawRow
		found   bool
		lastErr error = errors.New("no table found")
	)

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var header []string
		var body []rawRow
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := rowCells(tr)
			if len(cells) == 0 {
				return
			}
			if header == nil {
				header = cells
				return
			}
			body = append(body, cells)
		})
		if header == nil {
			return true
		}
		ci, err := resolveColumns(header, l.Columns)
		if err != nil {
			lastErr = err
			return true
		}
		idx, rows, found = ci, body, true
		return false
	})
	if !found {
		return nil, LoadStats{}, lastErr
	}

	series, stats := buildSeries(securityID, rows, idx, l.Columns.DateLayouts)
	return series, stats, nil
}

func rowCells(tr *goquery.Selection) rawRow {
	var cells rawRow
	tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(c.Text()))
	})
	return cells
}
