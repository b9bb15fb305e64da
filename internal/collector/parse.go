package collector

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/3B132016/tws/internal/model"
)

// rawRow is one unparsed table row.
type rawRow []string

// LoadStats describes what happened to the rows of one table.
type LoadStats struct {
	Rows        int
	Kept        int
	Dropped     int
	MissingFlow int
}

type columnIndex struct {
	date, close, flow int
}

func resolveColumns(header []string, cols Columns) (columnIndex, error) {
	idx := columnIndex{date: -1, close: -1, flow: cols.FlowIndex}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case h == cols.Date:
			idx.date = i
		case h == cols.Close:
			idx.close = i
		case cols.FlowName != "" && h == cols.FlowName:
			idx.flow = i
		}
	}
	if idx.date < 0 {
		return idx, fmt.Errorf("date column %q not found", cols.Date)
	}
	if idx.close < 0 {
		return idx, fmt.Errorf("close column %q not found", cols.Close)
	}
	if idx.flow < 0 || idx.flow >= len(header) {
		return idx, fmt.Errorf("flow column %d out of range (%d columns)", idx.flow, len(header))
	}
	return idx, nil
}

// parseNumber accepts thousands separators and explicit plus signs.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "--" || s == "-" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	return v, nil
}

// parseDate tries the configured layouts, then the ROC calendar form 113/01/02.
func parseDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	parts := strings.Split(s, "/")
	if len(parts) == 3 && len(parts[0]) <= 3 {
		y, errY := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		d, errD := strconv.Atoi(parts[2])
		if errY == nil && errM == nil && errD == nil && y > 0 && m >= 1 && m <= 12 && d >= 1 && d <= 31 {
			return time.Date(y+1911, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// buildSeries converts raw rows into a series. Rows with an unparsable date, a
// missing or non-positive close, or a date not after the previous kept row are
// dropped. An unparsable flow is kept as NaN. Tables listed newest first are
// reversed before checking the order.
func buildSeries(securityID string, rows []rawRow, idx columnIndex, layouts []string) (*model.Series, LoadStats) {
	type parsed struct {
		row  rawRow
		date time.Time
	}
	stats := LoadStats{Rows: len(rows)}

	dated := make([]parsed, 0, len(rows))
	for _, r := range rows {
		if idx.date >= len(r) {
			stats.Dropped++
			continue
		}
		t, err := parseDate(r[idx.date], layouts)
		if err != nil {
			stats.Dropped++
			continue
		}
		dated = append(dated, parsed{row: r, date: t})
	}
	if len(dated) > 1 && dated[0].date.After(dated[len(dated)-1].date) {
		for i, j := 0, len(dated)-1; i < j; i, j = i+1, j-1 {
			dated[i], dated[j] = dated[j], dated[i]
		}
	}

	series := &model.Series{SecurityID: securityID, Records: make([]model.DailyRecord, 0, len(dated))}
	var last time.Time
	for _, p := range dated {
		if idx.close >= len(p.row) {
			stats.Dropped++
			continue
		}
		closePrice, err := parseNumber(p.row[idx.close])
		if err != nil || closePrice <= 0 {
			stats.Dropped++
			continue
		}
		if len(series.Records) > 0 && !p.date.After(last) {
			stats.Dropped++
			continue
		}

		flow := math.NaN()
		if idx.flow < len(p.row) {
			if v, err := parseNumber(p.row[idx.flow]); err == nil {
				flow = v
			}
		}
		if math.IsNaN(flow) {
			stats.MissingFlow++
		}

		series.Records = append(series.Records, model.DailyRecord{Time: p.date, Close: closePrice, Flow: flow})
		last = p.date
	}

	stats.Kept = len(series.Records)
	series.Dropped = stats.Dropped
	return series, stats
}
