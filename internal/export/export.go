package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/model"
)

// File names written into the export directory.
const (
	OptimizedParametersFile = "optimized_parameters.csv"
	WinRatesFile            = "win_rates.csv"
	EventsFile              = "events.csv"
	ETFStatusFile           = "etf_status.csv"
)

// Exporter writes analysis results as CSV files.
type Exporter struct {
	dir string
	log zerolog.Logger
}

// New creates an exporter writing into dir.
func New(dir string, log zerolog.Logger) *Exporter {
	return &Exporter{
		dir: dir,
		log: log.With().Str("component", "export").Logger(),
	}
}

func (e *Exporter) write(name string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	e.log.Info().Str("file", path).Int("rows", len(rows)).Msg("export written")
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OptimizedParameters writes one row per security. Securities without a
// viable combination keep empty parameter cells.
func (e *Exporter) OptimizedParameters(results []model.OptimizationResult) (string, error) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		row := []string{r.SecurityID, "", "", "", "", r.Scorer}
		if r.HasBest() {
			row[1] = strconv.Itoa(r.BestParams.Window)
			row[2] = formatFloat(r.BestParams.Multiplier)
			row[3] = formatFloat(r.BestParams.AbsoluteThreshold)
			row[4] = formatFloat(r.BestScore)
		}
		rows = append(rows, row)
	}
	return e.write(OptimizedParametersFile,
		[]string{"security", "window", "multiplier", "threshold", "best_score", "scorer"}, rows)
}

// WinRates writes the per-horizon summary with the win rate in percent.
func (e *Exporter) WinRates(summary model.WinRateSummary) (string, error) {
	rows := make([][]string, 0, len(summary))
	for _, h := range summary.Horizons() {
		hs := summary[h]
		mean := ""
		if hs.MeanReturn != nil {
			mean = strconv.FormatFloat(*hs.MeanReturn, 'f', 4, 64)
		}
		rows = append(rows, []string{
			strconv.Itoa(h),
			strconv.FormatFloat(hs.WinRate*100, 'f', 2, 64),
			strconv.Itoa(hs.SampleCount),
			strconv.Itoa(hs.Wins),
			mean,
		})
	}
	return e.write(WinRatesFile,
		[]string{"horizon", "win_rate_pct", "samples", "wins", "mean_return_pct"}, rows)
}

// SecurityEvents pairs a security with its detected events.
type SecurityEvents struct {
	SecurityID string
	Events     []model.InterventionEvent
}

func (e *Exporter) Events(all []SecurityEvents) (string, error) {
	var rows [][]string
	for _, se := range all {
		for _, ev := range se.Events {
			rows = append(rows, []string{
				se.SecurityID,
				ev.Time.Format("2006-01-02"),
				formatFloat(ev.Close),
				formatFloat(ev.Flow),
				strconv.FormatFloat(ev.MA, 'f', 2, 64),
			})
		}
	}
	return e.write(EventsFile, []string{"security", "date", "close", "flow", "flow_ma"}, rows)
}

// Curve writes curve_<security>.csv: one row per event, one column per day offset.
func (e *Exporter) Curve(securityID string, curves []model.EventCurve, days int) (string, error) {
	header := make([]string, 0, days+1)
	header = append(header, "date")
	for off := 0; off < days; off++ {
		header = append(header, "d"+strconv.Itoa(off))
	}

	rows := make([][]string, 0, len(curves))
	for _, c := range curves {
		row := make([]string, days+1)
		row[0] = c.Event.Time.Format("2006-01-02")
		for _, p := range c.Points {
			if p.Offset < days && p.Defined {
				row[p.Offset+1] = strconv.FormatFloat(p.PercentChange, 'f', 2, 64)
			}
		}
		rows = append(rows, row)
	}
	return e.write("curve_"+securityID+".csv", header, rows)
}

func (e *Exporter) ETFStatus(statuses []model.ETFHoldStatus) (string, error) {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		code := ""
		if s.HTTPStatus != 0 {
			code = strconv.Itoa(s.HTTPStatus)
		}
		rows = append(rows, []string{s.SecurityID, string(s.State), code})
	}
	return e.write(ETFStatusFile, []string{"security", "state", "http_status"}, rows)
}
