package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/3B132016/tws/internal/analysis"
	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/recorder"
)

// Report is the outcome of one portfolio run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []*SecurityResult // input order
	Summary    model.WinRateSummary
}

// Failed returns the results whose pipeline did not complete.
func (r *Report) Failed() []*SecurityResult {
	var out []*SecurityResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Optimizations returns the optimization results of every optimized security.
func (r *Report) Optimizations() []model.OptimizationResult {
	var out []model.OptimizationResult
	for _, res := range r.Results {
		if res.Optimization != nil {
			out = append(out, *res.Optimization)
		}
	}
	return out
}

// Runner fans securities out over a bounded set of workers.
type Runner struct {
	pipeline *Pipeline
	workers  int
	metrics  *metrics.Recorder
	log      zerolog.Logger
}

// NewRunner creates a runner with at most workers concurrent pipelines.
func NewRunner(p *Pipeline, workers int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		pipeline: p,
		workers:  workers,
		metrics:  p.metrics,
		log:      log.With().Str("component", "pipeline.runner").Logger(),
	}
}

// Run processes every security. A failing security is recorded in its result
// and does not stop the others. The portfolio summary merges the successful
// securities. Only cancellation of ctx is returned as an error.
func (r *Runner) Run(ctx context.Context, securityIDs []string) (*Report, error) {
	report := &Report{
		RunID:     recorder.NewRunID(),
		StartedAt: time.Now(),
		Results:   make([]*SecurityResult, len(securityIDs)),
	}
	r.log.Info().Str("run_id", report.RunID).Int("securities", len(securityIDs)).Int("workers", r.workers).Msg("portfolio run started")

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i, id := range securityIDs {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				report.Results[i] = &SecurityResult{SecurityID: id, Err: err}
				return nil
			}
			res, _ := r.pipeline.Run(ctx, id)
			report.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summaries := make([]model.WinRateSummary, 0, len(report.Results))
	for _, res := range report.Results {
		if res.Err == nil {
			summaries = append(summaries, res.Summary)
		}
	}
	report.Summary = analysis.Merge(summaries...)
	report.FinishedAt = time.Now()

	for _, h := range report.Summary.Horizons() {
		r.metrics.RecordWinRate(strconv.Itoa(h), report.Summary[h].WinRate)
	}

	r.log.Info().
		Str("run_id", report.RunID).
		Int("succeeded", len(summaries)).
		Int("failed", len(report.Results)-len(summaries)).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("portfolio run complete")

	return report, ctx.Err()
}

// Persist stores a report. It keeps going after a failed write and returns
// all failures joined.
func Persist(rec recorder.Recorder, report *Report, trigger string) error {
	var errs []error
	for _, res := range report.Results {
		if res.Err != nil {
			continue
		}
		if res.Optimization != nil {
			errs = append(errs, rec.RecordOptimization(report.RunID, res.Optimization))
		}
		errs = append(errs, rec.RecordEvents(report.RunID, res.SecurityID, res.Events))
	}
	errs = append(errs, rec.RecordSummary(report.RunID, recorder.ScopePortfolio, report.Summary))
	errs = append(errs, rec.RecordScanRun(&recorder.ScanRun{
		ID:         report.RunID,
		Trigger:    trigger,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Securities: len(report.Results),
		Failed:     len(report.Failed()),
	}))
	return errors.Join(errs...)
}
