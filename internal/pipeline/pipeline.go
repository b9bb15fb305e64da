package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/analysis"
	"github.com/3B132016/tws/internal/cache"
	"github.com/3B132016/tws/internal/collector"
	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/optimizer"
)

// Stages of the per-security pipeline, used to label failures.
const (
	StageLoad     = "load"
	StageOptimize = "optimize"
	StageDetect   = "detect"
	StageEvaluate = "evaluate"
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// SecurityResult is everything one pipeline run produced for a security.
type SecurityResult struct {
	SecurityID   string
	Records      int
	Dropped      int
	Optimization *model.OptimizationResult
	FromCache    bool
	Params       model.DetectionParams
	Events       []model.InterventionEvent
	Returns      []model.ForwardReturn
	Skipped      int
	Summary      model.WinRateSummary
	Curves       []model.EventCurve
	Err          error
}

// Options controls what a pipeline run does.
type Options struct {
	Params    model.DetectionParams
	Horizons  []int
	Grid      model.Grid
	Optimize  bool
	CurveDays int
}

// FingerprintFunc returns a string that changes whenever a security's data changes.
type FingerprintFunc func(securityID string) (string, error)

// Pipeline runs load, optimize, detect and evaluate for one security.
type Pipeline struct {
	collector   *collector.Collector
	detector    *analysis.Detector
	evaluator   *analysis.Evaluator
	optimizer   *optimizer.Optimizer
	scorer      optimizer.Scorer
	cache       cache.ResultCache
	fingerprint FingerprintFunc
	metrics     *metrics.Recorder
	opts        Options
	log         zerolog.Logger
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithScorer enables the optimize stage.
func WithScorer(s optimizer.Scorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

// WithCache memoizes optimization results. Caching needs a fingerprint so that
// changed data invalidates old entries.
func WithCache(c cache.ResultCache, fp FingerprintFunc) Option {
	return func(p *Pipeline) {
		p.cache = c
		p.fingerprint = fp
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline.
func New(c *collector.Collector, opts Options, log zerolog.Logger, options ...Option) *Pipeline {
	p := &Pipeline{
		collector: c,
		detector:  analysis.NewDetector(log),
		evaluator: analysis.NewEvaluator(log),
		cache:     cache.NewNoopCache(),
		opts:      opts,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
	for _, o := range options {
		o(p)
	}
	p.optimizer = optimizer.New(log, optimizer.WithMetrics(p.metrics))
	return p
}

// Run processes one security. The returned result is populated up to the
// failing stage; the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context, securityID string) (*SecurityResult, error) {
	res := &SecurityResult{SecurityID: securityID, Params: p.opts.Params}
	log := p.log.With().Str("security", securityID).Logger()

	series, err := p.collector.Collect(ctx, securityID)
	if err != nil {
		return res, p.fail(res, StageLoad, err)
	}
	res.Records = series.Len()
	res.Dropped = series.Dropped

	if p.opts.Optimize && p.scorer != nil {
		opt, cached, err := p.optimize(ctx, series)
		if err != nil {
			return res, p.fail(res, StageOptimize, err)
		}
		res.Optimization = opt
		res.FromCache = cached
		if opt.HasBest() {
			res.Params = *opt.BestParams
			res.Params.Cooldown = p.opts.Params.Cooldown
		} else {
			log.Info().Str("params", res.Params.String()).Msg("no viable combination, using configured parameters")
		}
	}

	events, err := p.detector.Detect(series, res.Params)
	if err != nil {
		return res, p.fail(res, StageDetect, err)
	}
	res.Events = events
	p.metrics.RecordEvents(securityID, len(events))

	returns, err := p.evaluator.Evaluate(series, events, p.opts.Horizons)
	var rerr *analysis.RecordErrors
	switch {
	case errors.As(err, &rerr):
		res.Skipped = len(rerr.Errs)
	case err != nil:
		return res, p.fail(res, StageEvaluate, err)
	}
	res.Returns = returns
	res.Summary = analysis.Aggregate([][]model.ForwardReturn{returns})

	if p.opts.CurveDays > 0 {
		curves, err := p.evaluator.Curve(series, events, p.opts.CurveDays)
		if err != nil {
			return res, p.fail(res, StageEvaluate, err)
		}
		res.Curves = curves
	}

	log.Debug().
		Int("records", res.Records).
		Int("events", len(events)).
		Str("params", res.Params.String()).
		Msg("security processed")
	return res, nil
}

func (p *Pipeline) optimize(ctx context.Context, series *model.Series) (*model.OptimizationResult, bool, error) {
	key := ""
	if p.fingerprint != nil {
		if fp, err := p.fingerprint(series.SecurityID); err == nil {
			key = cache.Key(series.SecurityID, fp, p.opts.Grid, p.opts.Params.Cooldown, optimizer.ScorerKey(p.scorer))
		} else {
			p.log.Debug().Err(err).Str("security", series.SecurityID).Msg("no fingerprint, cache bypassed")
		}
	}
	if key != "" {
		if hit, err := p.cache.Get(ctx, key); err == nil {
			p.log.Debug().Str("security", series.SecurityID).Msg("optimization cache hit")
			return hit, true, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Warn().Err(err).Msg("cache read failed")
		}
	}

	grid := p.opts.Grid.Combinations()
	for i := range grid {
		grid[i].Cooldown = p.opts.Params.Cooldown
	}
	res, err := p.optimizer.Optimize(ctx, series, grid, p.scorer)
	if err != nil {
		return nil, false, err
	}

	if key != "" {
		if err := p.cache.Set(ctx, key, &res); err != nil {
			p.log.Warn().Err(err).Msg("cache write failed")
		}
	}
	return &res, false, nil
}

func (p *Pipeline) fail(res *SecurityResult, stage string, err error) error {
	serr := &StageError{Stage: stage, Err: err}
	res.Err = serr
	p.metrics.RecordSecurityError(stage)
	p.log.Error().Err(err).Str("security", res.SecurityID).Str("stage", stage).Msg("pipeline failed")
	return serr
}
