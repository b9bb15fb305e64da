package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
)

// ErrInvalidScore is returned when a scorer reports a value that is not a number.
var ErrInvalidScore = errors.New("scorer returned an invalid score")

// Scorer reduces one parameter combination on one series to a scalar.
// ok=false means the combination produced no score (for example no events).
type Scorer interface {
	Name() string
	LowerIsBetter() bool
	Score(ctx context.Context, series *model.Series, params model.DetectionParams) (score float64, ok bool, err error)
}

// Fingerprinter is implemented by scorers whose results depend on settings
// beyond their name.
type Fingerprinter interface {
	Fingerprint() string
}

// ScorerKey identifies a scorer together with its settings.
func ScorerKey(s Scorer) string {
	if f, ok := s.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return s.Name()
}

// Optimizer runs an exhaustive sweep over a parameter grid.
type Optimizer struct {
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// Option configures the Optimizer.
type Option func(*Optimizer)

// WithMetrics records sweep counters and durations.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// New creates an optimizer.
func New(log zerolog.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{
		log: log.With().Str("component", "optimizer").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize scores every combination in grid order and keeps the best one.
// Ties keep the earlier combination. Scorer errors and missing scores skip the
// combination. When nothing scores, BestParams is nil and BestScore is the
// worst possible value for the scorer's direction.
func (o *Optimizer) Optimize(ctx context.Context, series *model.Series, grid []model.DetectionParams, scorer Scorer) (model.OptimizationResult, error) {
	lower := scorer.LowerIsBetter()
	result := model.OptimizationResult{
		SecurityID:         series.SecurityID,
		BestScore:          model.WorstScore(lower),
		ScoreIsLowerBetter: lower,
		Scorer:             scorer.Name(),
	}
	log := o.log.With().Str("security", series.SecurityID).Str("scorer", scorer.Name()).Logger()
	start := time.Now()

	for _, params := range grid {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("evaluated", result.Evaluated).Msg("context cancelled during sweep")
			return result, err
		}
		result.Evaluated++

		score, ok, err := scorer.Score(ctx, series, params)
		if err != nil {
			log.Warn().Err(err).Str("params", params.String()).Msg("scorer failed, skipping combination")
			o.metrics.RecordCombination(scorer.Name(), metrics.OutcomeFailed)
			continue
		}
		if !ok {
			log.Debug().Str("params", params.String()).Msg("no score")
			o.metrics.RecordCombination(scorer.Name(), metrics.OutcomeNoScore)
			continue
		}
		if math.IsNaN(score) {
			return result, fmt.Errorf("%w: NaN for %s", ErrInvalidScore, params)
		}
		o.metrics.RecordCombination(scorer.Name(), metrics.OutcomeScored)
		result.Scored++

		if better(score, result.BestScore, lower) {
			p := params
			result.BestParams = &p
			result.BestScore = score
		}
		log.Debug().Str("params", params.String()).Float64("score", score).Msg("combination scored")
	}

	result.CompletedAt = time.Now()
	o.metrics.RecordSweep(scorer.Name(), time.Since(start).Seconds())

	ev := log.Info().
		Int("evaluated", result.Evaluated).
		Int("scored", result.Scored)
	if result.BestParams != nil {
		ev = ev.Str("best", result.BestParams.String()).Float64("best_score", result.BestScore)
	}
	ev.Msg("sweep complete")

	return result, nil
}

func better(score, best float64, lower bool) bool {
	if lower {
		return score < best
	}
	return score > best
}
