package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/analysis"
	"github.com/3B132016/tws/internal/model"
)

// Metric selects the statistic a StatScorer reports.
type Metric string

const (
	MetricWinRate    Metric = "win_rate"
	MetricMeanReturn Metric = "mean_return"
)

// StatScorer scores a combination by detecting events, measuring their forward
// returns and averaging the chosen statistic over the horizons that have
// samples. Higher is better.
type StatScorer struct {
	log       zerolog.Logger
	detector  *analysis.Detector
	evaluator *analysis.Evaluator
	horizons  []int
	metric    Metric
}

// NewStatScorer creates a scorer over the given horizons.
func NewStatScorer(log zerolog.Logger, horizons []int, metric Metric) (*StatScorer, error) {
	if len(horizons) == 0 {
		return nil, errors.New("at least one horizon is required")
	}
	switch metric {
	case MetricWinRate, MetricMeanReturn:
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	return &StatScorer{
		log:       log.With().Str("component", "scorer.stat").Logger(),
		detector:  analysis.NewDetector(log),
		evaluator: analysis.NewEvaluator(log),
		horizons:  horizons,
		metric:    metric,
	}, nil
}

func (s *StatScorer) Name() string        { return string(s.metric) }
func (s *StatScorer) LowerIsBetter() bool { return false }

// Fingerprint names the metric and the horizons it averages over.
func (s *StatScorer) Fingerprint() string {
	return fmt.Sprintf("%s:h%v", s.metric, s.horizons)
}

func (s *StatScorer) Score(_ context.Context, series *model.Series, params model.DetectionParams) (float64, bool, error) {
	events, err := s.detector.Detect(series, params)
	if err != nil {
		return 0, false, err
	}
	if len(events) == 0 {
		return 0, false, nil
	}

	returns, err := s.evaluator.Evaluate(series, events, s.horizons)
	var rerr *analysis.RecordErrors
	if err != nil && !errors.As(err, &rerr) {
		return 0, false, err
	}

	summary := analysis.Aggregate([][]model.ForwardReturn{returns})
	sum := 0.0
	n := 0
	for _, h := range s.horizons {
		hs := summary.Stats(h)
		if hs.SampleCount == 0 {
			continue
		}
		switch s.metric {
		case MetricWinRate:
			sum += hs.WinRate
		case MetricMeanReturn:
			sum += *hs.MeanReturn
		}
		n++
	}
	if n == 0 {
		return 0, false, nil
	}

	score := sum / float64(n)
	s.log.Debug().
		Str("security", series.SecurityID).
		Str("params", params.String()).
		Int("events", len(events)).
		Float64("score", score).
		Msg("scored")
	return score, true, nil
}
