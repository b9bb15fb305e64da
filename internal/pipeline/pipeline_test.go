package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/cache"
	"github.com/3B132016/tws/internal/collector"
	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/recorder"
	"github.com/3B132016/tws/internal/scorer"
)

func series(id string, closes, flows []float64) *model.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]model.DailyRecord, len(flows))
	for i := range flows {
		recs[i] = model.DailyRecord{Time: start.AddDate(0, 0, i), Close: closes[i], Flow: flows[i]}
	}
	return &model.Series{SecurityID: id, Records: recs}
}

func testLoader() *collector.MockLoader {
	return &collector.MockLoader{Series: map[string]*model.Series{
		// event at 13, +10% the next day
		"4977": series("4977",
			[]float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 11},
			[]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 50, 60, 70, 800, 90}),
		// event at 11, -10% the next day
		"2330": series("2330",
			[]float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 9, 9},
			[]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 900, 0, 0}),
	}}
}

func testOptions() Options {
	return Options{
		Params:   model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 500},
		Horizons: []int{1, 5},
		Grid:     model.Grid{Windows: []int{5, 10}, Multipliers: []float64{1.5}, Thresholds: []float64{500}},
	}
}

// windowScorer prefers larger windows and counts calls.
type windowScorer struct {
	mu    sync.Mutex
	calls int
}

func (s *windowScorer) Name() string        { return "window" }
func (s *windowScorer) LowerIsBetter() bool { return false }
func (s *windowScorer) Score(_ context.Context, _ *model.Series, p model.DetectionParams) (float64, bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return float64(p.Window), true, nil
}

func newPipeline(opts Options, extra ...Option) *Pipeline {
	c := collector.NewCollector(testLoader(), zerolog.Nop(), nil)
	return New(c, opts, zerolog.Nop(), extra...)
}

func TestPipeline_Run(t *testing.T) {
	opts := testOptions()
	opts.CurveDays = 3
	p := newPipeline(opts)

	res, err := p.Run(context.Background(), "4977")
	require.NoError(t, err)
	assert.Equal(t, 15, res.Records)
	require.Len(t, res.Events, 1)
	assert.Equal(t, 13, res.Events[0].Index)
	assert.Nil(t, res.Optimization)

	h1 := res.Summary.Stats(1)
	assert.Equal(t, 1, h1.SampleCount)
	assert.Equal(t, 1.0, h1.WinRate)
	assert.InDelta(t, 10.0, *h1.MeanReturn, 1e-9)
	assert.Equal(t, 0, res.Summary.Stats(5).SampleCount)

	require.Len(t, res.Curves, 1)
	assert.False(t, res.Curves[0].Points[2].Defined)
}

func TestPipeline_LoadFailure(t *testing.T) {
	m := metrics.New()
	p := newPipeline(testOptions(), WithMetrics(m))

	res, err := p.Run(context.Background(), "0000")
	require.Error(t, err)

	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageLoad, serr.Stage)
	assert.ErrorIs(t, err, collector.ErrSecurityNotFound)
	assert.Equal(t, err, res.Err)
}

func TestPipeline_OptimizeUsesBestParamsAndCache(t *testing.T) {
	opts := testOptions()
	opts.Optimize = true
	sc := &windowScorer{}
	mem := cache.NewMemoryCache(0)
	fp := func(string) (string, error) { return "v1", nil }
	p := newPipeline(opts, WithScorer(sc), WithCache(mem, fp))

	res, err := p.Run(context.Background(), "4977")
	require.NoError(t, err)
	require.NotNil(t, res.Optimization)
	assert.False(t, res.FromCache)
	assert.Equal(t, 10, res.Params.Window)
	assert.Equal(t, 2, sc.calls)
	require.Len(t, res.Events, 1)

	res, err = p.Run(context.Background(), "4977")
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 10, res.Params.Window)
	assert.Equal(t, 2, sc.calls)
}

func TestPipeline_CacheKeyFollowsScorerSettings(t *testing.T) {
	opts := testOptions()
	opts.Optimize = true
	mem := cache.NewMemoryCache(0)
	fp := func(string) (string, error) { return "v1", nil }

	next, err := scorer.NewStatScorer(zerolog.Nop(), []int{1}, scorer.MetricWinRate)
	require.NoError(t, err)
	res, err := newPipeline(opts, WithScorer(next), WithCache(mem, fp)).Run(context.Background(), "4977")
	require.NoError(t, err)
	require.True(t, res.Optimization.HasBest())
	assert.InDelta(t, 1.0, res.Optimization.BestScore, 1e-9)

	// no event has five days of data after it
	week, err := scorer.NewStatScorer(zerolog.Nop(), []int{5}, scorer.MetricWinRate)
	require.NoError(t, err)
	res, err = newPipeline(opts, WithScorer(week), WithCache(mem, fp)).Run(context.Background(), "4977")
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.False(t, res.Optimization.HasBest())
}

func TestPipeline_CacheKeyFollowsCooldown(t *testing.T) {
	opts := testOptions()
	opts.Optimize = true
	sc := &windowScorer{}
	mem := cache.NewMemoryCache(0)
	fp := func(string) (string, error) { return "v1", nil }

	_, err := newPipeline(opts, WithScorer(sc), WithCache(mem, fp)).Run(context.Background(), "4977")
	require.NoError(t, err)
	require.Equal(t, 2, sc.calls)

	opts.Params.Cooldown = 3
	res, err := newPipeline(opts, WithScorer(sc), WithCache(mem, fp)).Run(context.Background(), "4977")
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 4, sc.calls)
	assert.Equal(t, 3, res.Params.Cooldown)
}

func TestRunner_PortfolioAndPersist(t *testing.T) {
	p := newPipeline(testOptions(), WithMetrics(metrics.New()))
	r := NewRunner(p, 2, zerolog.Nop())

	report, err := r.Run(context.Background(), []string{"4977", "missing", "2330"})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "missing", report.Results[1].SecurityID)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "missing", failed[0].SecurityID)

	h1 := report.Summary.Stats(1)
	assert.Equal(t, 2, h1.SampleCount)
	assert.Equal(t, 1, h1.Wins)
	assert.InDelta(t, 0.5, h1.WinRate, 1e-9)
	assert.InDelta(t, 0.0, *h1.MeanReturn, 1e-9)

	rec, err := recorder.NewSQLiteRecorder(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer rec.Close()

	require.NoError(t, Persist(rec, report, "cli"))
	stored, err := rec.LatestSummary(recorder.ScopePortfolio)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Stats(1).SampleCount)

	run, err := rec.LatestScanRun()
	require.NoError(t, err)
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, 1, run.Failed)
}

func TestRunner_Cancelled(t *testing.T) {
	r := NewRunner(newPipeline(testOptions()), 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.Run(ctx, []string{"4977", "2330"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Failed(), 2)
}
