package recorder

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/model"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_Optimization(t *testing.T) {
	r := newTestRecorder(t)

	params := model.DetectionParams{Window: 5, Multiplier: 2, AbsoluteThreshold: 1000}
	first := &model.OptimizationResult{SecurityID: "2330", BestParams: &params, BestScore: 0.55, Scorer: "win_rate", Evaluated: 27, Scored: 20}
	require.NoError(t, r.RecordOptimization("run-1", first))

	params2 := model.DetectionParams{Window: 20, Multiplier: 1.5, AbsoluteThreshold: 500}
	second := &model.OptimizationResult{SecurityID: "2330", BestParams: &params2, BestScore: 0.7, Scorer: "win_rate", Evaluated: 27, Scored: 25}
	require.NoError(t, r.RecordOptimization("run-2", second))

	none := &model.OptimizationResult{SecurityID: "0050", BestScore: math.Inf(1), ScoreIsLowerBetter: true, Scorer: "val_loss"}
	require.NoError(t, r.RecordOptimization("run-2", none))

	got, err := r.LatestResult("2330")
	require.NoError(t, err)
	assert.Equal(t, params2, *got.BestParams)
	assert.Equal(t, 0.7, got.BestScore)
	assert.Equal(t, 25, got.Scored)

	all, err := r.LatestResults()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0050", all[0].SecurityID)
	assert.False(t, all[0].HasBest())
	assert.True(t, math.IsInf(all[0].BestScore, 1))
	assert.True(t, all[0].ScoreIsLowerBetter)
	assert.Equal(t, "2330", all[1].SecurityID)

	_, err = r.LatestResult("9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRecorder_Summary(t *testing.T) {
	r := newTestRecorder(t)

	_, err := r.LatestSummary(ScopePortfolio)
	assert.ErrorIs(t, err, ErrNotFound)

	old := model.WinRateSummary{1: model.NewHorizonStats(1, 4, 1, 2.0)}
	require.NoError(t, r.RecordSummary("run-1", ScopePortfolio, old))

	cur := model.WinRateSummary{
		1:  model.NewHorizonStats(1, 10, 8, 12.5),
		10: model.NewHorizonStats(10, 0, 0, 0),
	}
	require.NoError(t, r.RecordSummary("run-2", ScopePortfolio, cur))

	got, err := r.LatestSummary(ScopePortfolio)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10}, got.Horizons())
	assert.InDelta(t, 0.8, got[1].WinRate, 1e-9)
	require.NotNil(t, got[1].MeanReturn)
	assert.InDelta(t, 1.25, *got[1].MeanReturn, 1e-9)
	assert.Nil(t, got[10].MeanReturn)
}

func TestSQLiteRecorder_EventsETFAndRuns(t *testing.T) {
	r := newTestRecorder(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordEvents("run-1", "2330", []model.InterventionEvent{
		{Index: 13, Time: day, Close: 100, Flow: 1200, MA: 98},
	}))
	require.NoError(t, r.RecordEvents("run-1", "2330", nil))
	require.NoError(t, r.RecordETFStatus("run-1", model.ETFHoldStatus{SecurityID: "2330", State: model.ETFHoldFound, HTTPStatus: 200, CheckedAt: day}))

	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM intervention_events`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err := r.LatestScanRun()
	assert.ErrorIs(t, err, ErrNotFound)

	run := &ScanRun{ID: NewRunID(), Trigger: "cli", StartedAt: day, FinishedAt: day.Add(time.Minute), Securities: 3, Failed: 1}
	require.NoError(t, r.RecordScanRun(run))

	got, err := r.LatestScanRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, 1, got.Failed)
	assert.True(t, got.FinishedAt.Equal(day.Add(time.Minute)))
}
