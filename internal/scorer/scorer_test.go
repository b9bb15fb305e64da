package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/optimizer"
)

func scenarioSeries() *model.Series {
	flows := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 50, 60, 70, 800, 90}
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 11}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]model.DailyRecord, len(flows))
	for i := range flows {
		recs[i] = model.DailyRecord{Time: start.AddDate(0, 0, i), Close: closes[i], Flow: flows[i]}
	}
	return &model.Series{SecurityID: "4977", Records: recs}
}

func TestStatScorer_WinRate(t *testing.T) {
	s, err := NewStatScorer(zerolog.Nop(), []int{1, 5}, MetricWinRate)
	require.NoError(t, err)
	assert.False(t, s.LowerIsBetter())

	score, ok, err := s.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 500})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
}

func TestStatScorer_MeanReturn(t *testing.T) {
	s, err := NewStatScorer(zerolog.Nop(), []int{1}, MetricMeanReturn)
	require.NoError(t, err)

	score, ok, err := s.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 500})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 10.0, score, 1e-9)
}

func TestStatScorer_NoScore(t *testing.T) {
	s, err := NewStatScorer(zerolog.Nop(), []int{1, 5}, MetricWinRate)
	require.NoError(t, err)

	// no events above 1000
	_, ok, err := s.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 1000})
	require.NoError(t, err)
	assert.False(t, ok)

	// event exists but no horizon is in range
	s, err = NewStatScorer(zerolog.Nop(), []int{5}, MetricWinRate)
	require.NoError(t, err)
	_, ok, err = s.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 500})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatScorer_InvalidConfig(t *testing.T) {
	_, err := NewStatScorer(zerolog.Nop(), nil, MetricWinRate)
	assert.Error(t, err)
	_, err = NewStatScorer(zerolog.Nop(), []int{1}, Metric("sharpe"))
	assert.Error(t, err)
}

func TestScorerKey(t *testing.T) {
	day, err := NewStatScorer(zerolog.Nop(), []int{1}, MetricWinRate)
	require.NoError(t, err)
	week, err := NewStatScorer(zerolog.Nop(), []int{5}, MetricWinRate)
	require.NoError(t, err)
	mean, err := NewStatScorer(zerolog.Nop(), []int{1}, MetricMeanReturn)
	require.NoError(t, err)

	assert.Equal(t, "win_rate:h[1]", optimizer.ScorerKey(day))
	assert.NotEqual(t, optimizer.ScorerKey(day), optimizer.ScorerKey(week))
	assert.NotEqual(t, optimizer.ScorerKey(day), optimizer.ScorerKey(mean))

	a := NewModelScorer("http://trainer-a", zerolog.Nop())
	b := NewModelScorer("http://trainer-b", zerolog.Nop())
	assert.Equal(t, "model", a.Name())
	assert.NotEqual(t, optimizer.ScorerKey(a), optimizer.ScorerKey(b))
}

func TestModelScorer_Score(t *testing.T) {
	var got trainRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultTrainPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(trainResponse{OK: true, ValLoss: 0.0123})
	}))
	defer srv.Close()

	m := NewModelScorer(srv.URL, zerolog.Nop())
	assert.True(t, m.LowerIsBetter())

	score, ok, err := m.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 10, Multiplier: 1.5, AbsoluteThreshold: 500})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.0123, score)

	assert.Equal(t, "4977", got.SecurityID)
	assert.Equal(t, 10, got.Window)
	assert.Len(t, got.Closes, 15)
	assert.Equal(t, []int{13}, got.EventIndices)
}

func TestModelScorer_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(trainResponse{OK: false, Error: "not enough samples"})
	}))
	defer srv.Close()

	_, ok, err := NewModelScorer(srv.URL, zerolog.Nop()).Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 5, Multiplier: 2, AbsoluteThreshold: 500})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModelScorer_ShortSeries(t *testing.T) {
	m := NewModelScorer("http://127.0.0.1:0", zerolog.Nop())
	_, ok, err := m.Score(context.Background(), scenarioSeries(), model.DetectionParams{Window: 20, Multiplier: 2, AbsoluteThreshold: 500})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModelScorer_BreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewModelScorer(srv.URL, zerolog.Nop(), WithBreaker(2, time.Minute))
	params := model.DetectionParams{Window: 5, Multiplier: 2, AbsoluteThreshold: 500}

	for i := 0; i < 2; i++ {
		_, _, err := m.Score(context.Background(), scenarioSeries(), params)
		assert.ErrorIs(t, err, ErrTrainerRejected)
	}
	_, _, err := m.Score(context.Background(), scenarioSeries(), params)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
