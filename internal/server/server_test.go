package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/recorder"
)

func newTestServer(t *testing.T) (*Server, *recorder.SQLiteRecorder, *metrics.Recorder) {
	t.Helper()
	rec, err := recorder.NewSQLiteRecorder(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	m := metrics.New()
	return New("127.0.0.1:0", rec, m, zerolog.Nop()), rec, m
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestResults(t *testing.T) {
	s, rec, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/results/2330").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/summary").Code)

	p := model.DetectionParams{Window: 5, Multiplier: 2, AbsoluteThreshold: 500}
	require.NoError(t, rec.RecordOptimization("r1", &model.OptimizationResult{SecurityID: "2330", BestParams: &p, BestScore: 0.6, Scorer: "win_rate"}))
	require.NoError(t, rec.RecordOptimization("r1", &model.OptimizationResult{SecurityID: "0050", BestScore: math.Inf(-1), Scorer: "win_rate"}))
	require.NoError(t, rec.RecordSummary("r1", recorder.ScopePortfolio, model.WinRateSummary{1: model.NewHorizonStats(1, 2, 1, 3)}))

	w := get(t, s, "/results/2330")
	require.Equal(t, http.StatusOK, w.Code)
	var one map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, 0.6, one["best_score"])

	w = get(t, s, "/results")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Count   int `json:"count"`
		Results []struct {
			SecurityID string   `json:"security_id"`
			BestScore  *float64 `json:"best_score"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "0050", all.Results[0].SecurityID)
	assert.Nil(t, all.Results[0].BestScore)

	w = get(t, s, "/summary")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"win_rate":0.5`)
}

func TestMetricsAndNotFound(t *testing.T) {
	s, _, m := newTestServer(t)
	m.RecordSecurityError("load")

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "tws_security_errors_total"))

	assert.Equal(t, http.StatusNotFound, get(t, s, "/nope").Code)
}
