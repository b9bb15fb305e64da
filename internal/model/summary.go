package model

import (
	"math"
	"sort"
	"time"
)

// HorizonStats summarizes the defined forward returns of one horizon.
// MeanReturn is nil when SampleCount is zero.
type HorizonStats struct {
	Horizon     int      `json:"horizon"`
	SampleCount int      `json:"sample_count"`
	Wins        int      `json:"wins"`
	SumReturn   float64  `json:"sum_return"`
	WinRate     float64  `json:"win_rate"`
	MeanReturn  *float64 `json:"mean_return"`
}

// NewHorizonStats derives the rates from raw counts.
func NewHorizonStats(horizon, samples, wins int, sum float64) HorizonStats {
	hs := HorizonStats{Horizon: horizon, SampleCount: samples, Wins: wins, SumReturn: sum}
	if samples > 0 {
		hs.WinRate = float64(wins) / float64(samples)
		mean := sum / float64(samples)
		hs.MeanReturn = &mean
	}
	return hs
}

// WinRateSummary maps a horizon to its statistics.
type WinRateSummary map[int]HorizonStats

// Stats returns the statistics of horizon h. An absent horizon reports zero samples.
func (s WinRateSummary) Stats(h int) HorizonStats {
	if hs, ok := s[h]; ok {
		return hs
	}
	return HorizonStats{Horizon: h}
}

// Horizons returns the horizons in ascending order.
func (s WinRateSummary) Horizons() []int {
	hs := make([]int, 0, len(s))
	for h := range s {
		hs = append(hs, h)
	}
	sort.Ints(hs)
	return hs
}

// OptimizationResult is the outcome of one security's parameter sweep.
// BestParams is nil when no combination produced a score.
type OptimizationResult struct {
	SecurityID         string           `json:"security_id"`
	BestParams         *DetectionParams `json:"best_params"`
	BestScore          float64          `json:"best_score"`
	ScoreIsLowerBetter bool             `json:"score_is_lower_better"`
	Scorer             string           `json:"scorer"`
	Evaluated          int              `json:"evaluated"`
	Scored             int              `json:"scored"`
	CompletedAt        time.Time        `json:"completed_at"`
}

// HasBest reports whether a viable combination was found.
func (r *OptimizationResult) HasBest() bool { return r.BestParams != nil }

// WorstScore is the identity element of the score comparison.
func WorstScore(lowerIsBetter bool) float64 {
	if lowerIsBetter {
		return math.Inf(1)
	}
	return math.Inf(-1)
}
