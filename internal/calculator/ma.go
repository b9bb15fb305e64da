package calculator

import (
	"errors"
	"math"
)

var (
	ErrInvalidPeriod = errors.New("period must be positive")
	ErrNotEnoughData = errors.New("not enough data for SMA calculation")
	ErrNoUsableData  = errors.New("no usable values in window")
)

// CalculateSMA computes the simple moving average of the last period values.
// NaN values inside the window are skipped and the mean is taken over the rest.
func CalculateSMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(values) < period {
		return 0, ErrNotEnoughData
	}
	sum := 0.0
	n := 0
	for i := len(values) - period; i < len(values); i++ {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			continue
		}
		sum += values[i]
		n++
	}
	if n == 0 {
		return 0, ErrNoUsableData
	}
	return sum / float64(n), nil
}

// RollingSMA returns the trailing moving average ending at every index.
// out[i] covers values[i-period+1 : i+1] and is NaN when i < period-1 or the
// window holds no usable value.
func RollingSMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := make([]float64, len(values))
	for i := range values {
		ma, err := CalculateSMA(values[:i+1], period)
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = ma
	}
	return out, nil
}
