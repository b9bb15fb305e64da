package calculator

import "errors"

var ErrNonPositiveBase = errors.New("base price must be positive")

// PercentChange returns (to-from)/from*100.
func PercentChange(from, to float64) (float64, error) {
	if from <= 0 {
		return 0, ErrNonPositiveBase
	}
	return (to - from) / from * 100, nil
}
