package model

import "fmt"

// DetectionParams is one configuration of the intervention detector.
type DetectionParams struct {
	Window            int     `yaml:"window" json:"window" default:"10" validate:"gte=2"`
	Multiplier        float64 `yaml:"multiplier" json:"multiplier" default:"1.5" validate:"gt=0"`
	AbsoluteThreshold float64 `yaml:"threshold" json:"threshold" default:"500" validate:"gte=0"`
	Cooldown          int     `yaml:"cooldown" json:"cooldown,omitempty" validate:"gte=0"`
}

func (p DetectionParams) String() string {
	return fmt.Sprintf("window=%d multiplier=%g threshold=%g", p.Window, p.Multiplier, p.AbsoluteThreshold)
}

// DefaultDetectionParams mirrors the thresholds used for single-security reports.
func DefaultDetectionParams() DetectionParams {
	return DetectionParams{
		Window:            10,
		Multiplier:        1.5,
		AbsoluteThreshold: 500,
	}
}

// Grid is the search space of the parameter optimizer.
type Grid struct {
	Windows     []int     `yaml:"windows" json:"windows" validate:"dive,gte=2"`
	Multipliers []float64 `yaml:"multipliers" json:"multipliers" validate:"dive,gt=0"`
	Thresholds  []float64 `yaml:"thresholds" json:"thresholds" validate:"dive,gte=0"`
}

// DefaultGrid returns the 3x3x3 sweep.
func DefaultGrid() Grid {
	return Grid{
		Windows:     []int{5, 10, 20},
		Multipliers: []float64{1.5, 2, 2.5},
		Thresholds:  []float64{500, 1000, 2000},
	}
}

// Size returns the number of combinations.
func (g Grid) Size() int {
	return len(g.Windows) * len(g.Multipliers) * len(g.Thresholds)
}

// Combinations enumerates the grid with window as the outer loop, multiplier in
// the middle and threshold innermost.
func (g Grid) Combinations() []DetectionParams {
	out := make([]DetectionParams, 0, g.Size())
	for _, w := range g.Windows {
		for _, m := range g.Multipliers {
			for _, t := range g.Thresholds {
				out = append(out, DetectionParams{Window: w, Multiplier: m, AbsoluteThreshold: t})
			}
		}
	}
	return out
}

// Key is a stable textual form of the grid, used in cache keys.
func (g Grid) Key() string {
	return fmt.Sprintf("w%v-m%v-t%v", g.Windows, g.Multipliers, g.Thresholds)
}
