package analysis

import "github.com/3B132016/tws/internal/model"

// Aggregate combines the forward returns of many securities into per-horizon
// statistics. Only defined returns count. A horizon seen only with undefined
// returns is reported with zero samples.
func Aggregate(allReturns [][]model.ForwardReturn) model.WinRateSummary {
	type acc struct {
		n, wins int
		sum     float64
	}
	accs := make(map[int]*acc)

	for _, returns := range allReturns {
		for _, fr := range returns {
			a, ok := accs[fr.Horizon]
			if !ok {
				a = &acc{}
				accs[fr.Horizon] = a
			}
			if !fr.Defined {
				continue
			}
			a.n++
			a.sum += fr.PercentChange
			if fr.PercentChange > 0 {
				a.wins++
			}
		}
	}

	summary := make(model.WinRateSummary, len(accs))
	for h, a := range accs {
		summary[h] = model.NewHorizonStats(h, a.n, a.wins, a.sum)
	}
	return summary
}

// Merge combines summaries from combined counts, so merging the summaries of
// two batches equals aggregating both batches at once.
func Merge(summaries ...model.WinRateSummary) model.WinRateSummary {
	out := make(model.WinRateSummary)
	for _, s := range summaries {
		for h, hs := range s {
			cur := out.Stats(h)
			out[h] = model.NewHorizonStats(h,
				cur.SampleCount+hs.SampleCount,
				cur.Wins+hs.Wins,
				cur.SumReturn+hs.SumReturn,
			)
		}
	}
	return out
}
