package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/calculator"
	"github.com/3B132016/tws/internal/model"
)

var (
	ErrInvalidHorizon   = errors.New("horizon must be positive")
	ErrNonPositivePrice = errors.New("non-positive closing price")
)

// RecordErrors collects per-event failures that did not stop the evaluation.
type RecordErrors struct {
	Errs []error
}

func (e *RecordErrors) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d record(s) skipped: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *RecordErrors) Unwrap() []error { return e.Errs }

// Evaluator computes forward returns after intervention events.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		log: log.With().Str("component", "analysis.evaluator").Logger(),
	}
}

// Evaluate returns one ForwardReturn per (event, horizon), in event order and
// then in the caller's horizon order. A horizon past the end of the series is
// returned with Defined=false. An event whose closing price is not positive is
// skipped and reported through a *RecordErrors alongside the remaining returns.
func (e *Evaluator) Evaluate(series *model.Series, events []model.InterventionEvent, horizons []int) ([]model.ForwardReturn, error) {
	for _, h := range horizons {
		if h < 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidHorizon, h)
		}
	}

	returns := make([]model.ForwardReturn, 0, len(events)*len(horizons))
	var skipped []error

	for _, ev := range events {
		if ev.Index < 0 || ev.Index >= series.Len() {
			skipped = append(skipped, fmt.Errorf("event index %d out of range", ev.Index))
			continue
		}
		base := series.Records[ev.Index].Close
		if base <= 0 {
			skipped = append(skipped, fmt.Errorf("event %d: %w (%g)", ev.Index, ErrNonPositivePrice, base))
			continue
		}

		for _, h := range horizons {
			fr := model.ForwardReturn{EventIndex: ev.Index, Horizon: h}
			if j := ev.Index + h; j < series.Len() {
				pct, err := calculator.PercentChange(base, series.Records[j].Close)
				if err != nil {
					return nil, err
				}
				fr.PercentChange = pct
				fr.Defined = true
			}
			returns = append(returns, fr)
		}
	}

	if len(skipped) > 0 {
		e.log.Warn().
			Str("security", series.SecurityID).
			Int("skipped", len(skipped)).
			Msg("events skipped during evaluation")
		return returns, &RecordErrors{Errs: skipped}
	}
	return returns, nil
}

// Curve returns, for every event, the percent change from the event close at
// offsets 0..days-1. Offsets past the end of the series are undefined.
func (e *Evaluator) Curve(series *model.Series, events []model.InterventionEvent, days int) ([]model.EventCurve, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHorizon, days)
	}
	curves := make([]model.EventCurve, 0, len(events))
	for _, ev := range events {
		if ev.Index < 0 || ev.Index >= series.Len() {
			continue
		}
		base := series.Records[ev.Index].Close
		if base <= 0 {
			continue
		}
		c := model.EventCurve{Event: ev, Points: make([]model.CurvePoint, days)}
		for off := 0; off < days; off++ {
			p := model.CurvePoint{Offset: off}
			if j := ev.Index + off; j < series.Len() {
				p.PercentChange, _ = calculator.PercentChange(base, series.Records[j].Close)
				p.Defined = true
			}
			c.Points[off] = p
		}
		curves = append(curves, c)
	}
	return curves, nil
}
