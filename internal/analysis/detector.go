package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/calculator"
	"github.com/3B132016/tws/internal/model"
)

var ErrInvalidParams = errors.New("invalid detection params")

// Detector flags days of abnormal institutional buying.
type Detector struct {
	log zerolog.Logger
}

// NewDetector creates a detector.
func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{
		log: log.With().Str("component", "analysis.detector").Logger(),
	}
}

var validate = validator.New()

// ValidateParams checks the detector parameter ranges declared on
// model.DetectionParams.
func ValidateParams(p model.DetectionParams) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s=%v must satisfy %s", ErrInvalidParams, fe.Field(), fe.Value(), fieldRule(fe))
	}
	return fmt.Errorf("%w: %v", ErrInvalidParams, err)
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Detect returns every day whose flow exceeds both the trailing moving average
// times the multiplier and the absolute threshold. The moving average includes
// the day itself. Days before a full window and days with missing flow never
// qualify. Events are in ascending index order.
func (d *Detector) Detect(series *model.Series, params model.DetectionParams) ([]model.InterventionEvent, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	if series.Len() < params.Window {
		d.log.Debug().
			Str("security", series.SecurityID).
			Int("records", series.Len()).
			Int("window", params.Window).
			Msg("series shorter than window")
		return []model.InterventionEvent{}, nil
	}

	ma, err := calculator.RollingSMA(series.Flows(), params.Window)
	if err != nil {
		return nil, err
	}

	events := []model.InterventionEvent{}
	last := -1
	for i := params.Window - 1; i < series.Len(); i++ {
		rec := series.Records[i]
		if !rec.HasFlow() || math.IsNaN(ma[i]) {
			continue
		}
		if !(rec.Flow > ma[i]*params.Multiplier && rec.Flow > params.AbsoluteThreshold) {
			continue
		}
		if params.Cooldown > 0 && last >= 0 && i-last <= params.Cooldown {
			continue
		}
		events = append(events, model.InterventionEvent{
			Index: i,
			Time:  rec.Time,
			Close: rec.Close,
			Flow:  rec.Flow,
			MA:    ma[i],
		})
		last = i
	}

	d.log.Debug().
		Str("security", series.SecurityID).
		Str("params", params.String()).
		Int("events", len(events)).
		Msg("detection complete")

	return events, nil
}
