package model

import "time"

// InterventionEvent is a day flagged as abnormal institutional buying.
type InterventionEvent struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Close float64   `json:"close"`
	Flow  float64   `json:"flow"`
	MA    float64   `json:"ma"`
}

// ForwardReturn is the percent price change h trading days after an event.
// Defined is false when the horizon runs past the end of the series.
type ForwardReturn struct {
	EventIndex    int     `json:"event_index"`
	Horizon       int     `json:"horizon"`
	PercentChange float64 `json:"percent_change"`
	Defined       bool    `json:"defined"`
}

// CurvePoint is one offset of an event's change curve.
type CurvePoint struct {
	Offset        int
	PercentChange float64
	Defined       bool
}

// EventCurve holds the day-by-day change after one event.
type EventCurve struct {
	Event  InterventionEvent
	Points []CurvePoint
}
