package model

import (
	"math"
	"time"
)

// DailyRecord is one trading day of a security.
type DailyRecord struct {
	Time  time.Time
	Close float64
	Flow  float64 // institutional net buying in lots, NaN when missing
}

// HasFlow reports whether the flow value is usable.
func (r DailyRecord) HasFlow() bool {
	return !math.IsNaN(r.Flow) && !math.IsInf(r.Flow, 0)
}

// Series holds the ordered daily records of one security.
type Series struct {
	SecurityID string
	Records    []DailyRecord
	Dropped    int // malformed rows excluded at load time
}

// Len returns the number of records.
func (s *Series) Len() int { return len(s.Records) }

// Closes returns the closing prices in order.
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.Records))
	for i, r := range s.Records {
		closes[i] = r.Close
	}
	return closes
}

// Flows returns the flow values in order, NaN included.
func (s *Series) Flows() []float64 {
	flows := make([]float64, len(s.Records))
	for i, r := range s.Records {
		flows[i] = r.Flow
	}
	return flows
}
