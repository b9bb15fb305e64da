package model

import "time"

// ETFHoldState is the outcome of an ETF-holding lookup.
type ETFHoldState string

const (
	ETFHoldFound    ETFHoldState = "FOUND"
	ETFHoldNotFound ETFHoldState = "NOT_FOUND"
	ETFHoldError    ETFHoldState = "ERROR"
)

// ETFHoldStatus reports whether any ETF holds a security.
type ETFHoldStatus struct {
	SecurityID string       `json:"security_id"`
	State      ETFHoldState `json:"state"`
	HTTPStatus int          `json:"http_status,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
}
