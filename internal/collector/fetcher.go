package collector

import (
	"context"
	"errors"

	"github.com/3B132016/tws/internal/model"
)

var ErrSecurityNotFound = errors.New("security not found")

// Loader supplies the daily series of one security. Implementations drop
// malformed rows and report how many through Series.Dropped.
type Loader interface {
	Load(ctx context.Context, securityID string) (*model.Series, error)
	Name() string
}

// Columns locates the fields of a daily record in a tabular export.
type Columns struct {
	Date        string   // header of the date column
	Close       string   // header of the closing price column
	FlowIndex   int      // zero-based position of the institutional flow column
	FlowName    string   // header of the flow column, takes precedence over FlowIndex
	DateLayouts []string // time layouts tried in order, ROC dates are handled separately
}

// DefaultColumns matches the daily exports with the investment-trust net buying in column 17.
func DefaultColumns() Columns {
	return Columns{
		Date:        "時間",
		Close:       "收盤價",
		FlowIndex:   16,
		DateLayouts: []string{"2006/01/02", "2006-01-02", "20060102"},
	}
}
