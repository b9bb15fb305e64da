package recorder

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/3B132016/tws/internal/model"
)

var ErrNotFound = errors.New("recorder: not found")

// Summary scopes.
const (
	ScopePortfolio = "portfolio"
)

// ScanRun describes one portfolio scan.
type ScanRun struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"` // "cli", "cron" or "command"
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Securities int       `json:"securities"`
	Failed     int       `json:"failed"`
}

// NewRunID returns an identifier shared by all rows of one run.
func NewRunID() string {
	return uuid.NewString()
}

// Recorder persists analysis results for later reporting.
type Recorder interface {
	RecordOptimization(runID string, res *model.OptimizationResult) error
	RecordSummary(runID, scope string, summary model.WinRateSummary) error
	RecordEvents(runID, securityID string, events []model.InterventionEvent) error
	RecordETFStatus(runID string, status model.ETFHoldStatus) error
	RecordScanRun(run *ScanRun) error

	LatestResults() ([]model.OptimizationResult, error)
	LatestResult(securityID string) (*model.OptimizationResult, error)
	LatestSummary(scope string) (model.WinRateSummary, error)
	LatestScanRun() (*ScanRun, error)

	Close() error
}
