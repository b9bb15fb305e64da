package recorder

import "github.com/3B132016/tws/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordOptimization(string, *model.OptimizationResult) error { return nil }
func (n *NoopRecorder) RecordSummary(string, string, model.WinRateSummary) error { return nil }
func (n *NoopRecorder) RecordEvents(string, string, []model.InterventionEvent) error { return nil }
func (n *NoopRecorder) RecordETFStatus(string, model.ETFHoldStatus) error { return nil }
func (n *NoopRecorder) RecordScanRun(*ScanRun) error { return nil }

func (n *NoopRecorder) LatestResults() ([]model.OptimizationResult, error) { return nil, nil }

func (n *NoopRecorder) LatestResult(string) (*model.OptimizationResult, error) {
	return nil, ErrNotFound
}

func (n *NoopRecorder) LatestSummary(string) (model.WinRateSummary, error) {
	return nil, ErrNotFound
}

func (n *NoopRecorder) LatestScanRun() (*ScanRun, error) { return nil, ErrNotFound }

func (n *NoopRecorder) Close() error { return nil }
