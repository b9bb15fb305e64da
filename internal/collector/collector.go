package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
)

// MockLoader serves fixed series for development and testing.
type MockLoader struct {
	Series map[string]*model.Series
}

func (m *MockLoader) Name() string { return "mock" }

func (m *MockLoader) Load(_ context.Context, securityID string) (*model.Series, error) {
	s, ok := m.Series[securityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecurityNotFound, securityID)
	}
	cp := *s
	cp.Records = append([]model.DailyRecord(nil), s.Records...)
	return &cp, nil
}

// Collector loads series through a Loader and reports dropped rows.
type Collector struct {
	Loader  Loader
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// NewCollector creates a new Collector.
func NewCollector(loader Loader, log zerolog.Logger, m *metrics.Recorder) *Collector {
	return &Collector{
		Loader:  loader,
		log:     log.With().Str("component", "collector").Str("source", loader.Name()).Logger(),
		metrics: m,
	}
}

// Collect loads one security's series. Each call returns a series owned by the caller.
func (c *Collector) Collect(ctx context.Context, securityID string) (*model.Series, error) {
	series, err := c.Loader.Load(ctx, securityID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", securityID, err)
	}
	if series.Dropped > 0 {
		c.log.Warn().
			Str("security", securityID).
			Int("dropped", series.Dropped).
			Int("kept", series.Len()).
			Msg("malformed records dropped")
		c.metrics.RecordDropped(securityID, series.Dropped)
	}
	c.log.Debug().Str("security", securityID).Int("records", series.Len()).Msg("series loaded")
	return series, nil
}

// ListSecurities returns the security IDs of every file in dir with the given
// extension, sorted.
func ListSecurities(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(ids)
	return ids, nil
}
