package commands

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/cache"
	"github.com/3B132016/tws/internal/collector"
	"github.com/3B132016/tws/internal/config"
	"github.com/3B132016/tws/internal/export"
	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/optimizer"
	"github.com/3B132016/tws/internal/pipeline"
	"github.com/3B132016/tws/internal/recorder"
	"github.com/3B132016/tws/internal/scorer"
	"github.com/3B132016/tws/internal/state"
)

// app carries the loaded configuration and builds components from it.
type app struct {
	cfg     *config.Config
	log     *zerolog.Logger
	metrics *metrics.Recorder
}

func (a *app) columns() collector.Columns {
	cols := collector.DefaultColumns()
	d := a.cfg.Data
	cols.Date = d.DateColumn
	cols.Close = d.CloseColumn
	cols.FlowIndex = d.FlowColumn
	cols.FlowName = d.FlowName
	if len(d.DateLayouts) > 0 {
		cols.DateLayouts = d.DateLayouts
	}
	return cols
}

func (a *app) dataExt() string {
	if a.cfg.Data.Format == "html" {
		return a.cfg.Data.HTMLExt
	}
	return ".csv"
}

func (a *app) loader() collector.Loader {
	if a.cfg.Data.Format == "html" {
		return collector.NewHTMLLoader(a.cfg.Data.Dir, a.cfg.Data.HTMLExt, a.columns())
	}
	return collector.NewCSVLoader(a.cfg.Data.Dir, a.columns())
}

func (a *app) collector() *collector.Collector {
	return collector.NewCollector(a.loader(), *a.log, a.metrics)
}

// securities resolves the worklist: the flag, then the config, then every file in the data dir.
func (a *app) securities(flag []string) ([]string, error) {
	if len(flag) > 0 {
		return flag, nil
	}
	if len(a.cfg.Data.Securities) > 0 {
		return a.cfg.Data.Securities, nil
	}
	return collector.ListSecurities(a.cfg.Data.Dir, a.dataExt())
}

func (a *app) dataPath(securityID string) string {
	return filepath.Join(a.cfg.Data.Dir, securityID+a.dataExt())
}

func (a *app) fileFingerprint(securityID string) (state.Fingerprint, error) {
	return state.FileFingerprint(a.dataPath(securityID))
}

func (a *app) cacheFingerprint(securityID string) (string, error) {
	fp, err := a.fileFingerprint(securityID)
	if err != nil {
		return "", err
	}
	return fp.String(), nil
}

func (a *app) scorer(kind string) (optimizer.Scorer, error) {
	if kind == "" {
		kind = a.cfg.Scorer.Kind
	}
	sc := a.cfg.Scorer
	switch strings.ToLower(kind) {
	case "winrate":
		return scorer.NewStatScorer(*a.log, sc.Horizons, scorer.MetricWinRate)
	case "meanreturn":
		return scorer.NewStatScorer(*a.log, sc.Horizons, scorer.MetricMeanReturn)
	case "model":
		if sc.ModelURL == "" {
			return nil, fmt.Errorf("scorer.model_url is required for the model scorer")
		}
		return scorer.NewModelScorer(sc.ModelURL, *a.log,
			scorer.WithHTTPClient(&http.Client{Timeout: sc.Timeout}),
			scorer.WithBreaker(sc.Breaker.Failures, sc.Breaker.OpenFor),
			scorer.WithModelMetrics(a.metrics),
		), nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", kind)
	}
}

// resultCache connects to Redis when configured. Without Redis a long-lived
// process keeps results in memory and a one-shot command does not cache.
func (a *app) resultCache(longLived bool) cache.ResultCache {
	c := a.cfg.Cache
	if c.RedisAddr != "" {
		rc, err := cache.NewRedisCache(
			cache.WithAddr(c.RedisAddr),
			cache.WithPassword(c.Password),
			cache.WithDB(c.DB),
			cache.WithTTL(c.TTL),
		)
		if err == nil {
			a.log.Info().Str("addr", c.RedisAddr).Msg("redis result cache enabled")
			return rc
		}
		a.log.Warn().Err(err).Msg("redis unavailable, falling back")
	}
	if longLived {
		return cache.NewMemoryCache(c.TTL)
	}
	return cache.NewNoopCache()
}

func (a *app) recorder() recorder.Recorder {
	if a.cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(a.cfg.Database.SQLitePath, *a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		return recorder.NewNoopRecorder()
	}
	return sr
}

func (a *app) exporter() *export.Exporter {
	return export.New(a.cfg.Export.Dir, *a.log)
}

func (a *app) options() pipeline.Options {
	return pipeline.Options{
		Params:   a.cfg.Detection,
		Horizons: a.cfg.Horizons,
		Grid:     a.cfg.Grid,
	}
}

func (a *app) pipeline(opts pipeline.Options, extra ...pipeline.Option) *pipeline.Pipeline {
	extra = append(extra, pipeline.WithMetrics(a.metrics))
	return pipeline.New(a.collector(), opts, *a.log, extra...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
