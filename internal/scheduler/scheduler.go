package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/export"
	"github.com/3B132016/tws/internal/notifier"
	"github.com/3B132016/tws/internal/pipeline"
	"github.com/3B132016/tws/internal/recorder"
	"github.com/3B132016/tws/internal/state"
)

// Scan triggers.
const (
	TriggerCron    = "cron"
	TriggerCommand = "command"
)

var ErrScanInProgress = errors.New("scan already in progress")

// Sender delivers report messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Deps are the collaborators of the Scheduler. Notifier and Exporter are optional.
type Deps struct {
	Runner      *pipeline.Runner
	Recorder    recorder.Recorder
	Notifier    Sender
	Exporter    *export.Exporter
	Securities  func() ([]string, error)
	Fingerprint func(securityID string) (state.Fingerprint, error)
	StateFile   string
}

// ScanOutcome summarizes one scan.
type ScanOutcome struct {
	Report  *pipeline.Report
	Changed int
	Skipped bool
}

// Scheduler runs portfolio scans on a cron schedule and answers chat commands.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	deps Deps
	mu   sync.Mutex
	bg   sync.WaitGroup
	log  zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, deps Deps, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		Ctx:  ctx,
		deps: deps,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterAll registers the scan task.
func (s *Scheduler) RegisterAll(scanCron string) error {
	if _, err := s.Cron.AddFunc(scanCron, s.scanTask); err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job and for scans
// started with ScanInBackground.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.bg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// ScanInBackground starts a forced scan and reports failures through the
// notifier. Stop waits for it to finish.
func (s *Scheduler) ScanInBackground(trigger string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.Scan(s.Ctx, trigger, true); err != nil {
			if errors.Is(err, ErrScanInProgress) {
				s.trySend(s.Ctx, "⏳ 掃描進行中")
				return
			}
			s.log.Error().Err(err).Str("trigger", trigger).Msg("background scan failed")
			s.trySend(s.Ctx, fmt.Sprintf("❌ 掃描失敗: %v", err))
		}
	}()
}

func (s *Scheduler) scanTask() {
	if _, err := s.Scan(s.Ctx, TriggerCron, false); err != nil && !errors.Is(err, ErrScanInProgress) {
		s.log.Error().Err(err).Msg("scheduled scan failed")
	}
}

// Scan runs the portfolio when any data file changed since the last scan, or
// always when force is set. Optimization results of unchanged securities are
// served by the pipeline cache.
func (s *Scheduler) Scan(ctx context.Context, trigger string, force bool) (*ScanOutcome, error) {
	if !s.mu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.mu.Unlock()

	log := s.log.With().Str("trigger", trigger).Logger()
	ids, err := s.deps.Securities()
	if err != nil {
		return nil, fmt.Errorf("list securities: %w", err)
	}

	st, err := state.Load(s.deps.StateFile)
	if err != nil {
		log.Warn().Err(err).Msg("scan state unreadable, treating every security as changed")
		st = &state.ScanState{}
	}

	fps := make(map[string]state.Fingerprint, len(ids))
	changed := 0
	for _, id := range ids {
		fp, err := s.deps.Fingerprint(id)
		if err != nil {
			changed++
			continue
		}
		fps[id] = fp
		if st.Changed(id, fp) {
			changed++
		}
	}

	outcome := &ScanOutcome{Changed: changed}
	if changed == 0 && !force {
		log.Info().Int("securities", len(ids)).Msg("no data changed, scan skipped")
		outcome.Skipped = true
		return outcome, nil
	}

	report, err := s.deps.Runner.Run(ctx, ids)
	outcome.Report = report
	if err != nil {
		return outcome, fmt.Errorf("portfolio run: %w", err)
	}

	if err := pipeline.Persist(s.deps.Recorder, report, trigger); err != nil {
		log.Error().Err(err).Msg("persist scan")
	}
	if s.deps.Exporter != nil {
		if _, err := s.deps.Exporter.OptimizedParameters(report.Optimizations()); err != nil {
			log.Error().Err(err).Msg("export optimized parameters")
		}
		if _, err := s.deps.Exporter.WinRates(report.Summary); err != nil {
			log.Error().Err(err).Msg("export win rates")
		}
	}

	for _, res := range report.Results {
		if fp, ok := fps[res.SecurityID]; ok && res.Err == nil {
			st.Update(res.SecurityID, fp)
		}
	}
	st.LastRunID = report.RunID
	if err := state.Save(s.deps.StateFile, st); err != nil {
		log.Error().Err(err).Msg("save scan state")
	}

	s.trySend(ctx, notifier.FormatScanReport(digest(report, len(ids)-changed)))
	return outcome, nil
}

func digest(report *pipeline.Report, unchanged int) notifier.ScanDigest {
	d := notifier.ScanDigest{
		RunID:      report.RunID,
		Securities: len(report.Results),
		Skipped:    unchanged,
		Summary:    report.Summary,
		Elapsed:    report.FinishedAt.Sub(report.StartedAt),
	}
	for _, res := range report.Results {
		if res.Err != nil {
			d.Failed = append(d.Failed, res.SecurityID)
			continue
		}
		d.Events += len(res.Events)
	}
	top := report.Optimizations()
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].ScoreIsLowerBetter {
			return top[i].BestScore < top[j].BestScore
		}
		return top[i].BestScore > top[j].BestScore
	})
	if len(top) > 5 {
		top = top[:5]
	}
	d.Top = top
	return d
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}

	switch fields[0] {
	case "/summary", "勝率":
		summary, err := s.deps.Recorder.LatestSummary(recorder.ScopePortfolio)
		if errors.Is(err, recorder.ErrNotFound) {
			return "尚無掃描紀錄"
		}
		if err != nil {
			s.log.Error().Err(err).Msg("load summary")
			return "❌ 讀取失敗"
		}
		return notifier.FormatWinRates("組合勝率", summary)
	case "/best", "最佳":
		if len(fields) < 2 {
			return "用法: /best &lt;代碼&gt;"
		}
		res, err := s.deps.Recorder.LatestResult(fields[1])
		if errors.Is(err, recorder.ErrNotFound) {
			return fmt.Sprintf("查無 %s 的最佳化紀錄", fields[1])
		}
		if err != nil {
			s.log.Error().Err(err).Msg("load result")
			return "❌ 讀取失敗"
		}
		return notifier.FormatBest(res)
	case "/scan", "掃描":
		s.ScanInBackground(TriggerCommand)
		return "🔄 掃描已開始"
	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if s.deps.Notifier == nil {
		s.log.Debug().Msg("no notifier configured, report not sent")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := s.deps.Notifier.SendWithRetry(sendCtx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
