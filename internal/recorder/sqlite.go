package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/3B132016/tws/internal/model"
)

// SQLiteRecorder persists analysis results to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder.sqlite").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS optimization_results (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			security_id   TEXT NOT NULL,
			scorer        TEXT,
			lower_better  INTEGER,
			ma_window     INTEGER,
			multiplier    REAL,
			threshold     REAL,
			best_score    REAL,
			evaluated     INTEGER,
			scored        INTEGER,
			completed_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opt_security ON optimization_results(security_id)`,

		`CREATE TABLE IF NOT EXISTS winrate_summaries (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			scope        TEXT NOT NULL,
			horizon      INTEGER NOT NULL,
			samples      INTEGER,
			wins         INTEGER,
			sum_return   REAL,
			win_rate     REAL,
			mean_return  REAL,
			timestamp    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summary_scope ON winrate_summaries(scope)`,

		`CREATE TABLE IF NOT EXISTS intervention_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			security_id  TEXT NOT NULL,
			event_index  INTEGER,
			day          INTEGER,
			close        REAL,
			flow         REAL,
			ma           REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_security ON intervention_events(security_id)`,

		`CREATE TABLE IF NOT EXISTS etf_status (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			security_id  TEXT NOT NULL,
			state        TEXT,
			http_status  INTEGER,
			checked_at   INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS scan_runs (
			id           TEXT PRIMARY KEY,
			trigger_kind TEXT,
			started_at   INTEGER,
			finished_at  INTEGER,
			securities   INTEGER,
			failed       INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_started ON scan_runs(started_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordOptimization(runID string, res *model.OptimizationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var window, mult, thr, score any
	if res.BestParams != nil {
		window = res.BestParams.Window
		mult = res.BestParams.Multiplier
		thr = res.BestParams.AbsoluteThreshold
		score = res.BestScore
	}
	completed := res.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	_, err := r.db.Exec(`INSERT INTO optimization_results
		(run_id, security_id, scorer, lower_better, ma_window, multiplier, threshold,
		 best_score, evaluated, scored, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		runID, res.SecurityID, res.Scorer, res.ScoreIsLowerBetter,
		window, mult, thr, score, res.Evaluated, res.Scored, completed.Unix(),
	)
	return err
}

func (r *SQLiteRecorder) RecordSummary(runID, scope string, summary model.WinRateSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, h := range summary.Horizons() {
		hs := summary[h]
		var mean any
		if hs.MeanReturn != nil {
			mean = *hs.MeanReturn
		}
		if _, err := tx.Exec(`INSERT INTO winrate_summaries
			(run_id, scope, horizon, samples, wins, sum_return, win_rate, mean_return, timestamp)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			runID, scope, h, hs.SampleCount, hs.Wins, hs.SumReturn, hs.WinRate, mean, now,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordEvents(runID, securityID string, events []model.InterventionEvent) error {
	if len(events) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if _, err := tx.Exec(`INSERT INTO intervention_events
			(run_id, security_id, event_index, day, close, flow, ma)
			VALUES (?,?,?,?,?,?,?)`,
			runID, securityID, ev.Index, ev.Time.Unix(), ev.Close, ev.Flow, ev.MA,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordETFStatus(runID string, status model.ETFHoldStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO etf_status
		(run_id, security_id, state, http_status, checked_at)
		VALUES (?,?,?,?,?)`,
		runID, status.SecurityID, string(status.State), status.HTTPStatus, status.CheckedAt.Unix(),
	)
	return err
}

func (r *SQLiteRecorder) RecordScanRun(run *ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT OR REPLACE INTO scan_runs
		(id, trigger_kind, started_at, finished_at, securities, failed)
		VALUES (?,?,?,?,?,?)`,
		run.ID, run.Trigger, run.StartedAt.Unix(), run.FinishedAt.Unix(), run.Securities, run.Failed,
	)
	return err
}

const resultColumns = `security_id, scorer, lower_better, ma_window, multiplier, threshold,
	best_score, evaluated, scored, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*model.OptimizationResult, error) {
	var (
		res       model.OptimizationResult
		window    sql.NullInt64
		mult, thr sql.NullFloat64
		score     sql.NullFloat64
		completed int64
	)
	if err := row.Scan(&res.SecurityID, &res.Scorer, &res.ScoreIsLowerBetter,
		&window, &mult, &thr, &score, &res.Evaluated, &res.Scored, &completed); err != nil {
		return nil, err
	}
	res.CompletedAt = time.Unix(completed, 0)
	res.BestScore = model.WorstScore(res.ScoreIsLowerBetter)
	if window.Valid {
		res.BestParams = &model.DetectionParams{
			Window:            int(window.Int64),
			Multiplier:        mult.Float64,
			AbsoluteThreshold: thr.Float64,
		}
		res.BestScore = score.Float64
	}
	return &res, nil
}

// LatestResults returns the most recent optimization result of every security.
func (r *SQLiteRecorder) LatestResults() ([]model.OptimizationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT ` + resultColumns + ` FROM optimization_results
		WHERE id IN (SELECT MAX(id) FROM optimization_results GROUP BY security_id)
		ORDER BY security_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OptimizationResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) LatestResult(securityID string) (*model.OptimizationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRow(`SELECT `+resultColumns+` FROM optimization_results
		WHERE security_id = ? ORDER BY id DESC LIMIT 1`, securityID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// LatestSummary returns the horizons of the newest run recorded under scope.
func (r *SQLiteRecorder) LatestSummary(scope string) (model.WinRateSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT horizon, samples, wins, sum_return FROM winrate_summaries
		WHERE run_id = (SELECT run_id FROM winrate_summaries WHERE scope = ? ORDER BY id DESC LIMIT 1)
		AND scope = ?`, scope, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := model.WinRateSummary{}
	for rows.Next() {
		var h, samples, wins int
		var sum float64
		if err := rows.Scan(&h, &samples, &wins, &sum); err != nil {
			return nil, err
		}
		summary[h] = model.NewHorizonStats(h, samples, wins, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summary) == 0 {
		return nil, ErrNotFound
	}
	return summary, nil
}

func (r *SQLiteRecorder) LatestScanRun() (*ScanRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var run ScanRun
	var started, finished int64
	err := r.db.QueryRow(`SELECT id, trigger_kind, started_at, finished_at, securities, failed
		FROM scan_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Trigger, &started, &finished, &run.Securities, &run.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(started, 0)
	run.FinishedAt = time.Unix(finished, 0)
	return &run, nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
