package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/3B132016/tws/internal/collector"
	"github.com/3B132016/tws/internal/notifier"
	"github.com/3B132016/tws/internal/pipeline"
	"github.com/3B132016/tws/internal/recorder"
	"github.com/3B132016/tws/internal/scheduler"
	"github.com/3B132016/tws/internal/server"
)

func newETFCheckCmd(a *app) *cobra.Command {
	var securities string
	cmd := &cobra.Command{
		Use:   "etf-check",
		Short: "Check whether any ETF holds each security",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.securities(splitList(securities))
			if err != nil {
				return err
			}
			if a.cfg.ETF.APIKey == "" {
				return fmt.Errorf("etf.api_key (ETF_API_KEY) is required")
			}

			client := collector.NewETFClient(a.cfg.ETF.APIKey, *a.log,
				collector.WithETFBaseURL(a.cfg.ETF.BaseURL),
				collector.WithETFRateLimit(a.cfg.ETF.RateLimit),
				collector.WithProxy(a.cfg.Proxy),
			)
			statuses, err := client.LookupAll(cmd.Context(), ids)
			if err != nil {
				return err
			}

			rec := a.recorder()
			defer rec.Close()
			runID := recorder.NewRunID()
			for _, st := range statuses {
				if err := rec.RecordETFStatus(runID, st); err != nil {
					a.log.Error().Err(err).Str("security", st.SecurityID).Msg("record etf status")
				}
			}

			path, err := a.exporter().ETFStatus(statuses)
			if err != nil {
				return err
			}
			counts := map[string]int{}
			for _, st := range statuses {
				counts[string(st.State)]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d checked: %v, written to %s\n", len(statuses), counts, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&securities, "securities", "", "comma-separated security codes (default: every file in the data dir)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled scans, Telegram commands and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := *a.log

			sc, err := a.scorer("")
			if err != nil {
				return err
			}
			rc := a.resultCache(true)
			defer rc.Close()
			rec := a.recorder()
			defer rec.Close()

			opts := a.options()
			opts.Optimize = true
			p := a.pipeline(opts, pipeline.WithScorer(sc), pipeline.WithCache(rc, a.cacheFingerprint))

			deps := scheduler.Deps{
				Runner:      pipeline.NewRunner(p, a.cfg.Workers, log),
				Recorder:    rec,
				Exporter:    a.exporter(),
				Securities:  func() ([]string, error) { return a.securities(nil) },
				Fingerprint: a.fileFingerprint,
				StateFile:   a.cfg.Schedule.StateFile,
			}
			var tn *notifier.TelegramNotifier
			if a.cfg.TelegramEnabled() {
				tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy, log)
				deps.Notifier = tn
			} else {
				log.Warn().Msg("telegram not configured, reports are only logged")
			}

			sched := scheduler.NewScheduler(ctx, deps, log)
			if err := sched.RegisterAll(a.cfg.Schedule.ScanCron); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if tn != nil {
				go tn.StartPolling(ctx, sched.HandleCommand)
				log.Info().Msg("telegram polling started")
			}

			srv := server.New(a.cfg.Server.Addr, rec, a.metrics, log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			if runOnStart || os.Getenv("RUN_ON_START") == "true" {
				sched.ScanInBackground(scheduler.TriggerCommand)
			}

			log.Info().Str("cron", a.cfg.Schedule.ScanCron).Msg("tws is running, press Ctrl+C to stop")

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received, stopping")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "scan immediately instead of waiting for the schedule")
	return cmd
}
