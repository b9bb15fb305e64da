package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3B132016/tws/internal/export"
	"github.com/3B132016/tws/internal/pipeline"
)

const triggerCLI = "cli"

func newPortfolioCmd(a *app) *cobra.Command {
	var securities string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Aggregate win rates across every security",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.securities(splitList(securities))
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(a.pipeline(a.options()), a.cfg.Workers, *a.log)
			report, err := runner.Run(cmd.Context(), ids)
			if err != nil {
				return err
			}

			rec := a.recorder()
			defer rec.Close()
			if err := pipeline.Persist(rec, report, triggerCLI); err != nil {
				a.log.Error().Err(err).Msg("persist portfolio run")
			}

			ex := a.exporter()
			var all []export.SecurityEvents
			for _, res := range report.Results {
				if res.Err == nil {
					all = append(all, export.SecurityEvents{SecurityID: res.SecurityID, Events: res.Events})
				}
			}
			if _, err := ex.Events(all); err != nil {
				return err
			}
			if _, err := ex.WinRates(report.Summary); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d securities, %d failed\n", report.RunID, len(report.Results), len(report.Failed()))
			for _, res := range report.Failed() {
				fmt.Fprintf(out, "  %s: %v\n", res.SecurityID, res.Err)
			}
			printSummary(cmd, report.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&securities, "securities", "", "comma-separated security codes (default: every file in the data dir)")
	return cmd
}

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		securities string
		kind       string
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search the parameter grid for each security",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.securities(splitList(securities))
			if err != nil {
				return err
			}
			sc, err := a.scorer(kind)
			if err != nil {
				return err
			}

			rc := a.resultCache(false)
			defer rc.Close()

			opts := a.options()
			opts.Optimize = true
			p := a.pipeline(opts, pipeline.WithScorer(sc), pipeline.WithCache(rc, a.cacheFingerprint))
			report, err := pipeline.NewRunner(p, a.cfg.Workers, *a.log).Run(cmd.Context(), ids)
			if err != nil {
				return err
			}

			rec := a.recorder()
			defer rec.Close()
			if err := pipeline.Persist(rec, report, triggerCLI); err != nil {
				a.log.Error().Err(err).Msg("persist optimization run")
			}
			path, err := a.exporter().OptimizedParameters(report.Optimizations())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "SECURITY\tWINDOW\tMULTIPLIER\tTHRESHOLD\t%s\tSCORED\n", sc.Name())
			for _, res := range report.Results {
				switch {
				case res.Err != nil:
					fmt.Fprintf(tw, "%s\terror: %v\n", res.SecurityID, res.Err)
				case res.Optimization == nil || !res.Optimization.HasBest():
					fmt.Fprintf(tw, "%s\t-\t-\t-\tnone\t0\n", res.SecurityID)
				default:
					o := res.Optimization
					fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%.4f\t%d/%d\n", res.SecurityID,
						o.BestParams.Window, o.BestParams.Multiplier, o.BestParams.AbsoluteThreshold,
						o.BestScore, o.Scored, o.Evaluated)
				}
			}
			tw.Flush()
			fmt.Fprintf(out, "written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&securities, "securities", "", "comma-separated security codes (default: every file in the data dir)")
	cmd.Flags().StringVar(&kind, "scorer", "", "winrate, meanreturn or model (default from config)")
	return cmd
}
