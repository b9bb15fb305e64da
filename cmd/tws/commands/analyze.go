package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3B132016/tws/internal/analysis"
	"github.com/3B132016/tws/internal/export"
	"github.com/3B132016/tws/internal/model"
)

// paramFlags overrides the configured detection parameters for one invocation.
type paramFlags struct {
	window     int
	multiplier float64
	threshold  float64
	cooldown   int
}

func (p *paramFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.window, "window", 0, "moving-average window (0 keeps config)")
	cmd.Flags().Float64Var(&p.multiplier, "multiplier", 0, "MA multiplier (0 keeps config)")
	cmd.Flags().Float64Var(&p.threshold, "threshold", -1, "absolute flow threshold (-1 keeps config)")
	cmd.Flags().IntVar(&p.cooldown, "cooldown", -1, "days to suppress after an event (-1 keeps config)")
}

func (p *paramFlags) apply(base model.DetectionParams) model.DetectionParams {
	if p.window > 0 {
		base.Window = p.window
	}
	if p.multiplier > 0 {
		base.Multiplier = p.multiplier
	}
	if p.threshold >= 0 {
		base.AbsoluteThreshold = p.threshold
	}
	if p.cooldown >= 0 {
		base.Cooldown = p.cooldown
	}
	return base
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		security string
		pf       paramFlags
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List the days with abnormal investment-trust net buying",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := pf.apply(a.cfg.Detection)
			series, err := a.collector().Collect(cmd.Context(), security)
			if err != nil {
				return err
			}
			events, err := analysis.NewDetector(*a.log).Detect(series, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  records=%d dropped=%d\n", security, params, series.Len(), series.Dropped)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tCLOSE\tFLOW\tFLOW_MA")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%.2f\t%.0f\t%.2f\n", ev.Time.Format("2006-01-02"), ev.Close, ev.Flow, ev.MA)
			}
			tw.Flush()
			fmt.Fprintf(out, "%d event(s)\n", len(events))
			return nil
		},
	}
	cmd.Flags().StringVarP(&security, "security", "s", "", "security code")
	_ = cmd.MarkFlagRequired("security")
	pf.bind(cmd)
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		security string
		pf       paramFlags
		doExport bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure forward returns and win rates after each event",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.options()
			opts.Params = pf.apply(opts.Params)
			res, err := a.pipeline(opts).Run(cmd.Context(), security)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  events=%d skipped=%d\n", security, res.Params, len(res.Events), res.Skipped)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprint(tw, "DATE\tCLOSE")
			for _, h := range opts.Horizons {
				fmt.Fprintf(tw, "\t+%dD", h)
			}
			fmt.Fprintln(tw)

			byEvent := make(map[int][]model.ForwardReturn, len(res.Events))
			for _, fr := range res.Returns {
				byEvent[fr.EventIndex] = append(byEvent[fr.EventIndex], fr)
			}
			for _, ev := range res.Events {
				fmt.Fprintf(tw, "%s\t%.2f", ev.Time.Format("2006-01-02"), ev.Close)
				for _, fr := range byEvent[ev.Index] {
					if fr.Defined {
						fmt.Fprintf(tw, "\t%+.2f%%", fr.PercentChange)
					} else {
						fmt.Fprint(tw, "\t-")
					}
				}
				fmt.Fprintln(tw)
			}
			tw.Flush()
			printSummary(cmd, res.Summary)

			if doExport {
				ex := a.exporter()
				if _, err := ex.Events([]export.SecurityEvents{{SecurityID: security, Events: res.Events}}); err != nil {
					return err
				}
				if _, err := ex.WinRates(res.Summary); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&security, "security", "s", "", "security code")
	cmd.Flags().BoolVar(&doExport, "export", false, "write events and win rates as CSV")
	_ = cmd.MarkFlagRequired("security")
	pf.bind(cmd)
	return cmd
}

func newCurveCmd(a *app) *cobra.Command {
	var (
		security string
		days     int
		pf       paramFlags
	)
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Export the day-by-day price change after each event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				days = a.cfg.CurveDays
			}
			opts := a.options()
			opts.Params = pf.apply(opts.Params)
			opts.CurveDays = days

			res, err := a.pipeline(opts).Run(cmd.Context(), security)
			if err != nil {
				return err
			}
			path, err := a.exporter().Curve(security, res.Curves, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d curve(s) over %d day(s) written to %s\n", len(res.Curves), days, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&security, "security", "s", "", "security code")
	cmd.Flags().IntVar(&days, "days", 0, "number of day offsets (0 keeps config)")
	_ = cmd.MarkFlagRequired("security")
	pf.bind(cmd)
	return cmd
}

func printSummary(cmd *cobra.Command, summary model.WinRateSummary) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HORIZON\tWIN_RATE\tSAMPLES\tMEAN")
	for _, h := range summary.Horizons() {
		hs := summary[h]
		if hs.SampleCount == 0 {
			fmt.Fprintf(tw, "%d\t-\t0\t-\n", h)
			continue
		}
		fmt.Fprintf(tw, "%d\t%.2f%%\t%d\t%+.2f%%\n", h, hs.WinRate*100, hs.SampleCount, *hs.MeanReturn)
	}
	tw.Flush()
}
