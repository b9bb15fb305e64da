package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3B132016/tws/internal/config"
	"github.com/3B132016/tws/internal/logger"
	"github.com/3B132016/tws/internal/metrics"
)

// Execute runs the tws command line.
func Execute(ctx context.Context) error {
	a := &app{}
	root := newRootCmd(a)
	if err := root.ExecuteContext(ctx); err != nil {
		if a.log != nil {
			a.log.Error().Err(err).Msg("command failed")
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return err
	}
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "tws",
		Short:         "Investment-trust net buying analyzer for Taiwan equities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			log := logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			a.cfg = cfg
			a.log = &log
			a.metrics = metrics.New()
			return nil
		},
	}

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newDetectCmd(a),
		newEvaluateCmd(a),
		newCurveCmd(a),
		newPortfolioCmd(a),
		newOptimizeCmd(a),
		newETFCheckCmd(a),
		newServeCmd(a),
	)
	return root
}
