package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"limitup/internal/report"
)

var (
	signalsStrategy string
	signalsNoSave   bool
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Detect entry signals over the cached universe",
	Long:  `signals runs the configured detector, prints the signals as CSV and stores them.`,
	RunE:  runSignals,
}

func init() {
	signalsCmd.Flags().StringVar(&signalsStrategy, "strategy", "", "detector name (default backtest.strategy)")
	signalsCmd.Flags().BoolVar(&signalsNoSave, "no-save", false, "do not persist the signals")
	rootCmd.AddCommand(signalsCmd)
}

func runSignals(cmd *cobra.Command, _ []string) error {
	params := cfg.Backtest
	if signalsStrategy != "" {
		params.Strategy = signalsStrategy
	}

	bt := newBacktester()
	series, err := loadUniverse(cmd, bt)
	if err != nil {
		return err
	}
	signals, err := bt.Signals(cmd.Context(), series, params)
	if err != nil {
		return err
	}

	if err := report.WriteSignalsCSV(cmd.OutOrStdout(), signals); err != nil {
		return err
	}
	logger.Info("signals detected", "strategy", params.Strategy, "series", len(series), "signals", len(signals))

	if signalsNoSave || len(signals) == 0 {
		return nil
	}
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()
	if err := rs.SaveSignals(cmd.Context(), params.Strategy, signals); err != nil {
		return fmt.Errorf("saving signals: %w", err)
	}
	return nil
}
