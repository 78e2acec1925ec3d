package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"limitup/internal/backtest"
	"limitup/internal/report"
)

var compareNoSave bool

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run every configured variant and compare them",
	Long: `compare runs each entry of the compare section, each one the base backtest
parameters with its own keys overlaid, against the same universe and prints
one row per variant.`,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().BoolVar(&compareNoSave, "no-save", false, "do not persist the runs")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, _ []string) error {
	variants, err := cfg.Variants()
	if err != nil {
		return err
	}
	if len(variants) == 0 {
		return errors.New("no variants under compare in the config")
	}

	bt := newBacktester()
	series, err := loadUniverse(cmd, bt)
	if err != nil {
		return err
	}
	results, err := bt.Compare(cmd.Context(), series, variants, cfg.Backtest.Workers)
	if err != nil {
		return err
	}
	if err := report.WriteComparison(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	if compareNoSave {
		return nil
	}
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()
	for _, res := range results {
		if err := backtest.Save(cmd.Context(), rs, res); err != nil {
			return fmt.Errorf("saving variant %s: %w", res.Variant, err)
		}
	}
	return nil
}
