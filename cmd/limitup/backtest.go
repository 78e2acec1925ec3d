package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"limitup/internal/backtest"
	"limitup/internal/report"
)

var (
	btStrategy string
	btOutput   string
	btNoSave   bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one backtest over the cached universe",
	Long: `backtest detects signals with the configured parameters, simulates them,
prints a summary and stores the run. With --output the trade log, equity
curve and signals are also written as CSV under <output>/<run id>/.`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&btStrategy, "strategy", "", "detector name (default backtest.strategy)")
	backtestCmd.Flags().StringVarP(&btOutput, "output", "o", "", "directory for CSV exports")
	backtestCmd.Flags().BoolVar(&btNoSave, "no-save", false, "do not persist the run")
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	params := cfg.Backtest
	if btStrategy != "" {
		params.Strategy = btStrategy
	}

	bt := newBacktester()
	series, err := loadUniverse(cmd, bt)
	if err != nil {
		return err
	}
	res, err := bt.Run(cmd.Context(), series, params)
	if err != nil {
		return err
	}

	if err := report.WriteSummary(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if btOutput != "" {
		dir := filepath.Join(btOutput, res.RunID)
		if err := exportRun(dir, res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nCSV written to %s\n", dir)
	}

	if btNoSave {
		return nil
	}
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()
	return backtest.Save(cmd.Context(), rs, res)
}

// exportRun writes the run's trades, equity curve and signals into dir.
func exportRun(dir string, res *backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	files := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"trades.csv", func(f *os.File) error { return report.WriteTradesCSV(f, res.Trades) }},
		{"equity.csv", func(f *os.File) error { return report.WriteEquityCSV(f, res.Equity) }},
		{"signals.csv", func(f *os.File) error { return report.WriteSignalsCSV(f, res.Signals) }},
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := file.write(f); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
