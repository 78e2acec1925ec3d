package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored backtest runs, newest first",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	runs, err := rs.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTRATEGY\tVARIANT\tSTATUS\tSIGNALS\tTRADES\tTOTAL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.2f%%\n",
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Strategy,
			r.Variant,
			r.Status,
			r.SignalCount,
			r.Metrics.TotalTrades,
			r.Metrics.TotalReturn*100,
		)
	}
	return tw.Flush()
}
