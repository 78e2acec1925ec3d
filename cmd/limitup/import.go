package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"limitup/internal/domain"
	"limitup/internal/gather/cn"
	"limitup/internal/store"
)

var (
	importFresh   bool
	importRebuild bool
	importSymbols []string
	importWorkers int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert hourly archives into the daily bar cache",
	Long: `import reads <archive_dir>/<year>_60min.zip, aggregates every instrument's
hourly rows into daily bars and merges them into the parquet cache.

Instruments that produced no bars are remembered and skipped on the next
run; --fresh retries them. --rebuild discards the whole cache first, which
is required after the bar schema changes.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importFresh, "fresh", false, "retry instruments previously found empty")
	importCmd.Flags().BoolVar(&importRebuild, "rebuild", false, "discard cached bars before importing (implies --fresh)")
	importCmd.Flags().StringSliceVar(&importSymbols, "symbols", nil, "import only these codes")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "concurrent imports (default gather.cn_daily.max_workers)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	job := cfg.Gather.CNDaily
	if job.ArchiveDir == "" {
		return errors.New("gather.cn_daily.archive_dir is not set")
	}
	workers := job.MaxWorkers
	if importWorkers > 0 {
		workers = importWorkers
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	if importRebuild {
		if err := bars.Reset(string(domain.MarketCN)); err != nil {
			return fmt.Errorf("resetting bar cache: %w", err)
		}
		logger.Info("bar cache cleared", "market", domain.MarketCN)
	}

	archive := cn.NewArchive(job.ArchiveDir, job.Years, logger)
	defer archive.Close()

	g := cn.NewDailyBarGatherer(archive, bars, cfg.Storage.DataDir, importSymbols, workers, logger)

	run := g.Run
	if importFresh || importRebuild {
		run = g.RunFresh
	}
	err := run(cmd.Context())

	st := g.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s instruments imported (%s bars), %s empty, %s skipped\n",
		g.Name(),
		humanize.Comma(st.Imported),
		humanize.Comma(st.Bars),
		humanize.Comma(st.Empty),
		humanize.Comma(st.Skipped),
	)
	return err
}
