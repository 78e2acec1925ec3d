package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"limitup/internal/backtest"
	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/store"
	"limitup/internal/strategy"
	"limitup/internal/util"
)

const defaultConfigPath = "config/limitup.yaml"

var (
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "limitup",
	Short: "Limit-up pullback backtester for China A-shares",
	Long: `limitup imports hourly A-share archives into a daily bar cache, detects
limit-up pullback entries, and simulates them against a lot-sized cash
portfolio with stop-loss, trailing take-profit and time-stop exits.

The config file is taken from --config, then $LIMITUP_CONFIG, then
config/limitup.yaml. When none of them exists the built-in defaults apply.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $LIMITUP_CONFIG or "+defaultConfigPath+")")
}

// setup loads the configuration and installs the logger for every command.
func setup(cmd *cobra.Command, _ []string) error {
	path, explicit := cfgPath, cfgPath != ""
	if !explicit {
		if p := os.Getenv("LIMITUP_CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = defaultConfigPath
		}
	}

	c, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		c = config.Default()
	default:
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg = c

	logger = util.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	logger.Debug("config loaded", "path", path, "market", cfg.Universe.Market)
	return nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func newBacktester() *backtest.Backtester {
	return backtest.NewBacktester(
		store.NewParquetStore(cfg.Storage.DataDir),
		strategy.DefaultRegistry(),
		cfg.Universe.Market,
		logger,
	)
}

// loadUniverse reads the configured universe from the bar cache.
func loadUniverse(cmd *cobra.Command, bt *backtest.Backtester) ([]domain.Series, error) {
	start, end, err := cfg.Universe.DateRange()
	if err != nil {
		return nil, fmt.Errorf("universe dates: %w", err)
	}
	series, err := bt.LoadSeries(cmd.Context(), cfg.Universe.Symbols, start, end, cfg.Backtest.Workers)
	if err != nil {
		if errors.Is(err, store.ErrStaleBars) {
			return nil, fmt.Errorf("%w: run `limitup import --rebuild` to rebuild the cache", err)
		}
		return nil, err
	}
	return series, nil
}

func openRunStore() (*store.SQLiteStore, error) {
	rs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	return rs, nil
}
