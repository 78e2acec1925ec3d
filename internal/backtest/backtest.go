// Package backtest wires the detector, engine and metrics into complete
// runs over cached daily bars, and runs strategy variants side by side.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/engine"
	"limitup/internal/metrics"
	"limitup/internal/store"
	"limitup/internal/strategy"
	"limitup/internal/util"
)

// Result holds everything produced by one backtest run.
type Result struct {
	RunID     string
	Strategy  string
	Variant   string
	Status    engine.Status
	CreatedAt time.Time
	Signals   []domain.Signal
	Trades    []domain.Trade
	Equity    []domain.EquityPoint
	Metrics   domain.Metrics
	FinalCash float64
	Config    config.Backtest
}

// Backtester replays cached daily bars through a detector and the
// simulation engine and computes performance metrics.
type Backtester struct {
	store    store.BarStore
	registry *strategy.Registry
	market   string
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars for market from the
// given store and looks up detectors in the provided registry.
func NewBacktester(barStore store.BarStore, registry *strategy.Registry, market string, logger *slog.Logger) *Backtester {
	return &Backtester{
		store:    barStore,
		registry: registry,
		market:   market,
		log:      util.OrDefault(logger),
	}
}

// LoadSeries reads the bars of every symbol within [start, end] using up to
// workers concurrent reads. An empty symbols list loads every stored symbol.
// Symbols without bars are dropped; the rest are returned sorted by symbol.
func (bt *Backtester) LoadSeries(ctx context.Context, symbols []string, start, end time.Time, workers int) ([]domain.Series, error) {
	if len(symbols) == 0 {
		var err error
		if symbols, err = bt.store.ListSymbols(ctx, bt.market); err != nil {
			return nil, fmt.Errorf("listing symbols: %w", err)
		}
	}
	if workers <= 0 {
		workers = 1
	}

	loaded := make([]domain.Series, len(symbols))
	sem := make(chan struct{}, workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, sym := range symbols {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			bars, err := bt.store.ReadBars(gctx, sym, bt.market, start, end)
			if err != nil {
				return fmt.Errorf("reading %s: %w", sym, err)
			}
			loaded[i] = domain.Series{Symbol: sym, Bars: bars}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	series := make([]domain.Series, 0, len(loaded))
	for _, s := range loaded {
		if len(s.Bars) > 0 {
			series = append(series, s)
		}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Symbol < series[j].Symbol })

	bt.log.Info("series loaded", "requested", len(symbols), "loaded", len(series))
	return series, nil
}

// Signals runs the detector named by cfg.Strategy over series.
func (bt *Backtester) Signals(ctx context.Context, series []domain.Series, cfg config.Backtest) ([]domain.Signal, error) {
	det, err := bt.registry.New(cfg.Strategy, cfg)
	if err != nil {
		return nil, err
	}
	return strategy.DetectAll(ctx, det, series, cfg.Workers)
}

// Run detects signals, simulates them and computes metrics for one
// parameter set. Empty inputs produce a result with StatusNoData or
// StatusNoSignals rather than an error.
func (bt *Backtester) Run(ctx context.Context, series []domain.Series, cfg config.Backtest) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     util.NewRunID(),
		Strategy:  cfg.Strategy,
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
	}

	if cfg.Strategy == strategy.NameLimitUpFiltered && cfg.Filters.Turnover.Enabled && !hasTurnover(series) {
		bt.log.Warn("turnover filter enabled but no bar carries a turnover rate; every day will be rejected",
			"run", res.RunID, "series", len(series))
	}

	signals, err := bt.Signals(ctx, series, cfg)
	if err != nil {
		return nil, err
	}
	res.Signals = signals

	out, err := engine.NewEngine(cfg, bt.log.With("run", res.RunID)).Run(ctx, series, signals)
	if err != nil {
		return nil, err
	}
	res.Status = out.Status
	res.Trades = out.Trades
	res.Equity = out.Equity
	res.FinalCash = out.FinalCash
	res.Metrics = metrics.Compute(out.Trades, out.Equity, cfg)

	bt.log.Info("backtest finished",
		"run", res.RunID,
		"strategy", res.Strategy,
		"status", res.Status,
		"signals", len(signals),
		"trades", len(res.Trades),
		"total_return", res.Metrics.TotalReturn,
	)
	return res, nil
}

// hasTurnover reports whether any bar in series has a turnover rate.
func hasTurnover(series []domain.Series) bool {
	for _, s := range series {
		for _, b := range s.Bars {
			if b.TurnoverRate != nil {
				return true
			}
		}
	}
	return false
}

// Compare runs every variant against the same series. Runs are isolated
// and execute concurrently; results are returned in variant order.
func (bt *Backtester) Compare(ctx context.Context, series []domain.Series, variants []config.Variant, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]*Result, len(variants))
	sem := make(chan struct{}, workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, v := range variants {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			res, err := bt.Run(gctx, series, v.Backtest)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			res.Variant = v.Name
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Save writes the run to rs, retrying while the database is busy.
func Save(ctx context.Context, rs store.RunStore, res *Result) error {
	params, err := yaml.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}

	run := &store.Run{
		ID:          res.RunID,
		Strategy:    res.Strategy,
		Variant:     res.Variant,
		Status:      string(res.Status),
		CreatedAt:   res.CreatedAt,
		SignalCount: len(res.Signals),
		Params:      string(params),
		Metrics:     res.Metrics,
		Trades:      res.Trades,
		Equity:      res.Equity,
	}
	return util.RetryIf(ctx, 3, 200*time.Millisecond, isBusy, func() error {
		return rs.SaveRun(ctx, run)
	})
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
