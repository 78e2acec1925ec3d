// Package engine simulates a signal-driven portfolio: a cash ledger with
// lot-sized positions, per-position exit rules, and the daily event loop that
// ties them to a stream of dated entry signals.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/util"
)

// Status describes how a run ended.
type Status string

const (
	StatusNoData    Status = "no-data"
	StatusNoSignals Status = "no-signals"
	StatusCompleted Status = "completed"
)

// Result is the output of one simulation.
type Result struct {
	Status    Status
	Signals   int
	Trades    []domain.Trade
	Equity    []domain.EquityPoint
	FinalCash float64
}

// Engine runs the daily event loop for one parameter set. Every Run builds
// a fresh ledger, so an Engine may be reused and runs never share state.
type Engine struct {
	cfg  config.Backtest
	risk *RiskController
	log  *slog.Logger
}

// NewEngine creates a new Engine for the given parameters.
func NewEngine(cfg config.Backtest, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		risk: NewRiskController(cfg),
		log:  util.OrDefault(logger),
	}
}

// Run simulates trading the signals against series.
//
// Dates are the distinct signal dates in ascending order. On each date the
// engine opens positions for that date's signals (by symbol), evaluates exit
// rules for every held symbol that has a bar that day, then records the
// portfolio value. Positions still open afterwards are closed at their last
// bar with reason end-of-backtest.
//
// Empty inputs are not errors: the result carries StatusNoData or
// StatusNoSignals. Run returns an error only when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, series []domain.Series, signals []domain.Signal) (*Result, error) {
	idx := newBarIndex(series)
	if idx.empty() {
		return &Result{Status: StatusNoData, FinalCash: e.cfg.InitialCapital}, nil
	}
	if len(signals) == 0 {
		return &Result{Status: StatusNoSignals, FinalCash: e.cfg.InitialCapital}, nil
	}

	ordered := slices.Clone(signals)
	domain.SortSignals(ordered)

	ledger := NewLedger(e.cfg, e.log)
	res := &Result{Status: StatusCompleted, Signals: len(ordered)}

	for start := 0; start < len(ordered); {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled: %w", err)
		}

		date := domain.Date(ordered[start].Date)
		end := start
		for end < len(ordered) && domain.Date(ordered[end].Date).Equal(date) {
			end++
		}

		for _, sig := range ordered[start:end] {
			last, ok := idx.last(sig.Symbol)
			if !ok {
				e.log.Debug("signal without bars", "symbol", sig.Symbol, "date", date.Format(time.DateOnly))
				continue
			}
			// A position opened after the final bar could never be marked
			// and would be closed before its entry date.
			if date.After(last.Date) {
				e.log.Debug("signal after last bar", "symbol", sig.Symbol, "date", date.Format(time.DateOnly),
					"last_bar", last.Date.Format(time.DateOnly))
				continue
			}
			ledger.Open(sig.Symbol, sig.ReferencePrice, date)
		}

		for _, sym := range ledger.Symbols() {
			bar, ok := idx.bar(sym, date)
			if !ok {
				continue
			}
			ledger.Mark(sym, bar.Close)

			dec, err := ledger.Review(sym, bar.Close, date, e.risk)
			if err != nil {
				return nil, err
			}
			if !dec.Exit() {
				continue
			}
			trade, err := ledger.Close(sym, bar.Close, date, dec.Reason)
			if err != nil {
				return nil, err
			}
			res.Trades = append(res.Trades, trade)
		}

		res.Equity = appendEquity(res.Equity, date, ledger.Value())
		start = end
	}

	for _, sym := range ledger.Symbols() {
		last, ok := idx.last(sym)
		if !ok {
			continue
		}
		trade, err := ledger.Close(sym, last.Close, last.Date, domain.ExitEndOfRun)
		if err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, trade)
	}

	res.FinalCash = ledger.Cash()
	e.log.Info("run complete",
		"signals", res.Signals,
		"trades", len(res.Trades),
		"days", len(res.Equity),
		"final_cash", res.FinalCash,
	)
	return res, nil
}

// appendEquity adds the valuation for date. The daily return is relative to
// the previous point, and 0 for the first point or a zero previous value.
func appendEquity(curve []domain.EquityPoint, date time.Time, value float64) []domain.EquityPoint {
	var ret float64
	if n := len(curve); n > 0 && curve[n-1].PortfolioValue != 0 {
		prev := curve[n-1].PortfolioValue
		ret = (value - prev) / prev
	}
	return append(curve, domain.EquityPoint{Date: date, PortfolioValue: value, DailyReturn: ret})
}

// ---------------------------------------------------------------------------
// Bar lookup
// ---------------------------------------------------------------------------

// barIndex gives constant-time access to a symbol's bar on a date.
type barIndex struct {
	byDate map[string]map[time.Time]domain.Bar
	final  map[string]domain.Bar
}

func newBarIndex(series []domain.Series) *barIndex {
	idx := &barIndex{
		byDate: make(map[string]map[time.Time]domain.Bar, len(series)),
		final:  make(map[string]domain.Bar, len(series)),
	}
	for _, s := range series {
		if len(s.Bars) == 0 {
			continue
		}
		m := make(map[time.Time]domain.Bar, len(s.Bars))
		for _, b := range s.Bars {
			b.Date = domain.Date(b.Date)
			m[b.Date] = b
		}
		idx.byDate[s.Symbol] = m
		last := s.Bars[len(s.Bars)-1]
		last.Date = domain.Date(last.Date)
		idx.final[s.Symbol] = last
	}
	return idx
}

func (idx *barIndex) empty() bool { return len(idx.byDate) == 0 }

func (idx *barIndex) bar(symbol string, date time.Time) (domain.Bar, bool) {
	b, ok := idx.byDate[symbol][date]
	return b, ok
}

func (idx *barIndex) last(symbol string) (domain.Bar, bool) {
	b, ok := idx.final[symbol]
	return b, ok
}
