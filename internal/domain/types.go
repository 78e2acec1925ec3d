// Package domain defines the core data types shared across the limitup
// backtesting system: daily bars, entry signals, positions, closed trades and
// the equity curve.
package domain

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Market identifies the exchange group a bar series belongs to.
type Market string

const (
	MarketCN Market = "cn"
)

// Bar is one daily observation for a single instrument.
type Bar struct {
	Symbol    string
	Date      time.Time // midnight UTC
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Amount    float64  // turnover amount (CNY)
	PctChange *float64 // percent; nil for the first bar of a series
	Amplitude float64  // percent
	// TurnoverRate is the share turnover in percent, nil when the source
	// does not provide it.
	TurnoverRate *float64
}

// Series is an instrument's bars ordered by ascending date with unique dates.
type Series struct {
	Symbol string
	Bars   []Bar
}

// Last returns the final bar of the series. ok is false for an empty series.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Date truncates t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Pct returns a pointer to v, for building bars with a known percentage change.
func Pct(v float64) *float64 {
	return &v
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Signal is a dated entry trigger produced by a detector. Signals are
// immutable once emitted.
type Signal struct {
	Symbol         string
	Date           time.Time
	TriggerDate    time.Time
	TriggerPrice   float64 // close of the trigger day
	ReferencePrice float64 // close of the signal day
	VolumeRatio    float64
}

// SortSignals orders signals by date, breaking ties on symbol, so that
// same-day signals are always consumed in the same order.
func SortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Symbol < b.Symbol
	})
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop-loss"
	ExitTakeProfit ExitReason = "take-profit"
	ExitTimeStop   ExitReason = "time-stop"
	ExitEndOfRun   ExitReason = "end-of-backtest"
)

// Position is an open holding. It exists only while open and is owned by the
// portfolio ledger.
type Position struct {
	Symbol          string
	EntryPrice      float64 // execution price including slippage
	EntryDate       time.Time
	Quantity        int64
	Cost            float64 // cash paid including commission
	HighestPrice    float64
	TakeProfitArmed bool
}

// Trade is a closed position appended to the trade log.
type Trade struct {
	Symbol      string
	EntryDate   time.Time
	ExitDate    time.Time
	EntryPrice  float64
	ExitPrice   float64
	Quantity    int64
	ReturnPct   float64
	HoldingDays int
	ExitReason  ExitReason
	Profit      float64 // proceeds minus entry cost
}

// EquityPoint is the portfolio valuation at the end of one simulated day.
type EquityPoint struct {
	Date           time.Time
	PortfolioValue float64
	DailyReturn    float64
}

// ---------------------------------------------------------------------------
// Performance
// ---------------------------------------------------------------------------

// Metrics summarises a completed run.
type Metrics struct {
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	TotalTrades      int
	WinTrades        int
	LoseTrades       int
	WinRate          float64
	AvgWin           float64
	AvgLoss          float64
	ProfitFactor     float64
	AvgHoldingDays   float64
}
