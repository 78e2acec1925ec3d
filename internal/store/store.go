// Package store defines storage interfaces for persisting and retrieving
// daily bars, backtest runs and detected signals, with Parquet and SQLite
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"limitup/internal/domain"
)

// ErrStaleBars is returned when the on-disk bar cache was written with a
// different schema version and must be re-imported.
var ErrStaleBars = errors.New("bar cache schema is stale")

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market, merging
	// with any bars already stored for the same symbol and date.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], sorted by date.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Run is one persisted backtest with its parameters and metrics. Trades and
// Equity are written by SaveRun and left empty by ListRuns.
type Run struct {
	ID          string
	Strategy    string
	Variant     string
	Status      string
	CreatedAt   time.Time
	SignalCount int
	Params      string // YAML of the backtest parameters
	Metrics     domain.Metrics
	Trades      []domain.Trade
	Equity      []domain.EquityPoint
}

// RunStore persists completed backtest runs.
type RunStore interface {
	// SaveRun stores the run, its trade log and equity curve atomically.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns the run header and metrics for id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// ListTrades returns the trade log of a run in exit order.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// ListEquity returns the equity curve of a run in date order.
	ListEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}

// SignalStore persists and retrieves detected entry signals.
type SignalStore interface {
	// SaveSignals stores signals under a strategy name, replacing any
	// previous signal for the same symbol and date.
	SaveSignals(ctx context.Context, strategy string, signals []domain.Signal) error

	// ListSignals returns the most recent signals for a strategy, up to limit.
	ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error)
}
