package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"limitup/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore and SignalStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	strategy          TEXT NOT NULL,
	variant           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	signal_count      INTEGER NOT NULL DEFAULT 0,
	params            TEXT NOT NULL DEFAULT '',
	initial_capital   REAL NOT NULL DEFAULT 0,
	final_value       REAL NOT NULL DEFAULT 0,
	total_return      REAL NOT NULL DEFAULT 0,
	annualized_return REAL NOT NULL DEFAULT 0,
	volatility        REAL NOT NULL DEFAULT 0,
	sharpe_ratio      REAL NOT NULL DEFAULT 0,
	max_drawdown      REAL NOT NULL DEFAULT 0,
	total_trades      INTEGER NOT NULL DEFAULT 0,
	win_trades        INTEGER NOT NULL DEFAULT 0,
	lose_trades       INTEGER NOT NULL DEFAULT 0,
	win_rate          REAL NOT NULL DEFAULT 0,
	avg_win           REAL NOT NULL DEFAULT 0,
	avg_loss          REAL NOT NULL DEFAULT 0,
	profit_factor     REAL NOT NULL DEFAULT 0,
	avg_holding_days  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	symbol       TEXT NOT NULL,
	entry_date   TEXT NOT NULL,
	exit_date    TEXT NOT NULL,
	entry_price  REAL NOT NULL,
	exit_price   REAL NOT NULL,
	quantity     INTEGER NOT NULL,
	return_pct   REAL NOT NULL,
	holding_days INTEGER NOT NULL,
	exit_reason  TEXT NOT NULL,
	profit       REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS equity (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	date            TEXT NOT NULL,
	portfolio_value REAL NOT NULL,
	daily_return    REAL NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS signals (
	strategy        TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	date            TEXT NOT NULL,
	trigger_date    TEXT NOT NULL,
	trigger_price   REAL NOT NULL,
	reference_price REAL NOT NULL,
	volume_ratio    REAL NOT NULL,
	PRIMARY KEY (strategy, symbol, date)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates
// any missing tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers from parallel comparison runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run with its trades and equity curve in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	m := run.Metrics
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, strategy, variant, status, created_at, signal_count, params,
			initial_capital, final_value, total_return, annualized_return,
			volatility, sharpe_ratio, max_drawdown, total_trades, win_trades,
			lose_trades, win_rate, avg_win, avg_loss, profit_factor, avg_holding_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Variant, run.Status, run.CreatedAt.UnixMilli(), run.SignalCount, run.Params,
		m.InitialCapital, m.FinalValue, m.TotalReturn, m.AnnualizedReturn,
		m.Volatility, m.SharpeRatio, m.MaxDrawdown, m.TotalTrades, m.WinTrades,
		m.LoseTrades, m.WinRate, m.AvgWin, m.AvgLoss, m.ProfitFactor, m.AvgHoldingDays,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (
			run_id, seq, symbol, entry_date, exit_date, entry_price, exit_price,
			quantity, return_pct, holding_days, exit_reason, profit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()

	for i, t := range run.Trades {
		if _, err := tradeStmt.ExecContext(ctx,
			run.ID, i, t.Symbol, formatDate(t.EntryDate), formatDate(t.ExitDate), t.EntryPrice, t.ExitPrice,
			t.Quantity, t.ReturnPct, t.HoldingDays, string(t.ExitReason), t.Profit,
		); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}

	equityStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO equity (run_id, date, portfolio_value, daily_return) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer equityStmt.Close()

	for _, p := range run.Equity {
		if _, err := equityStmt.ExecContext(ctx, run.ID, formatDate(p.Date), p.PortfolioValue, p.DailyReturn); err != nil {
			return fmt.Errorf("inserting equity %s of run %s: %w", formatDate(p.Date), run.ID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `
	id, strategy, variant, status, created_at, signal_count, params,
	initial_capital, final_value, total_return, annualized_return,
	volatility, sharpe_ratio, max_drawdown, total_trades, win_trades,
	lose_trades, win_rate, avg_win, avg_loss, profit_factor, avg_holding_days`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var created int64
	m := &r.Metrics
	err := row.Scan(
		&r.ID, &r.Strategy, &r.Variant, &r.Status, &created, &r.SignalCount, &r.Params,
		&m.InitialCapital, &m.FinalValue, &m.TotalReturn, &m.AnnualizedReturn,
		&m.Volatility, &m.SharpeRatio, &m.MaxDrawdown, &m.TotalTrades, &m.WinTrades,
		&m.LoseTrades, &m.WinRate, &m.AvgWin, &m.AvgLoss, &m.ProfitFactor, &m.AvgHoldingDays,
	)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, err
}

// GetRun returns the run header and metrics for id, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListTrades returns the trade log of a run in the order it was recorded.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, entry_date, exit_date, entry_price, exit_price,
		       quantity, return_pct, holding_days, exit_reason, profit
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var entry, exit, reason string
		if err := rows.Scan(&t.Symbol, &entry, &exit, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.ReturnPct, &t.HoldingDays, &reason, &t.Profit); err != nil {
			return nil, err
		}
		if t.EntryDate, err = parseDate(entry); err != nil {
			return nil, err
		}
		if t.ExitDate, err = parseDate(exit); err != nil {
			return nil, err
		}
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListEquity returns the equity curve of a run in date order.
func (s *SQLiteStore) ListEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, portfolio_value, daily_return FROM equity WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		var date string
		if err := rows.Scan(&date, &p.PortfolioValue, &p.DailyReturn); err != nil {
			return nil, err
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignals upserts signals for a strategy in one transaction.
func (s *SQLiteStore) SaveSignals(ctx context.Context, strategy string, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (
			strategy, symbol, date, trigger_date, trigger_price, reference_price, volume_ratio
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		if _, err := stmt.ExecContext(ctx, strategy, sig.Symbol, formatDate(sig.Date), formatDate(sig.TriggerDate),
			sig.TriggerPrice, sig.ReferencePrice, sig.VolumeRatio); err != nil {
			return fmt.Errorf("inserting signal %s %s: %w", sig.Symbol, formatDate(sig.Date), err)
		}
	}
	return tx.Commit()
}

// ListSignals returns the most recent signals for a strategy, newest date
// first with ties ordered by symbol. A non-positive limit returns all.
func (s *SQLiteStore) ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, trigger_date, trigger_price, reference_price, volume_ratio
		FROM signals WHERE strategy = ?
		ORDER BY date DESC, symbol
		LIMIT ?`, strategy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var date, trigger string
		if err := rows.Scan(&sig.Symbol, &date, &trigger, &sig.TriggerPrice, &sig.ReferencePrice, &sig.VolumeRatio); err != nil {
			return nil, err
		}
		if sig.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if sig.TriggerDate, err = parseDate(trigger); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ---------------------------------------------------------------------------
// Date helpers
// ---------------------------------------------------------------------------

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
