// Package report renders backtest results as CSV files and terminal tables.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"limitup/internal/backtest"
	"limitup/internal/domain"
)

var (
	tradeHeader = []string{
		"symbol", "entry_date", "exit_date", "entry_price", "exit_price",
		"quantity", "return_pct", "holding_days", "exit_reason", "profit",
	}
	equityHeader     = []string{"date", "portfolio_value", "daily_return"}
	comparisonHeader = []string{
		"VARIANT", "TOTAL", "ANNUAL", "SHARPE", "MAX DD", "TRADES", "WIN RATE", "PF",
	}
)

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// WriteTradesCSV writes the trade log with a header row. Prices carry four
// decimals, money two, and returns six.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			t.EntryDate.Format(time.DateOnly),
			t.ExitDate.Format(time.DateOnly),
			fixed(t.EntryPrice, 4),
			fixed(t.ExitPrice, 4),
			strconv.FormatInt(t.Quantity, 10),
			fixed(t.ReturnPct, 6),
			strconv.Itoa(t.HoldingDays),
			string(t.ExitReason),
			fixed(t.Profit, 2),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing trade %s: %w", t.Symbol, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the equity curve with a header row.
func WriteEquityCSV(w io.Writer, equity []domain.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equityHeader); err != nil {
		return err
	}
	for _, p := range equity {
		row := []string{
			p.Date.Format(time.DateOnly),
			fixed(p.PortfolioValue, 2),
			fixed(p.DailyReturn, 6),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSignalsCSV writes detected signals with a header row.
func WriteSignalsCSV(w io.Writer, signals []domain.Signal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"symbol", "date", "trigger_date", "trigger_price", "reference_price", "volume_ratio"}); err != nil {
		return err
	}
	for _, s := range signals {
		row := []string{
			s.Symbol,
			s.Date.Format(time.DateOnly),
			s.TriggerDate.Format(time.DateOnly),
			fixed(s.TriggerPrice, 4),
			fixed(s.ReferencePrice, 4),
			fixed(s.VolumeRatio, 4),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// fixed renders v with exactly places decimals, rounding half away from zero.
func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// ---------------------------------------------------------------------------
// Terminal
// ---------------------------------------------------------------------------

// WriteSummary prints a labelled metrics table for one run. Gains and
// losses are coloured when w is a terminal.
func WriteSummary(w io.Writer, res *backtest.Result) error {
	r := lipgloss.NewRenderer(w)
	gain := r.NewStyle().Foreground(lipgloss.Color("10"))
	loss := r.NewStyle().Foreground(lipgloss.Color("9"))
	title := r.NewStyle().Bold(true)
	signed := func(v float64) string {
		s := percent(v)
		switch {
		case v > 0:
			return gain.Render(s)
		case v < 0:
			return loss.Render(s)
		}
		return s
	}

	m := res.Metrics
	name := res.Strategy
	if res.Variant != "" {
		name += " (" + res.Variant + ")"
	}

	if _, err := fmt.Fprintln(w, title.Render("Backtest "+name)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Run", res.RunID},
		{"Status", string(res.Status)},
		{"Signals", humanize.Comma(int64(len(res.Signals)))},
	}
	if len(res.Equity) > 0 {
		first, last := res.Equity[0].Date, res.Equity[len(res.Equity)-1].Date
		rows = append(rows, [2]string{"Period", first.Format(time.DateOnly) + " to " + last.Format(time.DateOnly)})
	}
	rows = append(rows,
		[2]string{"Initial capital", money(m.InitialCapital)},
		[2]string{"Final value", money(m.FinalValue)},
		[2]string{"Total return", signed(m.TotalReturn)},
		[2]string{"Annualized return", signed(m.AnnualizedReturn)},
		[2]string{"Volatility", percent(m.Volatility)},
		[2]string{"Sharpe ratio", fixed(m.SharpeRatio, 2)},
		[2]string{"Max drawdown", signed(m.MaxDrawdown)},
		[2]string{"Trades", fmt.Sprintf("%d (%d win / %d loss)", m.TotalTrades, m.WinTrades, m.LoseTrades)},
		[2]string{"Win rate", percent(m.WinRate)},
		[2]string{"Avg win", signed(m.AvgWin)},
		[2]string{"Avg loss", signed(m.AvgLoss)},
		[2]string{"Profit factor", fixed(m.ProfitFactor, 2)},
		[2]string{"Avg holding", fixed(m.AvgHoldingDays, 1) + " days"},
	)
	if reasons := exitBreakdown(res.Trades); reasons != "" {
		rows = append(rows, [2]string{"Exits", reasons})
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "  %s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

// WriteComparison prints one row per result, in the given order.
func WriteComparison(w io.Writer, results []*backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(comparisonHeader, "\t"))
	for _, res := range results {
		name := res.Variant
		if name == "" {
			name = res.Strategy
		}
		m := res.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			name,
			percent(m.TotalReturn),
			percent(m.AnnualizedReturn),
			fixed(m.SharpeRatio, 2),
			percent(m.MaxDrawdown),
			m.TotalTrades,
			percent(m.WinRate),
			fixed(m.ProfitFactor, 2),
		)
	}
	return tw.Flush()
}

// exitBreakdown counts trades per exit reason, e.g. "stop-loss 3, time-stop 1".
func exitBreakdown(trades []domain.Trade) string {
	counts := make(map[domain.ExitReason]int)
	for _, t := range trades {
		counts[t.ExitReason]++
	}
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s %d", r, counts[domain.ExitReason(r)])
	}
	return strings.Join(parts, ", ")
}

func percent(v float64) string {
	return decimal.NewFromFloat(v * 100).StringFixed(2) + "%"
}

func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}
