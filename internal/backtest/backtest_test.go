package backtest

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/engine"
	"limitup/internal/store"
	"limitup/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// memStore is an in-memory BarStore keyed by symbol.
type memStore struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
}

func (m *memStore) WriteBars(_ context.Context, _ string, bars []domain.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
	}
	return nil
}

func (m *memStore) ReadBars(_ context.Context, symbol, _ string, start, end time.Time) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bar
	for _, b := range m.bars[symbol] {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ListSymbols(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for s := range m.bars {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// breakout returns 40 flat bars with a limit-up day at 30 and a volume spike
// at 32, which yields exactly one signal on day 32.
func breakout(symbol string) domain.Series {
	bars := make([]domain.Bar, 40)
	for i := range bars {
		c := 10.0
		if i >= 30 {
			c = 11
		}
		bars[i] = domain.Bar{Symbol: symbol, Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
		if i > 0 {
			bars[i].PctChange = domain.Pct(0)
		}
	}
	bars[30].PctChange = domain.Pct(10)
	bars[32].Volume = 2000
	return domain.Series{Symbol: symbol, Bars: bars}
}

func flat(symbol string) domain.Series {
	s := breakout(symbol)
	for i := range s.Bars {
		s.Bars[i].Close = 10
		s.Bars[i].Volume = 1000
		if i > 0 {
			s.Bars[i].PctChange = domain.Pct(0)
		}
	}
	return s
}

func newBacktester(bars map[string][]domain.Bar) *Backtester {
	if bars == nil {
		bars = map[string][]domain.Bar{}
	}
	return NewBacktester(&memStore{bars: bars}, strategy.DefaultRegistry(), "cn", nil)
}

func TestLoadSeries(t *testing.T) {
	bt := newBacktester(map[string][]domain.Bar{
		"600000": breakout("600000").Bars,
		"000001": flat("000001").Bars,
		"300750": nil,
	})

	series, err := bt.LoadSeries(context.Background(), nil, day0, day0.AddDate(0, 0, 100), 2)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "000001", series[0].Symbol)
	assert.Equal(t, "600000", series[1].Symbol)
	assert.Len(t, series[1].Bars, 40)

	ranged, err := bt.LoadSeries(context.Background(), []string{"600000"}, day0, day0.AddDate(0, 0, 9), 1)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Len(t, ranged[0].Bars, 10)
}

func TestRunStatuses(t *testing.T) {
	bt := newBacktester(nil)
	ctx := context.Background()
	cfg := config.DefaultBacktest()

	noData, err := bt.Run(ctx, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNoData, noData.Status)
	assert.Equal(t, domain.Metrics{}, noData.Metrics)

	noSignals, err := bt.Run(ctx, []domain.Series{flat("000001")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNoSignals, noSignals.Status)
	assert.Empty(t, noSignals.Trades)

	done, err := bt.Run(ctx, []domain.Series{breakout("600000"), flat("000001")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.RunID)
	assert.Equal(t, "limit-up", done.Strategy)
	require.Len(t, done.Signals, 1)
	require.Len(t, done.Trades, 1)
	assert.Equal(t, domain.ExitEndOfRun, done.Trades[0].ExitReason)
	assert.Equal(t, 1, done.Metrics.TotalTrades)
	assert.InDelta(t, cfg.InitialCapital+done.Trades[0].Profit, done.FinalCash, 1e-6)
}

func TestRunWarnsWhenTurnoverMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bt := NewBacktester(&memStore{bars: map[string][]domain.Bar{}}, strategy.DefaultRegistry(), "cn", logger)

	cfg := config.DefaultBacktest()
	cfg.Strategy = "limit-up-filtered"
	cfg.Filters.Turnover.Enabled = true

	series := []domain.Series{breakout("600000")}
	res, err := bt.Run(context.Background(), series, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNoSignals, res.Status)
	assert.Equal(t, 1, strings.Count(buf.String(), "no bar carries a turnover rate"))

	// Bars with a turnover rate inside the band silence the warning.
	buf.Reset()
	for i := range series[0].Bars {
		series[0].Bars[i].TurnoverRate = domain.Pct(7)
	}
	res, err = bt.Run(context.Background(), series, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.NotContains(t, buf.String(), "turnover rate")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultBacktest()
	cfg.LotSize = 0

	_, err := newBacktester(nil).Run(context.Background(), []domain.Series{breakout("600000")}, cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunUnknownStrategy(t *testing.T) {
	cfg := config.DefaultBacktest()
	cfg.Strategy = "moonshot"

	_, err := newBacktester(nil).Run(context.Background(), []domain.Series{breakout("600000")}, cfg)
	assert.ErrorContains(t, err, "moonshot")
}

func TestCompareIsolatesVariants(t *testing.T) {
	bt := newBacktester(nil)
	ctx := context.Background()
	series := []domain.Series{breakout("600000"), breakout("600519"), flat("000001")}

	small := config.DefaultBacktest()
	small.PositionSizeFraction = 0.05
	variants := []config.Variant{
		{Name: "base", Backtest: config.DefaultBacktest()},
		{Name: "small", Backtest: small},
	}

	results, err := bt.Compare(ctx, series, variants, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "base", results[0].Variant)
	assert.Equal(t, "small", results[1].Variant)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)

	for i, v := range variants {
		alone, err := bt.Run(ctx, series, v.Backtest)
		require.NoError(t, err)
		assert.Equal(t, alone.Trades, results[i].Trades, "variant %s", v.Name)
		assert.Equal(t, alone.Equity, results[i].Equity, "variant %s", v.Name)
	}
	assert.Less(t, results[1].Trades[0].Quantity, results[0].Trades[0].Quantity)
}

func TestSavePersistsRun(t *testing.T) {
	rs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer rs.Close()

	ctx := context.Background()
	res, err := newBacktester(nil).Run(ctx, []domain.Series{breakout("600000")}, config.DefaultBacktest())
	require.NoError(t, err)
	res.Variant = "base"

	require.NoError(t, Save(ctx, rs, res))

	runs, err := rs.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].SignalCount)
	assert.True(t, strings.Contains(runs[0].Params, "max_positions: 5"), runs[0].Params)

	trades, err := rs.ListTrades(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, trades, len(res.Trades))
}
