package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitup/internal/config"
	"limitup/internal/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatSeries returns n bars closing at 10 on constant volume with a 7%
// turnover rate. Only the first bar lacks a percentage change.
func flatSeries(symbol string, n int) domain.Series {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:       symbol,
			Date:         day0.AddDate(0, 0, i),
			Open:         10,
			High:         10,
			Low:          10,
			Close:        10,
			Volume:       1000,
			TurnoverRate: domain.Pct(7),
		}
		if i > 0 {
			bars[i].PctChange = domain.Pct(0)
		}
	}
	return domain.Series{Symbol: symbol, Bars: bars}
}

// limitUpAt marks bar t as a +10% day and lifts every close from t on to 11.
func limitUpAt(s domain.Series, t int) {
	for j := t; j < len(s.Bars); j++ {
		s.Bars[j].Close = 11
	}
	s.Bars[t].PctChange = domain.Pct(10)
}

// spikeAt doubles the volume at i.
func spikeAt(s domain.Series, i int) {
	s.Bars[i].Volume = 2000
}

func dates(signals []domain.Signal) []time.Time {
	out := make([]time.Time, len(signals))
	for i, s := range signals {
		out[i] = s.Date
	}
	return out
}

func TestLimitUpEmitsSignalAfterTrigger(t *testing.T) {
	s := flatSeries("600000", 40)
	limitUpAt(s, 30)
	spikeAt(s, 32)

	signals := NewLimitUp(config.DefaultBacktest()).Detect(s)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "600000", sig.Symbol)
	assert.Equal(t, s.Bars[32].Date, sig.Date)
	assert.Equal(t, s.Bars[30].Date, sig.TriggerDate)
	assert.InDelta(t, 11.0, sig.TriggerPrice, 1e-9)
	assert.InDelta(t, 11.0, sig.ReferencePrice, 1e-9)
	assert.InDelta(t, 2.0, sig.VolumeRatio, 1e-9)
}

func TestLimitUpTriggerThreshold(t *testing.T) {
	d := NewLimitUp(config.DefaultBacktest())

	assert.True(t, d.IsTrigger(domain.Bar{PctChange: domain.Pct(9.5)}), "9.5 is within 95%% of 9.9")
	assert.False(t, d.IsTrigger(domain.Bar{PctChange: domain.Pct(9.3)}), "9.3 is below 95%% of 9.9")
	assert.False(t, d.IsTrigger(domain.Bar{}), "missing change is never a trigger")
}

func TestLimitUpRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s domain.Series)
	}{
		{"two triggers in window", func(s domain.Series) {
			limitUpAt(s, 28)
			limitUpAt(s, 30)
			spikeAt(s, 32)
		}},
		{"signal on the trigger day", func(s domain.Series) {
			limitUpAt(s, 32)
			spikeAt(s, 32)
		}},
		{"trigger older than five bars", func(s domain.Series) {
			limitUpAt(s, 25)
			spikeAt(s, 31)
		}},
		{"close breaches floor", func(s domain.Series) {
			limitUpAt(s, 30)
			s.Bars[31].Close = 7 // below 11 × 0.70
			spikeAt(s, 33)
		}},
		{"insufficient history", func(s domain.Series) {
			limitUpAt(s, 20)
			spikeAt(s, 22)
		}},
		{"volume ratio below minimum", func(s domain.Series) {
			limitUpAt(s, 30)
			s.Bars[32].Volume = 1100
		}},
		{"zero volume", func(s domain.Series) {
			limitUpAt(s, 30)
			for j := 27; j < len(s.Bars); j++ {
				s.Bars[j].Volume = 0
			}
		}},
		{"no trigger", func(s domain.Series) {
			spikeAt(s, 32)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := flatSeries("600000", 40)
			tt.setup(s)
			assert.Empty(t, NewLimitUp(config.DefaultBacktest()).Detect(s))
		})
	}
}

func TestLimitUpBreachDisqualifiesLaterDays(t *testing.T) {
	s := flatSeries("600000", 40)
	limitUpAt(s, 30)
	s.Bars[31].Close = 7
	for j := 32; j <= 35; j++ {
		spikeAt(s, j)
	}

	assert.Empty(t, NewLimitUp(config.DefaultBacktest()).Detect(s))
}

func TestVolumeRatio(t *testing.T) {
	s := flatSeries("600000", 10)
	spikeAt(s, 6)
	assert.InDelta(t, 2.0, VolumeRatio(s.Bars, 6), 1e-9)

	s.Bars[6].Volume = 0
	assert.Zero(t, VolumeRatio(s.Bars, 6))

	assert.Zero(t, VolumeRatio(s.Bars, 0))
}

func TestLimitUpZeroVolumeNeverPasses(t *testing.T) {
	cfg := config.DefaultBacktest()
	cfg.MinVolumeRatio = 0

	s := flatSeries("600000", 40)
	limitUpAt(s, 30)
	assert.NotEmpty(t, NewLimitUp(cfg).Detect(s))

	for j := 27; j < len(s.Bars); j++ {
		s.Bars[j].Volume = 0
	}
	assert.Empty(t, NewLimitUp(cfg).Detect(s))
}

func TestLimitUpFilters(t *testing.T) {
	base := func() domain.Series {
		s := flatSeries("600000", 40)
		limitUpAt(s, 30)
		spikeAt(s, 32)
		return s
	}

	t.Run("turnover inside band", func(t *testing.T) {
		d := NewLimitUp(config.DefaultBacktest(), TurnoverBand{Min: 0.05, Max: 0.10})
		assert.Len(t, d.Detect(base()), 1)
	})

	t.Run("turnover above band", func(t *testing.T) {
		s := base()
		s.Bars[32].TurnoverRate = domain.Pct(12)
		d := NewLimitUp(config.DefaultBacktest(), TurnoverBand{Min: 0.05, Max: 0.10})
		assert.Empty(t, d.Detect(s))
	})

	t.Run("turnover missing", func(t *testing.T) {
		s := base()
		s.Bars[32].TurnoverRate = nil
		d := NewLimitUp(config.DefaultBacktest(), TurnoverBand{Min: 0.05, Max: 0.10})
		assert.Empty(t, d.Detect(s))
	})

	t.Run("close above moving average", func(t *testing.T) {
		d := NewLimitUp(config.DefaultBacktest(), MATrend{Period: 20})
		assert.Len(t, d.Detect(base()), 1)
	})

	t.Run("close below moving average", func(t *testing.T) {
		s := base()
		for j := 12; j < 30; j++ {
			s.Bars[j].Close = 20
		}
		d := NewLimitUp(config.DefaultBacktest(), MATrend{Period: 20})
		assert.Empty(t, d.Detect(s))
	})
}

func TestLimitUpSignalDayWithoutPctChange(t *testing.T) {
	s := flatSeries("600000", 40)
	limitUpAt(s, 30)
	spikeAt(s, 32)
	s.Bars[32].PctChange = nil

	signals := NewLimitUp(config.DefaultBacktest()).Detect(s)
	require.Len(t, signals, 1)
	assert.Equal(t, s.Bars[32].Date, signals[0].Date)
}

func TestFilteredLimitUpName(t *testing.T) {
	cfg := config.DefaultBacktest()
	assert.Equal(t, "limit-up", NewLimitUp(cfg).Name())
	assert.Equal(t, "limit-up-filtered", NewFilteredLimitUp(cfg).Name())

	cfg.Filters.MATrend.Enabled = true
	assert.Equal(t, "limit-up", NewLimitUp(cfg, MATrend{Period: 20}).Name())
}

func TestFiltersFromConfig(t *testing.T) {
	cfg := config.DefaultBacktest().Filters
	assert.Empty(t, FiltersFromConfig(cfg))

	cfg.Turnover.Enabled = true
	cfg.MATrend.Enabled = true
	filters := FiltersFromConfig(cfg)
	require.Len(t, filters, 2)
	assert.Equal(t, "turnover[0.05,0.10]", filters[0].Name())
	assert.Equal(t, "ma20", filters[1].Name())
}

func TestLimitUpIsPureAndRestartable(t *testing.T) {
	s := flatSeries("600000", 40)
	limitUpAt(s, 30)
	spikeAt(s, 32)
	spikeAt(s, 34)

	before := make([]domain.Bar, len(s.Bars))
	copy(before, s.Bars)

	d := NewLimitUp(config.DefaultBacktest())
	first := d.Detect(s)
	second := d.Detect(s)

	assert.Equal(t, first, second)
	assert.Equal(t, before, s.Bars)
	assert.Equal(t, []time.Time{s.Bars[32].Date, s.Bars[34].Date}, dates(first))

	// Abandoning the sequence early stops evaluation without error.
	var n int
	for range d.Signals(s) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestDetectAllOrdersByDateThenSymbol(t *testing.T) {
	mk := func(symbol string, spike int) domain.Series {
		s := flatSeries(symbol, 40)
		limitUpAt(s, 30)
		spikeAt(s, spike)
		return s
	}
	series := []domain.Series{
		mk("600519", 32),
		mk("000001", 33),
		mk("300750", 32),
	}

	signals, err := DetectAll(context.Background(), NewLimitUp(config.DefaultBacktest()), series, 2)
	require.NoError(t, err)
	require.Len(t, signals, 3)

	got := []string{signals[0].Symbol, signals[1].Symbol, signals[2].Symbol}
	assert.Equal(t, []string{"300750", "600519", "000001"}, got)
}

func TestDetectAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	series := []domain.Series{flatSeries("600000", 40), flatSeries("600001", 40)}
	_, err := DetectAll(ctx, NewLimitUp(config.DefaultBacktest()), series, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
