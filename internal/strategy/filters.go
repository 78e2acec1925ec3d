package strategy

import (
	"fmt"

	"limitup/internal/config"
	"limitup/internal/domain"
)

// Filter is an additional predicate evaluated after the core detector checks.
// Any filter may disqualify a day on its own.
type Filter interface {
	Name() string
	Keep(bars []domain.Bar, i int) bool
}

// FiltersFromConfig returns the enabled filters in a fixed order: turnover
// band, then moving-average trend.
func FiltersFromConfig(cfg config.Filters) []Filter {
	var filters []Filter
	if cfg.Turnover.Enabled {
		filters = append(filters, TurnoverBand{Min: cfg.Turnover.Min, Max: cfg.Turnover.Max})
	}
	if cfg.MATrend.Enabled {
		filters = append(filters, MATrend{Period: cfg.MATrend.Period})
	}
	return filters
}

// TurnoverBand keeps days whose turnover rate, as a fraction, lies in
// [Min, Max]. Days without a turnover rate are never kept.
type TurnoverBand struct {
	Min float64
	Max float64
}

func (f TurnoverBand) Name() string {
	return fmt.Sprintf("turnover[%.2f,%.2f]", f.Min, f.Max)
}

func (f TurnoverBand) Keep(bars []domain.Bar, i int) bool {
	if bars[i].TurnoverRate == nil {
		return false
	}
	rate := *bars[i].TurnoverRate / 100
	return f.Min <= rate && rate <= f.Max
}

// MATrend keeps days whose close is at or above the mean of the last
// Period+1 closes (the day itself included).
type MATrend struct {
	Period int
}

func (f MATrend) Name() string {
	return fmt.Sprintf("ma%d", f.Period)
}

func (f MATrend) Keep(bars []domain.Bar, i int) bool {
	if f.Period <= 0 || i < f.Period {
		return false
	}
	var sum float64
	for j := i - f.Period; j <= i; j++ {
		sum += bars[j].Close
	}
	ma := sum / float64(f.Period+1)
	return bars[i].Close >= ma
}
