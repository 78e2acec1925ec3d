package strategy

import (
	"iter"
	"slices"

	"limitup/internal/config"
	"limitup/internal/domain"
)

// Compile-time interface check.
var _ Detector = (*LimitUp)(nil)

const (
	// MinHistory is the number of prior bars required before an index can
	// be evaluated.
	MinHistory = 25

	// triggerTolerance accepts moves slightly under the configured limit so
	// that rounding in the source data does not hide a limit-up day.
	triggerTolerance = 0.95

	maxTriggerAge = 5
	volumeWindow  = 5
)

// Registered detector names.
const (
	NameLimitUp         = "limit-up"
	NameLimitUpFiltered = "limit-up-filtered"
)

// LimitUp detects the first pullback-and-volume day after a single recent
// near-limit move.
//
// For an index i it requires exactly one trigger day inside the trailing
// lookback window, that trigger to lie 1 to 5 bars before i, every close
// since the trigger to hold above trigger close × MinCloseRatio, and the
// day's volume ratio to reach MinVolumeRatio. Optional filters run last.
type LimitUp struct {
	name           string
	lookback       int
	triggerPct     float64
	minCloseRatio  float64
	minVolumeRatio float64
	filters        []Filter
}

// NewLimitUp creates a LimitUp detector from the backtest parameters with the
// given filters applied after the core checks.
func NewLimitUp(cfg config.Backtest, filters ...Filter) *LimitUp {
	return &LimitUp{
		name:           NameLimitUp,
		lookback:       cfg.LookbackDays,
		triggerPct:     cfg.TriggerPct,
		minCloseRatio:  cfg.MinCloseRatio,
		minVolumeRatio: cfg.MinVolumeRatio,
		filters:        filters,
	}
}

// NewFilteredLimitUp creates the limit-up-filtered detector: the core checks
// followed by every filter enabled in cfg.Filters. Its name stays
// limit-up-filtered even when no filter is enabled.
func NewFilteredLimitUp(cfg config.Backtest) *LimitUp {
	d := NewLimitUp(cfg, FiltersFromConfig(cfg.Filters)...)
	d.name = NameLimitUpFiltered
	return d
}

// Name returns the name the detector is registered under.
func (d *LimitUp) Name() string { return d.name }

// IsTrigger reports whether the bar's percentage change reaches the
// near-limit threshold.
func (d *LimitUp) IsTrigger(b domain.Bar) bool {
	return b.PctChange != nil && *b.PctChange >= d.triggerPct*triggerTolerance
}

// Detect returns every signal in the series.
func (d *LimitUp) Detect(series domain.Series) []domain.Signal {
	return slices.Collect(d.Signals(series))
}

// Signals lazily yields the series' signals in date order. Each index is
// evaluated independently, so the sequence can be restarted or abandoned at
// any point.
func (d *LimitUp) Signals(series domain.Series) iter.Seq[domain.Signal] {
	return func(yield func(domain.Signal) bool) {
		for i := MinHistory; i < len(series.Bars); i++ {
			sig, ok := d.Evaluate(series.Bars, i)
			if !ok {
				continue
			}
			if series.Symbol != "" {
				sig.Symbol = series.Symbol
			}
			if !yield(sig) {
				return
			}
		}
	}
}

// Evaluate checks index i of bars and returns the signal for that day, if any.
func (d *LimitUp) Evaluate(bars []domain.Bar, i int) (domain.Signal, bool) {
	if i < MinHistory || i >= len(bars) {
		return domain.Signal{}, false
	}
	cur := bars[i]

	// Exactly one trigger in the window; t ends on the most recent one.
	start := max(0, i-d.lookback+1)
	count, t := 0, -1
	for j := start; j <= i; j++ {
		if d.IsTrigger(bars[j]) {
			count++
			t = j
		}
	}
	if count != 1 {
		return domain.Signal{}, false
	}

	if age := i - t; age < 1 || age > maxTriggerAge {
		return domain.Signal{}, false
	}

	trigger := bars[t]
	floor := trigger.Close * d.minCloseRatio
	for j := t + 1; j <= i; j++ {
		if bars[j].Close < floor {
			return domain.Signal{}, false
		}
	}

	ratio := VolumeRatio(bars, i)
	if ratio <= 0 || ratio < d.minVolumeRatio {
		return domain.Signal{}, false
	}

	for _, f := range d.filters {
		if !f.Keep(bars, i) {
			return domain.Signal{}, false
		}
	}

	return domain.Signal{
		Symbol:         cur.Symbol,
		Date:           cur.Date,
		TriggerDate:    trigger.Date,
		TriggerPrice:   trigger.Close,
		ReferencePrice: cur.Close,
		VolumeRatio:    ratio,
	}, true
}

// VolumeRatio divides the volume at i by the mean volume of the preceding
// five bars. It is 0 when either the current volume or the mean is zero.
func VolumeRatio(bars []domain.Bar, i int) float64 {
	if i <= 0 || i >= len(bars) {
		return 0
	}
	start := max(0, i-volumeWindow)

	var sum float64
	for j := start; j < i; j++ {
		sum += float64(bars[j].Volume)
	}
	avg := sum / float64(i-start)

	cur := float64(bars[i].Volume)
	if avg == 0 || cur == 0 {
		return 0
	}
	return cur / avg
}
