package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for limitup.
type Config struct {
	Storage  Storage      `yaml:"storage"`
	Logging  Logging      `yaml:"logging"`
	Gather   GatherConfig `yaml:"gather"`
	Universe Universe     `yaml:"universe"`
	Backtest Backtest     `yaml:"backtest"`

	// Compare lists strategy variants. Each node holds a name plus any
	// subset of backtest keys, overlaid on Backtest by Variants.
	Compare []yaml.Node `yaml:"compare"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls raw data import.
type GatherConfig struct {
	CNDaily GatherJobConfig `yaml:"cn_daily"`
}

// GatherJobConfig holds parameters for a single import job.
type GatherJobConfig struct {
	ArchiveDir string `yaml:"archive_dir"`
	Years      []int  `yaml:"years"`
	MaxWorkers int    `yaml:"max_workers"`
}

// Universe selects which instruments and dates a backtest reads.
type Universe struct {
	Market    string   `yaml:"market"`
	Symbols   []string `yaml:"symbols"` // empty means every stored symbol
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
}

// Backtest is the immutable parameter set of one simulation run. It is
// passed by value into every component.
type Backtest struct {
	Strategy string `yaml:"strategy"`
	Workers  int    `yaml:"workers"`

	InitialCapital        float64 `yaml:"initial_capital"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	TakeProfitTriggerPct  float64 `yaml:"take_profit_trigger_pct"`
	TakeProfitFallbackPct float64 `yaml:"take_profit_fallback_pct"`
	MaxHoldingDays        int     `yaml:"max_holding_days"`
	MaxPositions          int     `yaml:"max_positions"`
	PositionSizeFraction  float64 `yaml:"position_size_fraction"`
	CommissionFraction    float64 `yaml:"commission_fraction"`
	SlippageFraction      float64 `yaml:"slippage_fraction"`
	LotSize               int64   `yaml:"lot_size"`

	LookbackDays   int     `yaml:"lookback_days"`
	TriggerPct     float64 `yaml:"trigger_pct"`
	MinCloseRatio  float64 `yaml:"min_close_ratio"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`

	RiskFreeRate       float64 `yaml:"risk_free_rate"`
	TradingDaysPerYear int     `yaml:"trading_days_per_year"`

	Filters Filters `yaml:"filters"`
}

// Filters configures the optional detector predicates.
type Filters struct {
	Turnover TurnoverFilter `yaml:"turnover"`
	MATrend  MATrendFilter  `yaml:"ma_trend"`
}

// TurnoverFilter keeps days whose turnover rate lies in [Min, Max]
// (fractions, e.g. 0.05 for 5%).
type TurnoverFilter struct {
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// MATrendFilter keeps days closing at or above their moving average.
type MATrendFilter struct {
	Enabled bool `yaml:"enabled"`
	Period  int  `yaml:"period"`
}

// Variant is one named parameter set of a strategy comparison.
type Variant struct {
	Name     string
	Backtest Backtest
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration of the reference limit-up strategy.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "./data",
			SQLitePath: "./data/limitup.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Gather: GatherConfig{
			CNDaily: GatherJobConfig{
				MaxWorkers: 4,
			},
		},
		Universe: Universe{
			Market: "cn",
		},
		Backtest: DefaultBacktest(),
	}
}

// DefaultBacktest returns the reference strategy parameters.
func DefaultBacktest() Backtest {
	return Backtest{
		Strategy:              "limit-up",
		Workers:               4,
		InitialCapital:        1_000_000,
		StopLossPct:           -0.05,
		TakeProfitTriggerPct:  0.10,
		TakeProfitFallbackPct: -0.03,
		MaxHoldingDays:        7,
		MaxPositions:          5,
		PositionSizeFraction:  0.15,
		CommissionFraction:    0.0003,
		SlippageFraction:      0.001,
		LotSize:               100,
		LookbackDays:          20,
		TriggerPct:            9.9,
		MinCloseRatio:         0.70,
		MinVolumeRatio:        1.2,
		RiskFreeRate:          0.03,
		TradingDaysPerYear:    252,
		Filters: Filters{
			Turnover: TurnoverFilter{Min: 0.05, Max: 0.10},
			MATrend:  MATrendFilter{Period: 20},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LIMITUP_ARCHIVE_DIR"); v != "" {
		cfg.Gather.CNDaily.ArchiveDir = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the whole configuration, including every comparison
// variant.
func (c *Config) Validate() error {
	if c.Universe.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, c.Universe.StartDate); err != nil {
			return fmt.Errorf("%w: universe.start_date: %v", ErrInvalid, err)
		}
	}
	if c.Universe.EndDate != "" {
		if _, err := time.Parse(time.DateOnly, c.Universe.EndDate); err != nil {
			return fmt.Errorf("%w: universe.end_date: %v", ErrInvalid, err)
		}
	}
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	variants, err := c.Variants()
	if err != nil {
		return err
	}
	for _, v := range variants {
		if err := v.Backtest.Validate(); err != nil {
			return fmt.Errorf("compare %q: %w", v.Name, err)
		}
	}
	return nil
}

// Validate rejects parameter sets that would violate simulation contracts.
func (b Backtest) Validate() error {
	switch {
	case b.InitialCapital <= 0:
		return invalid("backtest.initial_capital must be positive")
	case b.StopLossPct >= 0:
		return invalid("backtest.stop_loss_pct must be negative")
	case b.TakeProfitTriggerPct <= 0:
		return invalid("backtest.take_profit_trigger_pct must be positive")
	case b.MaxHoldingDays <= 0:
		return invalid("backtest.max_holding_days must be positive")
	case b.MaxPositions <= 0:
		return invalid("backtest.max_positions must be positive")
	case b.PositionSizeFraction <= 0 || b.PositionSizeFraction > 1:
		return invalid("backtest.position_size_fraction must be in (0, 1]")
	case b.CommissionFraction < 0 || b.CommissionFraction >= 1:
		return invalid("backtest.commission_fraction must be in [0, 1)")
	case b.SlippageFraction < 0 || b.SlippageFraction >= 1:
		return invalid("backtest.slippage_fraction must be in [0, 1)")
	case b.LotSize <= 0:
		return invalid("backtest.lot_size must be positive")
	case b.LookbackDays <= 0:
		return invalid("backtest.lookback_days must be positive")
	case b.TriggerPct <= 0:
		return invalid("backtest.trigger_pct must be positive")
	case b.MinCloseRatio < 0:
		return invalid("backtest.min_close_ratio must not be negative")
	case b.MinVolumeRatio < 0:
		return invalid("backtest.min_volume_ratio must not be negative")
	case b.TradingDaysPerYear <= 0:
		return invalid("backtest.trading_days_per_year must be positive")
	case b.Filters.Turnover.Enabled && b.Filters.Turnover.Min > b.Filters.Turnover.Max:
		return invalid("backtest.filters.turnover.min must not exceed max")
	case b.Filters.MATrend.Enabled && b.Filters.MATrend.Period <= 0:
		return invalid("backtest.filters.ma_trend.period must be positive")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// ---------------------------------------------------------------------------
// Comparison variants
// ---------------------------------------------------------------------------

// Variants resolves the compare section. Each variant starts from a copy of
// Backtest and overlays the keys present in its node.
func (c *Config) Variants() ([]Variant, error) {
	variants := make([]Variant, 0, len(c.Compare))
	for i := range c.Compare {
		overlay := struct {
			Name     string   `yaml:"name"`
			Backtest Backtest `yaml:",inline"`
		}{Backtest: c.Backtest}

		if err := c.Compare[i].Decode(&overlay); err != nil {
			return nil, fmt.Errorf("decoding compare[%d]: %w", i, err)
		}
		if overlay.Name == "" {
			overlay.Name = fmt.Sprintf("variant-%d", i+1)
		}
		variants = append(variants, Variant{Name: overlay.Name, Backtest: overlay.Backtest})
	}
	return variants, nil
}

// DateRange parses the universe dates. An empty start means the zero time and
// an empty end means now.
func (u Universe) DateRange() (time.Time, time.Time, error) {
	start, end := time.Time{}, time.Now().UTC()
	if u.StartDate != "" {
		t, err := time.Parse(time.DateOnly, u.StartDate)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if u.EndDate != "" {
		t, err := time.Parse(time.DateOnly, u.EndDate)
		if err != nil {
			return start, end, err
		}
		end = t
	}
	return start, end, nil
}
