// Package strategy defines the Detector interface for entry-signal detection
// and provides a Registry for selecting detector implementations by name.
package strategy

import (
	"fmt"
	"sort"

	"limitup/internal/config"
	"limitup/internal/domain"
)

// Detector scans one instrument's bar series for entry signals.
// Implementations hold no state across calls and must be safe for concurrent
// use, so series can be scanned in parallel.
type Detector interface {
	// Name returns the unique identifier for this detector.
	Name() string

	// Detect returns the signals found in series ordered by date. The bars
	// are never modified.
	Detect(series domain.Series) []domain.Signal
}

// Factory builds a detector from a backtest parameter set.
type Factory func(cfg config.Backtest) Detector

// Registry holds named detector factories for lookup and enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty detector Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry holding the built-in detectors:
//
//   - "limit-up": the near-limit breakout checks only.
//   - "limit-up-filtered": the same checks followed by every filter enabled
//     in the backtest configuration.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameLimitUp, func(cfg config.Backtest) Detector {
		return NewLimitUp(cfg)
	})
	r.Register(NameLimitUpFiltered, func(cfg config.Backtest) Detector {
		return NewFilteredLimitUp(cfg)
	})
	return r
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds the detector registered under name.
func (r *Registry) New(name string, cfg config.Backtest) (Detector, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, r.List())
	}
	return f(cfg), nil
}

// List returns a sorted slice of all registered detector names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
