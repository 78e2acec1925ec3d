package strategy

import (
	"strings"
	"testing"

	"limitup/internal/config"
	"limitup/internal/domain"
)

// stubDetector is a minimal Detector implementation used in registry tests.
type stubDetector struct {
	name string
}

func (s *stubDetector) Name() string                           { return s.name }
func (s *stubDetector) Detect(_ domain.Series) []domain.Signal { return nil }

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("test-detector", func(config.Backtest) Detector {
		return &stubDetector{name: "test-detector"}
	})

	got, err := r.New("test-detector", config.DefaultBacktest())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got.Name() != "test-detector" {
		t.Errorf("New returned detector with Name() = %q, want %q", got.Name(), "test-detector")
	}
}

func TestRegistryNew_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nonexistent", config.DefaultBacktest())
	if err == nil {
		t.Fatal("New returned nil error for unregistered detector")
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("New error = %q, want mention of the requested name", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", func(config.Backtest) Detector { return &stubDetector{name: "beta"} })
	r.Register("alpha", func(config.Backtest) Detector { return &stubDetector{name: "alpha"} })

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	withFilter := config.DefaultBacktest()
	withFilter.Filters.Turnover.Enabled = true

	// The filtered detector keeps its registered name with no filter enabled.
	for _, cfg := range []config.Backtest{config.DefaultBacktest(), withFilter} {
		for _, name := range []string{"limit-up", "limit-up-filtered"} {
			d, err := r.New(name, cfg)
			if err != nil {
				t.Fatalf("New(%q) returned error: %v", name, err)
			}
			if d.Name() != name {
				t.Errorf("New(%q).Name() = %q, want %q", name, d.Name(), name)
			}
		}
	}
}
