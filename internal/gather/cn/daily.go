package cn

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"limitup/internal/domain"
	"limitup/internal/gather"
	"limitup/internal/store"
	"limitup/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// ---------------------------------------------------------------------------
// DailyBarGatherer: archive instruments into cached daily bars.
// ---------------------------------------------------------------------------

// Stats counts the outcome of one import.
type Stats struct {
	Imported int64
	Empty    int64
	Skipped  int64
	Bars     int64
}

// DailyBarGatherer loads daily bars from an Archive and persists them
// through a BarStore, one instrument per worker.
type DailyBarGatherer struct {
	archive    *Archive
	store      store.BarStore
	dataDir    string
	symbols    []string
	maxWorkers int
	log        *slog.Logger

	stats Stats
}

// NewDailyBarGatherer creates a DailyBarGatherer. An empty symbols list
// imports every instrument in the archive. dataDir holds the .tried-empty
// progress file.
func NewDailyBarGatherer(archive *Archive, s store.BarStore, dataDir string, symbols []string, maxWorkers int, logger *slog.Logger) *DailyBarGatherer {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &DailyBarGatherer{
		archive:    archive,
		store:      s,
		dataDir:    dataDir,
		symbols:    symbols,
		maxWorkers: maxWorkers,
		log:        util.OrDefault(logger).With("gatherer", "cn-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "cn-daily" }

// Stats returns the counters of the last Run.
func (g *DailyBarGatherer) Stats() Stats {
	return Stats{
		Imported: atomic.LoadInt64(&g.stats.Imported),
		Empty:    atomic.LoadInt64(&g.stats.Empty),
		Skipped:  atomic.LoadInt64(&g.stats.Skipped),
		Bars:     atomic.LoadInt64(&g.stats.Bars),
	}
}

// Run imports every selected instrument. Codes recorded as empty by an
// earlier run are skipped; use RunFresh to retry them.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	return g.run(ctx, false)
}

// RunFresh is Run after clearing the record of empty codes.
func (g *DailyBarGatherer) RunFresh(ctx context.Context) error {
	return g.run(ctx, true)
}

func (g *DailyBarGatherer) run(ctx context.Context, fresh bool) error {
	g.stats = Stats{}

	symbols := g.symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = g.archive.ListSymbols(); err != nil {
			return fmt.Errorf("listing archive symbols: %w", err)
		}
	}

	progress, err := newProgressTracker(filepath.Join(g.dataDir, string(domain.MarketCN)))
	if err != nil {
		return err
	}
	defer progress.Close()

	if fresh {
		if err := progress.Reset(); err != nil {
			return err
		}
	}

	g.log.Info("import starting", "symbols", len(symbols), "workers", g.maxWorkers)

	sem := make(chan struct{}, g.maxWorkers)
	eg, gctx := errgroup.WithContext(ctx)

	for _, sym := range symbols {
		if progress.IsTriedEmpty(sym) {
			atomic.AddInt64(&g.stats.Skipped, 1)
			continue
		}
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			return g.importSymbol(gctx, sym, progress)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	st := g.Stats()
	g.log.Info("import complete",
		"imported", st.Imported,
		"empty", st.Empty,
		"skipped", st.Skipped,
		"bars", st.Bars,
	)
	return nil
}

func (g *DailyBarGatherer) importSymbol(ctx context.Context, sym string, progress *progressTracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bars, err := g.archive.LoadDaily(sym)
	if err != nil {
		return fmt.Errorf("loading %s: %w", sym, err)
	}
	if len(bars) == 0 {
		atomic.AddInt64(&g.stats.Empty, 1)
		g.log.Debug("no bars", "symbol", sym)
		return progress.MarkEmpty(sym)
	}

	if err := g.store.WriteBars(ctx, string(domain.MarketCN), bars); err != nil {
		return fmt.Errorf("writing %s: %w", sym, err)
	}

	n := atomic.AddInt64(&g.stats.Imported, 1)
	atomic.AddInt64(&g.stats.Bars, int64(len(bars)))
	if n%500 == 0 {
		g.log.Info("import progress", "imported", n)
	}
	return nil
}
