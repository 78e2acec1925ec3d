package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"limitup/internal/domain"
)

// BarSchemaVersion identifies the layout of BarRecord. Bump it whenever the
// record or its derivation changes so older caches are rebuilt.
const BarSchemaVersion = "3"

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serialises VERSION writes
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol       string   `parquet:"symbol"`
	Timestamp    int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open         float64  `parquet:"open"`
	High         float64  `parquet:"high"`
	Low          float64  `parquet:"low"`
	Close        float64  `parquet:"close"`
	Volume       int64    `parquet:"volume"`
	Amount       float64  `parquet:"amount"`
	PctChange    *float64 `parquet:"pct_change,optional"`
	Amplitude    float64  `parquet:"amplitude"`
	TurnoverRate *float64 `parquet:"turnover_rate,optional"`
}

func toRecord(b domain.Bar) BarRecord {
	r := BarRecord{
		Symbol:       b.Symbol,
		Timestamp:    domain.Date(b.Date).UnixMilli(),
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Close:        b.Close,
		Volume:       b.Volume,
		Amount:       b.Amount,
		Amplitude:    b.Amplitude,
	}
	if b.PctChange != nil {
		r.PctChange = domain.Pct(*b.PctChange)
	}
	if b.TurnoverRate != nil {
		r.TurnoverRate = domain.Pct(*b.TurnoverRate)
	}
	return r
}

func (r BarRecord) toBar() domain.Bar {
	b := domain.Bar{
		Symbol:       r.Symbol,
		Date:         time.UnixMilli(r.Timestamp).UTC(),
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Volume:       r.Volume,
		Amount:       r.Amount,
		Amplitude:    r.Amplitude,
	}
	if r.PctChange != nil {
		b.PctChange = domain.Pct(*r.PctChange)
	}
	if r.TurnoverRate != nil {
		b.TurnoverRate = domain.Pct(*r.TurnoverRate)
	}
	return b
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := s.ensureVersion(market); err != nil {
		return err
	}

	// Group by symbol → year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Date.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, market, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and date
// range. A symbol with no files yields no bars and no error. A cache written
// under a different BarSchemaVersion yields ErrStaleBars.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.checkVersion(market); err != nil {
		return nil, err
	}

	start, end = domain.Date(start), domain.Date(end)
	years, err := s.years(symbol, market)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if year < start.Year() || year > end.Year() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			b := r.toBar()
			if !b.Date.Before(start) && !b.Date.After(end) {
				bars = append(bars, b)
			}
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := s.dailyDir(market)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Schema version
// ---------------------------------------------------------------------------

func (s *ParquetStore) versionPath(market string) string {
	return filepath.Join(s.dailyDir(market), "VERSION")
}

// ensureVersion stamps an empty cache with the current schema version and
// refuses to write into a cache stamped with another.
func (s *ParquetStore) ensureVersion(market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(market); err != nil {
		return err
	}
	if _, err := os.Stat(s.versionPath(market)); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.dailyDir(market), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.versionPath(market), []byte(BarSchemaVersion+"\n"), 0o644)
}

// Reset deletes every cached bar of market together with its VERSION file.
func (s *ParquetStore) Reset(market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.dailyDir(market))
}

// checkVersion accepts a missing cache or one stamped with BarSchemaVersion.
func (s *ParquetStore) checkVersion(market string) error {
	data, err := os.ReadFile(s.versionPath(market))
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if isEmptyDir(s.dailyDir(market)) {
			return nil
		}
		return fmt.Errorf("%w: %s has no VERSION", ErrStaleBars, s.dailyDir(market))
	}
	if got := strings.TrimSpace(string(data)); got != BarSchemaVersion {
		return fmt.Errorf("%w: version %q, want %q", ErrStaleBars, got, BarSchemaVersion)
	}
	return nil
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *ParquetStore) dailyDir(market string) string {
	return filepath.Join(s.DataDir, market, "daily")
}

// years lists the years cached for symbol in ascending order.
func (s *ParquetStore) years(symbol, market string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dailyDir(market), strings.ToUpper(symbol)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.dailyDir(market), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
