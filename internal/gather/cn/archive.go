// Package cn imports China A-share price history from yearly archives of
// hourly CSV files and stores it as daily bars.
package cn

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"limitup/internal/domain"
	"limitup/internal/util"
)

// Archive reads the yearly hourly-bar archives in a directory. Each archive
// is named <year>_60min.zip and holds one <code>_<year>.csv per instrument.
// Archives are opened lazily and shared; Archive is safe for concurrent use.
type Archive struct {
	dir   string
	years []int
	log   *slog.Logger

	mu      sync.Mutex
	readers map[int]*zip.ReadCloser
}

// NewArchive creates an Archive over dir. An empty years list selects every
// <year>_60min.zip present in dir.
func NewArchive(dir string, years []int, logger *slog.Logger) *Archive {
	return &Archive{
		dir:     dir,
		years:   years,
		log:     util.OrDefault(logger),
		readers: make(map[int]*zip.ReadCloser),
	}
}

// Years returns the archive years in ascending order.
func (a *Archive) Years() ([]int, error) {
	if len(a.years) > 0 {
		years := append([]int(nil), a.years...)
		sort.Ints(years)
		return years, nil
	}

	matches, err := filepath.Glob(filepath.Join(a.dir, "*_60min.zip"))
	if err != nil {
		return nil, err
	}
	var years []int
	for _, m := range matches {
		prefix, _, _ := strings.Cut(filepath.Base(m), "_")
		y, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// ListSymbols returns the union of instrument codes across all archives.
func (a *Archive) ListSymbols() ([]string, error) {
	years, err := a.Years()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, y := range years {
		zr, err := a.reader(y)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, f := range zr.File {
			name := filepath.Base(f.Name)
			if !strings.HasSuffix(name, ".csv") {
				continue
			}
			code, _, ok := strings.Cut(name, "_")
			if !ok || code == "" {
				continue
			}
			seen[code] = struct{}{}
		}
	}

	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LoadDaily reads every year's hourly rows for code and aggregates them into
// daily bars. Missing archives or entries are skipped; an entry that cannot
// be parsed is logged and skipped.
func (a *Archive) LoadDaily(code string) ([]domain.Bar, error) {
	years, err := a.Years()
	if err != nil {
		return nil, err
	}

	var rows []hourlyRow
	for _, y := range years {
		zr, err := a.reader(y)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		name := fmt.Sprintf("%s_%d.csv", code, y)
		data, err := readEntry(zr, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			a.log.Warn("skipping unreadable entry", "archive", y, "entry", name, "error", err)
			continue
		}

		parsed, err := parseHourly(data)
		if err != nil {
			a.log.Warn("skipping unparseable entry", "archive", y, "entry", name, "error", err)
			continue
		}
		rows = append(rows, parsed...)
	}
	return toDaily(code, rows), nil
}

// Close releases every opened archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for y, zr := range a.readers {
		errs = append(errs, zr.Close())
		delete(a.readers, y)
	}
	return errors.Join(errs...)
}

func (a *Archive) path(year int) string {
	return filepath.Join(a.dir, fmt.Sprintf("%d_60min.zip", year))
}

func (a *Archive) reader(year int) (*zip.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if zr, ok := a.readers[year]; ok {
		return zr, nil
	}
	path := a.path(year)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	a.readers[year] = zr
	return zr, nil
}

// readEntry returns the contents of the named entry, matching on base name
// so archives with a top-level folder are also accepted.
func readEntry(zr *zip.ReadCloser, name string) ([]byte, error) {
	for _, f := range zr.File {
		if filepath.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fs.ErrNotExist
}
