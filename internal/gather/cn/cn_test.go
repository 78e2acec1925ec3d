package cn

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/strategy"
)

const header = "时间,代码,名称,开盘价,收盘价,最高价,最低价,成交量,成交额\n"

// hourlyCSV builds an archive CSV with one row per line in rows, each given
// as "time,open,close,high,low,volume,amount".
func hourlyCSV(code string, rows ...string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range rows {
		parts := strings.SplitN(r, ",", 2)
		fmt.Fprintf(&b, "%s,%s,浦发银行,%s\n", parts[0], code, parts[1])
	}
	return b.String()
}

func writeArchive(t *testing.T, dir string, year int, entries map[string][]byte) {
	t.Helper()

	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d_60min.zip", year)))
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func gbk(t *testing.T, s string) []byte {
	t.Helper()
	out, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

var twoDays = []string{
	"2020-01-02 10:30:00,10.00,10.20,10.30,9.90,1000,10100",
	"2020-01-02 11:30:00,10.20,10.10,10.25,10.05,500,5080",
	"2020-01-02 14:00:00,10.10,10.40,10.50,10.00,700,7250",
	"2020-01-03 10:30:00,10.40,11.00,11.10,10.40,2000,21500",
	"2020-01-03 15:00:00,11.00,11.44,11.44,10.90,3000,33900",
}

func TestParseHourlyDecodesGBK(t *testing.T) {
	rows, err := parseHourly(gbk(t, hourlyCSV("600000", twoDays...)))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC), rows[0].Time)
	assert.Equal(t, 10.20, rows[0].Close)
	assert.Equal(t, 1000.0, rows[0].Volume)
}

func TestParseHourlyUTF8WithBOM(t *testing.T) {
	data := append([]byte("\xef\xbb\xbf"), hourlyCSV("600000", twoDays[0])...)
	rows, err := parseHourly(data)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestParseHourlyRejectsMissingColumn(t *testing.T) {
	_, err := parseHourly([]byte("时间,开盘价\n2020-01-02 10:30,10\n"))
	assert.ErrorContains(t, err, "missing column")
}

func TestToDailyAggregates(t *testing.T) {
	rows, err := parseHourly([]byte(hourlyCSV("600000", twoDays...)))
	require.NoError(t, err)

	// Input order does not matter.
	rows[0], rows[4] = rows[4], rows[0]
	bars := toDaily("600000", rows)
	require.Len(t, bars, 2)

	d1 := bars[0]
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), d1.Date)
	assert.Equal(t, "600000", d1.Symbol)
	assert.Equal(t, 10.00, d1.Open)
	assert.Equal(t, 10.40, d1.Close)
	assert.Equal(t, 10.50, d1.High)
	assert.Equal(t, 9.90, d1.Low)
	assert.Equal(t, int64(2200), d1.Volume)
	assert.InDelta(t, 22430.0, d1.Amount, 1e-9)
	assert.Nil(t, d1.PctChange)
	assert.Zero(t, d1.Amplitude)

	d2 := bars[1]
	assert.Equal(t, 10.40, d2.Open)
	assert.Equal(t, 11.44, d2.Close)
	assert.Equal(t, int64(5000), d2.Volume)
	require.NotNil(t, d2.PctChange)
	assert.InDelta(t, 10.0, *d2.PctChange, 1e-9)
	assert.InDelta(t, (11.44-10.40)/10.40*100, d2.Amplitude, 1e-9)
}

func TestArchiveListAndLoad(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, 2019, map[string][]byte{
		"600000_2019.csv": []byte(hourlyCSV("600000", "2019-12-31 15:00:00,9.50,10.00,10.00,9.40,800,7900")),
		"readme.txt":      []byte("not a csv"),
	})
	writeArchive(t, dir, 2020, map[string][]byte{
		"600000_2020.csv": gbk(t, hourlyCSV("600000", twoDays...)),
		"000001_2020.csv": []byte(hourlyCSV("000001", twoDays[0])),
		"300750_2020.csv": []byte("garbage"),
	})

	a := NewArchive(dir, nil, nil)
	defer a.Close()

	years, err := a.Years()
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2020}, years)

	symbols, err := a.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001", "300750", "600000"}, symbols)

	bars, err := a.LoadDaily("600000")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC), bars[0].Date)
	require.NotNil(t, bars[1].PctChange)
	assert.InDelta(t, 4.0, *bars[1].PctChange, 1e-9) // 10.00 -> 10.40

	bad, err := a.LoadDaily("300750")
	require.NoError(t, err)
	assert.Empty(t, bad)

	missing, err := a.LoadDaily("688001")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

// memStore is an in-memory BarStore.
type memStore struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
}

func newMemStore() *memStore { return &memStore{bars: make(map[string][]domain.Bar)} }

func (m *memStore) WriteBars(_ context.Context, market string, bars []domain.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		m.bars[market+"/"+b.Symbol] = append(m.bars[market+"/"+b.Symbol], b)
	}
	return nil
}

func (m *memStore) ReadBars(_ context.Context, symbol, market string, _, _ time.Time) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bars[market+"/"+symbol], nil
}

func (m *memStore) ListSymbols(context.Context, string) ([]string, error) { return nil, nil }

func TestDailyBarGathererRun(t *testing.T) {
	archiveDir, dataDir := t.TempDir(), t.TempDir()
	writeArchive(t, archiveDir, 2020, map[string][]byte{
		"600000_2020.csv": gbk(t, hourlyCSV("600000", twoDays...)),
		"000001_2020.csv": []byte(hourlyCSV("000001", twoDays[0], twoDays[3])),
		"300750_2020.csv": []byte(header),
	})

	a := NewArchive(archiveDir, []int{2020}, nil)
	defer a.Close()
	ms := newMemStore()

	g := NewDailyBarGatherer(a, ms, dataDir, nil, 2, nil)
	assert.Equal(t, "cn-daily", g.Name())
	require.NoError(t, g.Run(context.Background()))

	st := g.Stats()
	assert.Equal(t, int64(2), st.Imported)
	assert.Equal(t, int64(1), st.Empty)
	assert.Equal(t, int64(4), st.Bars)
	assert.Len(t, ms.bars["cn/600000"], 2)
	assert.Len(t, ms.bars["cn/000001"], 2)

	// The empty code is remembered across runs.
	g2 := NewDailyBarGatherer(a, newMemStore(), dataDir, nil, 2, nil)
	require.NoError(t, g2.Run(context.Background()))
	assert.Equal(t, int64(1), g2.Stats().Skipped)
	assert.Equal(t, int64(2), g2.Stats().Imported)

	// RunFresh forgets it.
	require.NoError(t, g2.RunFresh(context.Background()))
	assert.Zero(t, g2.Stats().Skipped)
	assert.Equal(t, int64(1), g2.Stats().Empty)
}

func TestDailyBarGathererSymbolPool(t *testing.T) {
	archiveDir := t.TempDir()
	writeArchive(t, archiveDir, 2020, map[string][]byte{
		"600000_2020.csv": []byte(hourlyCSV("600000", twoDays...)),
		"000001_2020.csv": []byte(hourlyCSV("000001", twoDays...)),
	})

	a := NewArchive(archiveDir, nil, nil)
	defer a.Close()
	ms := newMemStore()

	g := NewDailyBarGatherer(a, ms, t.TempDir(), []string{"000001"}, 4, nil)
	require.NoError(t, g.Run(context.Background()))

	assert.Len(t, ms.bars, 1)
	assert.Contains(t, ms.bars, "cn/000001")
}

func TestProgressTrackerPersists(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	require.NoError(t, err)
	require.NoError(t, pt.MarkEmpty("300750"))
	require.NoError(t, pt.MarkEmpty("300750"))
	require.NoError(t, pt.Close())

	data, err := os.ReadFile(filepath.Join(dir, ".tried-empty"))
	require.NoError(t, err)
	assert.Equal(t, "300750\n", string(data))

	pt2, err := newProgressTracker(dir)
	require.NoError(t, err)
	defer pt2.Close()
	assert.True(t, pt2.IsTriedEmpty("300750"))
	assert.False(t, pt2.IsTriedEmpty("600000"))
}

// Archive data has no turnover column, so a turnover-filtered detector
// rejects every imported day while the plain detector still fires.
func TestImportedBarsCarryNoTurnover(t *testing.T) {
	start := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	rows := make([]hourlyRow, 40)
	for i := range rows {
		price, volume := 10.0, 1000.0
		if i >= 30 {
			price = 11
		}
		if i == 32 {
			volume = 2000
		}
		rows[i] = hourlyRow{
			Time:   start.AddDate(0, 0, i),
			Open:   price,
			Close:  price,
			High:   price,
			Low:    price,
			Volume: volume,
			Amount: price * volume,
		}
	}

	bars := toDaily("600000", rows)
	require.Len(t, bars, 40)
	for _, b := range bars {
		assert.Nil(t, b.TurnoverRate, "bar %s", b.Date.Format(time.DateOnly))
	}
	series := domain.Series{Symbol: "600000", Bars: bars}

	cfg := config.DefaultBacktest()
	signals := strategy.NewLimitUp(cfg).Detect(series)
	require.Len(t, signals, 1)
	assert.Equal(t, bars[32].Date, signals[0].Date)

	cfg.Filters.Turnover.Enabled = true
	assert.Empty(t, strategy.NewFilteredLimitUp(cfg).Detect(series))
}
