package cn

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"limitup/internal/domain"
)

// Column headers of the hourly archive CSVs.
const (
	colTime   = "时间"
	colOpen   = "开盘价"
	colClose  = "收盘价"
	colHigh   = "最高价"
	colLow    = "最低价"
	colVolume = "成交量"
	colAmount = "成交额"
)

var requiredColumns = []string{colTime, colOpen, colClose, colHigh, colLow, colVolume, colAmount}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"20060102150405",
}

// hourlyRow is one intraday observation.
type hourlyRow struct {
	Time   time.Time
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
	Amount float64
}

// decode returns data as UTF-8. Bytes that are not valid UTF-8 are decoded
// as GB18030, which covers GBK.
func decode(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decoding GB18030: %w", err)
	}
	return out, nil
}

// parseHourly reads an hourly archive CSV. Columns are located by header
// name, so extra or reordered columns are tolerated.
func parseHourly(data []byte) ([]hourlyRow, error) {
	text, err := decode(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var rows []hourlyRow
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string, idx map[string]int) (hourlyRow, error) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var row hourlyRow
	var err error
	if row.Time, err = parseTime(field(colTime)); err != nil {
		return row, err
	}

	for _, f := range []struct {
		col string
		dst *float64
	}{
		{colOpen, &row.Open},
		{colClose, &row.Close},
		{colHigh, &row.High},
		{colLow, &row.Low},
		{colVolume, &row.Volume},
		{colAmount, &row.Amount},
	} {
		v := field(f.col)
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return row, fmt.Errorf("column %s: %w", f.col, err)
		}
	}
	return row, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// toDaily aggregates hourly rows into daily bars: first open, last close,
// highest high, lowest low, summed volume and amount. The percentage change
// and amplitude are relative to the previous day's close; the first day has
// no change and zero amplitude.
func toDaily(symbol string, rows []hourlyRow) []domain.Bar {
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]hourlyRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var bars []domain.Bar
	var volume float64
	for _, r := range sorted {
		d := domain.Date(r.Time)
		n := len(bars)
		if n == 0 || !bars[n-1].Date.Equal(d) {
			if n > 0 {
				bars[n-1].Volume = int64(volume)
			}
			volume = 0
			bars = append(bars, domain.Bar{
				Symbol: symbol,
				Date:   d,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
			})
			n++
		}
		b := &bars[n-1]
		b.Close = r.Close
		b.High = max(b.High, r.High)
		b.Low = min(b.Low, r.Low)
		b.Amount += r.Amount
		volume += r.Volume
	}
	bars[len(bars)-1].Volume = int64(volume)

	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			continue
		}
		bars[i].PctChange = domain.Pct((bars[i].Close/prev - 1) * 100)
		bars[i].Amplitude = (bars[i].High - bars[i].Low) / prev * 100
	}
	return bars
}
