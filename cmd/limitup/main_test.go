package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitup/internal/domain"
	"limitup/internal/store"
)

// writeFixture caches one instrument with a single limit-up pullback signal
// and returns the path of a config pointing at it.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 40)
	for i := range bars {
		c := 10.0
		if i >= 30 {
			c = 11
		}
		bars[i] = domain.Bar{Symbol: "600000", Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
		if i > 0 {
			bars[i].PctChange = domain.Pct(0)
		}
	}
	bars[30].PctChange = domain.Pct(10)
	bars[32].Volume = 2000
	require.NoError(t, store.NewParquetStore(dataDir).WriteBars(context.Background(), "cn", bars))

	cfgFile := filepath.Join(dir, "limitup.yaml")
	yml := fmt.Sprintf(`storage:
  data_dir: %s
  sqlite_path: %s
logging:
  level: error
universe:
  market: cn
`, dataDir, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(cfgFile, []byte(yml), 0o644))
	return cfgFile
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "limitup "+version)
}

func TestCommands(t *testing.T) {
	cfgFile := writeFixture(t)
	outDir := t.TempDir()

	out, err := execute("--config", cfgFile, "signals", "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, "600000,2024-02-02,2024-01-31,11.0000,11.0000,2.0000")

	out, err = execute("--config", cfgFile, "backtest", "--output", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "end-of-backtest 1")

	exports, err := filepath.Glob(filepath.Join(outDir, "*", "trades.csv"))
	require.NoError(t, err)
	require.Len(t, exports, 1)
	trades, err := os.ReadFile(exports[0])
	require.NoError(t, err)
	assert.Contains(t, string(trades), "600000,2024-02-02,2024-02-09")

	out, err = execute("--config", cfgFile, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "limit-up")
	assert.Contains(t, out, "completed")

	_, err = execute("--config", cfgFile, "compare")
	assert.ErrorContains(t, err, "no variants")
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := execute("--config", filepath.Join(t.TempDir(), "absent.yaml"), "runs")
	assert.ErrorContains(t, err, "loading config")
}
