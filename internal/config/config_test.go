package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
store:
  path: ./signals.db
market:
  feed:
    quote_url: "http://127.0.0.1/quote/{code}"
`

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Seoul", cfg.Market.Timezone)
	assert.Equal(t, []string{"005930", "000660", "035420"}, cfg.Market.Watchlist)
	assert.Equal(t, 1.5, cfg.Ensemble.Weights["BULL"].MA)
	assert.Equal(t, "auto", cfg.Ensemble.RegimeMode)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 90*time.Second, cfg.Store.ClaimLease())
	// 未写出的键取默认值
	assert.Equal(t, defaultMaxOpenConns, cfg.Store.MaxOpenConns)
	assert.Equal(t, defaultATRPeriod, cfg.Scoring.ATRPeriod)
	assert.Equal(t, DefaultFailureRules(), cfg.Verify.FailureRules)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, DefaultHorizons, cfg.Lifecycle.Horizons)
	assert.Equal(t, 50*time.Second, cfg.Lifecycle.TickTimeout())
	assert.Equal(t, 1.0, cfg.Verify.HoldBandPct)
	assert.Equal(t, 2.0, cfg.Verify.FailThresholdPct)
	assert.Equal(t, 5, cfg.Verify.MaxStaleAttempts)
	assert.Equal(t, "off", cfg.Ensemble.RegimeMode)
	assert.Equal(t, 0.25, cfg.Risk.KellyFractionCap)
	assert.Equal(t, "t", cfg.Market.Feed.CandleFields.OpenTime)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", minimalConfig+`
risk:
  max_daily_trades: 7
  max_daily_loss: -300000
`)
	path := writeFile(t, dir, "config.yaml", `
include: ["base.yaml"]
market:
  watchlist: [" aapl ", "AAPL", "msft"]
risk:
  max_daily_trades: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 300000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Market.Watchlist)
	assert.Equal(t, "http://127.0.0.1/quote/{code}", cfg.Market.Feed.QuoteURL)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [\"b.yaml\"]\n")
	path := writeFile(t, dir, "b.yaml", "include: [\"a.yaml\"]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig+`
risk:
  max_daily_trades: 10
`)
	t.Setenv("AEGIS_RISK_MAX_DAILY_TRADES", "4")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Risk.MaxDailyTrades)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"unknown driver":   {"store:\n  driver: mysql\n  path: ./a.db\n", "store.driver"},
		"postgres w/o dsn": {"store:\n  driver: postgres\nmarket:\n  feed:\n    quote_url: x\n", "store.dsn"},
		"http w/o url":     {"store:\n  path: ./a.db\n", "quote_url"},
		"bad session":      {minimalConfig + "  session_open: \"16:00\"\n", "session_close"},
		"bad holiday":      {minimalConfig + "  holidays: [\"10/09\"]\n", "holidays"},
		"bad horizon":      {minimalConfig + "lifecycle:\n  horizons: [\"2m\"]\n", "lifecycle.horizons"},
		"dup horizon":      {minimalConfig + "lifecycle:\n  horizons: [\"5m\", \"5M\"]\n", "duplicate"},
		"bad regime mode":  {minimalConfig + "ensemble:\n  regime_mode: ml\n", "regime_mode"},
		"fixed w/o regime": {minimalConfig + "ensemble:\n  regime_mode: fixed\n", "fixed_regime"},
		"negative weight":  {minimalConfig + "ensemble:\n  weights:\n    bear: {ma: -1}\n", "non-negative"},
		"unknown weight":   {minimalConfig + "ensemble:\n  weights:\n    crash: {ma: 1}\n", "unknown regime"},
		"rsi bounds":       {minimalConfig + "scoring:\n  rsi_oversold: 80\n", "rsi_oversold"},
		"rule w/o tag":     {minimalConfig + "verify:\n  failure_rules:\n    - applies_to: [buy]\n", "missing tag"},
		"rule bad kind":    {minimalConfig + "verify:\n  failure_rules:\n    - tag: x\n      applies_to: [short]\n", "applies_to"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock(" 15:30 ")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Hour+30*time.Minute, d)

	_, err = ParseClock("9am")
	assert.Error(t, err)
}
