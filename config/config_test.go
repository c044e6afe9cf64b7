package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Market.Symbol)
	assert.Equal(t, 5, cfg.Grid.MaxRungs)
	assert.Equal(t, 1.01, cfg.Grid.CostBuffer)
	assert.Equal(t, 1.5, cfg.Grid.SLMultiplier)
	assert.Equal(t, 2.5, cfg.Grid.TPMultiplier)
	assert.Equal(t, 40.0, cfg.Signal.ADXThreshold)
	assert.Equal(t, 0.3, cfg.Volatility.Min)
	assert.Equal(t, 2.0, cfg.Volatility.Max)
	assert.Equal(t, 0.5, cfg.Volatility.Default)
	assert.Equal(t, "paper", cfg.Gateway.Kind)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GRID_SYMBOL", "btcusdt")
	t.Setenv("GRID_TP_MULTIPLIER", "2.0")
	t.Setenv("GRID_MAX_RUNGS", "8")
	t.Setenv("GRID_POLL_INTERVAL_SEC", "30")
	t.Setenv("GRID_ATR_SMOOTHING", "WILDER")
	t.Setenv("GRID_RSI_OVERSOLD", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Market.Symbol)
	assert.Equal(t, 2.0, cfg.Grid.TPMultiplier)
	assert.Equal(t, 8, cfg.Grid.MaxRungs)
	assert.Equal(t, 30, cfg.PollIntervalSec)
	assert.Equal(t, "wilder", cfg.Volatility.Smoothing)
	assert.Equal(t, 35.0, cfg.Signal.RSIOversold, "unparsable values keep the previous setting")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	content := `
market:
  symbol: XAUUSDT
  timeframe: 5m
  bar_count: 300
grid:
  max_rungs: 3
  rung_step: 0.5
  sl_multiplier: 1.5
  tp_multiplier: 2.0
volatility:
  default: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("GRID_MAX_RUNGS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "XAUUSDT", cfg.Market.Symbol)
	assert.Equal(t, "5m", cfg.Market.Timeframe)
	assert.Equal(t, 0.5, cfg.Grid.RungStep)
	assert.Equal(t, 2.0, cfg.Grid.TPMultiplier)
	assert.Equal(t, 1.0, cfg.Volatility.Default)
	assert.Equal(t, 4, cfg.Grid.MaxRungs)
	assert.Equal(t, 0.01, cfg.Grid.LotSize, "fields missing from the file keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadKnobs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero lot", func(c *Config) { c.Grid.LotSize = 0 }, "grid.lot_size"},
		{"no rungs", func(c *Config) { c.Grid.MaxRungs = 0 }, "grid.max_rungs"},
		{"negative step", func(c *Config) { c.Grid.RungStep = -1 }, "grid.rung_step"},
		{"cost buffer below one", func(c *Config) { c.Grid.CostBuffer = 0.99 }, "grid.cost_buffer"},
		{"macd fast >= slow", func(c *Config) { c.Signal.MACDFast = 26 }, "signal.macd_fast"},
		{"rsi inverted", func(c *Config) { c.Signal.RSIOversold = 70 }, "signal.rsi_thresholds"},
		{"zero adx period", func(c *Config) { c.Signal.ADXPeriod = 0 }, "signal.periods"},
		{"atr clamp inverted", func(c *Config) { c.Volatility.Max = 0.1 }, "volatility.min/max"},
		{"unknown smoothing", func(c *Config) { c.Volatility.Smoothing = "hull" }, "volatility.smoothing"},
		{"unknown gateway", func(c *Config) { c.Gateway.Kind = "mt5" }, "gateway.kind"},
		{"binance without keys", func(c *Config) { c.Gateway.Kind = "binance" }, "gateway.credentials"},
		{"zero poll", func(c *Config) { c.PollIntervalSec = 0 }, "poll_interval_sec"},
		{"short history", func(c *Config) { c.Market.BarCount = 40 }, "market.bar_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestPollInterval(t *testing.T) {
	cfg := Default()
	cfg.PollIntervalSec = 15
	assert.Equal(t, "15s", cfg.PollInterval().String())
}
