package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridbot/logger"
)

// ConfigurationError is returned for an invalid threshold, period or knob.
// It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// MarketConfig 行情参数
type MarketConfig struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	BarCount  int    `yaml:"bar_count"`
}

// GridConfig 网格参数
type GridConfig struct {
	LotSize        float64 `yaml:"lot_size"`
	MaxRungs       int     `yaml:"max_rungs"`
	RungStep       float64 `yaml:"rung_step"`
	PricePrecision int32   `yaml:"price_precision"`
	QtyPrecision   int32   `yaml:"qty_precision"`
	CostBuffer     float64 `yaml:"cost_buffer"`
	SLMultiplier   float64 `yaml:"sl_multiplier"`
	TPMultiplier   float64 `yaml:"tp_multiplier"`
	ClientIDPrefix string  `yaml:"client_id_prefix"`
}

// SignalConfig 指标参数
type SignalConfig struct {
	ADXPeriod     int     `yaml:"adx_period"`
	ADXThreshold  float64 `yaml:"adx_threshold"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	MACDFast      int     `yaml:"macd_fast"`
	MACDSlow      int     `yaml:"macd_slow"`
	MACDSignal    int     `yaml:"macd_signal"`
	BBPeriod      int     `yaml:"bb_period"`
	BBDeviations  float64 `yaml:"bb_deviations"`
}

// VolatilityConfig 动态 ATR 参数
type VolatilityConfig struct {
	Period    int     `yaml:"period"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Default   float64 `yaml:"default"`
	Smoothing string  `yaml:"smoothing"` // sma | wilder
	ClipRatio float64 `yaml:"clip_ratio"`
}

// GatewayConfig 券商网关参数
type GatewayConfig struct {
	Kind         string  `yaml:"kind"` // binance | paper
	APIKey       string  `yaml:"-"`
	SecretKey    string  `yaml:"-"`
	Testnet      bool    `yaml:"testnet"`
	PaperBalance float64 `yaml:"paper_balance"`
	RequestsPerS float64 `yaml:"requests_per_second"`
}

// Config 全局配置（默认值 → YAML 文件 → 环境变量）
type Config struct {
	Market     MarketConfig     `yaml:"market"`
	Grid       GridConfig       `yaml:"grid"`
	Signal     SignalConfig     `yaml:"signal"`
	Volatility VolatilityConfig `yaml:"volatility"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Log        logger.Config    `yaml:"log"`

	PollIntervalSec int    `yaml:"poll_interval_sec"`
	DBPath          string `yaml:"db_path"`
	APIServerPort   int    `yaml:"api_server_port"`
}

// Default returns the observed production defaults
func Default() *Config {
	return &Config{
		Market: MarketConfig{
			Symbol:    "ETHUSDT",
			Timeframe: "1m",
			BarCount:  500,
		},
		Grid: GridConfig{
			LotSize:        0.01,
			MaxRungs:       5,
			RungStep:       1,
			PricePrecision: 2,
			QtyPrecision:   3,
			CostBuffer:     1.01,
			SLMultiplier:   1.5,
			TPMultiplier:   2.5,
			ClientIDPrefix: "grid",
		},
		Signal: SignalConfig{
			ADXPeriod:     30,
			ADXThreshold:  40,
			RSIPeriod:     14,
			RSIOversold:   35,
			RSIOverbought: 65,
			MACDFast:      12,
			MACDSlow:      26,
			MACDSignal:    9,
			BBPeriod:      20,
			BBDeviations:  2,
		},
		Volatility: VolatilityConfig{
			Period:    14,
			Min:       0.3,
			Max:       2.0,
			Default:   0.5,
			Smoothing: "sma",
		},
		Gateway: GatewayConfig{
			Kind:         "paper",
			PaperBalance: 1000,
			RequestsPerS: 10,
		},
		Log: logger.Config{
			Level: "info",
			File:  "logs/gridbot.log",
		},
		PollIntervalSec: 10,
		DBPath:          "data/grid_journal.db",
		APIServerPort:   8080,
	}
}

// Init 加载配置（YAML 文件可选，环境变量优先）
func Init() (*Config, error) {
	return Load(os.Getenv("GRID_CONFIG_FILE"))
}

// Load builds a Config from defaults, the optional YAML file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PollInterval returns the polling period of the strategy loop
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) applyEnv() {
	c.Market.Symbol = strings.ToUpper(getEnv("GRID_SYMBOL", c.Market.Symbol))
	c.Market.Timeframe = getEnv("GRID_TIMEFRAME", c.Market.Timeframe)
	c.Market.BarCount = getEnvInt("GRID_BAR_COUNT", c.Market.BarCount)

	c.Grid.LotSize = getEnvFloat("GRID_LOT_SIZE", c.Grid.LotSize)
	c.Grid.MaxRungs = getEnvInt("GRID_MAX_RUNGS", c.Grid.MaxRungs)
	c.Grid.RungStep = getEnvFloat("GRID_RUNG_STEP", c.Grid.RungStep)
	c.Grid.PricePrecision = int32(getEnvInt("GRID_PRICE_PRECISION", int(c.Grid.PricePrecision)))
	c.Grid.QtyPrecision = int32(getEnvInt("GRID_QTY_PRECISION", int(c.Grid.QtyPrecision)))
	c.Grid.CostBuffer = getEnvFloat("GRID_COST_BUFFER", c.Grid.CostBuffer)
	c.Grid.SLMultiplier = getEnvFloat("GRID_SL_MULTIPLIER", c.Grid.SLMultiplier)
	c.Grid.TPMultiplier = getEnvFloat("GRID_TP_MULTIPLIER", c.Grid.TPMultiplier)
	c.Grid.ClientIDPrefix = getEnv("GRID_CLIENT_ID_PREFIX", c.Grid.ClientIDPrefix)

	c.Signal.ADXPeriod = getEnvInt("GRID_ADX_PERIOD", c.Signal.ADXPeriod)
	c.Signal.ADXThreshold = getEnvFloat("GRID_ADX_THRESHOLD", c.Signal.ADXThreshold)
	c.Signal.RSIPeriod = getEnvInt("GRID_RSI_PERIOD", c.Signal.RSIPeriod)
	c.Signal.RSIOversold = getEnvFloat("GRID_RSI_OVERSOLD", c.Signal.RSIOversold)
	c.Signal.RSIOverbought = getEnvFloat("GRID_RSI_OVERBOUGHT", c.Signal.RSIOverbought)
	c.Signal.MACDFast = getEnvInt("GRID_MACD_FAST", c.Signal.MACDFast)
	c.Signal.MACDSlow = getEnvInt("GRID_MACD_SLOW", c.Signal.MACDSlow)
	c.Signal.MACDSignal = getEnvInt("GRID_MACD_SIGNAL", c.Signal.MACDSignal)

	c.Volatility.Period = getEnvInt("GRID_ATR_PERIOD", c.Volatility.Period)
	c.Volatility.Min = getEnvFloat("GRID_ATR_MIN", c.Volatility.Min)
	c.Volatility.Max = getEnvFloat("GRID_ATR_MAX", c.Volatility.Max)
	c.Volatility.Default = getEnvFloat("GRID_ATR_DEFAULT", c.Volatility.Default)
	c.Volatility.Smoothing = strings.ToLower(getEnv("GRID_ATR_SMOOTHING", c.Volatility.Smoothing))
	c.Volatility.ClipRatio = getEnvFloat("GRID_ATR_CLIP_RATIO", c.Volatility.ClipRatio)

	c.Gateway.Kind = strings.ToLower(getEnv("GRID_GATEWAY", c.Gateway.Kind))
	c.Gateway.APIKey = getEnv("BINANCE_API_KEY", c.Gateway.APIKey)
	c.Gateway.SecretKey = getEnv("BINANCE_SECRET_KEY", c.Gateway.SecretKey)
	c.Gateway.Testnet = getEnvBool("BINANCE_TESTNET", c.Gateway.Testnet)
	c.Gateway.PaperBalance = getEnvFloat("GRID_PAPER_BALANCE", c.Gateway.PaperBalance)
	c.Gateway.RequestsPerS = getEnvFloat("GRID_REQUESTS_PER_SECOND", c.Gateway.RequestsPerS)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Log.MaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.Log.MaxSizeMB)

	c.PollIntervalSec = getEnvInt("GRID_POLL_INTERVAL_SEC", c.PollIntervalSec)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.APIServerPort = getEnvInt("API_SERVER_PORT", c.APIServerPort)
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigurationError{Field: "config", Reason: "is nil"}
	}
	if c.Market.Symbol == "" {
		return &ConfigurationError{Field: "market.symbol", Reason: "must not be empty"}
	}
	if c.Market.Timeframe == "" {
		return &ConfigurationError{Field: "market.timeframe", Reason: "must not be empty"}
	}
	if c.Grid.LotSize <= 0 {
		return &ConfigurationError{Field: "grid.lot_size", Reason: "must be positive"}
	}
	if c.Grid.MaxRungs <= 0 {
		return &ConfigurationError{Field: "grid.max_rungs", Reason: "must be positive"}
	}
	if c.Grid.RungStep < 0 {
		return &ConfigurationError{Field: "grid.rung_step", Reason: "must not be negative"}
	}
	if c.Grid.CostBuffer < 1 {
		return &ConfigurationError{Field: "grid.cost_buffer", Reason: "must be >= 1"}
	}
	if c.Grid.SLMultiplier <= 0 || c.Grid.TPMultiplier <= 0 {
		return &ConfigurationError{Field: "grid.sl_multiplier/tp_multiplier", Reason: "must be positive"}
	}
	if c.Grid.PricePrecision < 0 || c.Grid.QtyPrecision < 0 {
		return &ConfigurationError{Field: "grid.precision", Reason: "must not be negative"}
	}

	s := c.Signal
	if s.ADXPeriod <= 0 || s.RSIPeriod <= 0 || s.MACDFast <= 0 || s.MACDSlow <= 0 || s.MACDSignal <= 0 {
		return &ConfigurationError{Field: "signal.periods", Reason: "all periods must be positive"}
	}
	if s.MACDFast >= s.MACDSlow {
		return &ConfigurationError{Field: "signal.macd_fast", Reason: "must be shorter than macd_slow"}
	}
	if s.RSIOversold <= 0 || s.RSIOverbought >= 100 || s.RSIOversold >= s.RSIOverbought {
		return &ConfigurationError{Field: "signal.rsi_thresholds", Reason: "need 0 < oversold < overbought < 100"}
	}
	if s.ADXThreshold <= 0 {
		return &ConfigurationError{Field: "signal.adx_threshold", Reason: "must be positive"}
	}

	v := c.Volatility
	if v.Period <= 0 {
		return &ConfigurationError{Field: "volatility.period", Reason: "must be positive"}
	}
	if v.Min <= 0 || v.Max < v.Min {
		return &ConfigurationError{Field: "volatility.min/max", Reason: "need 0 < min <= max"}
	}
	if v.Default <= 0 {
		return &ConfigurationError{Field: "volatility.default", Reason: "must be positive"}
	}
	if v.Smoothing != "sma" && v.Smoothing != "wilder" {
		return &ConfigurationError{Field: "volatility.smoothing", Reason: fmt.Sprintf("unknown mode %q", v.Smoothing)}
	}
	if v.ClipRatio < 0 {
		return &ConfigurationError{Field: "volatility.clip_ratio", Reason: "must not be negative"}
	}

	switch c.Gateway.Kind {
	case "paper":
		if c.Gateway.PaperBalance < 0 {
			return &ConfigurationError{Field: "gateway.paper_balance", Reason: "must not be negative"}
		}
	case "binance":
		if c.Gateway.APIKey == "" || c.Gateway.SecretKey == "" {
			return &ConfigurationError{Field: "gateway.credentials", Reason: "BINANCE_API_KEY and BINANCE_SECRET_KEY are required"}
		}
	default:
		return &ConfigurationError{Field: "gateway.kind", Reason: fmt.Sprintf("unknown gateway %q", c.Gateway.Kind)}
	}

	if c.PollIntervalSec <= 0 {
		return &ConfigurationError{Field: "poll_interval_sec", Reason: "must be positive"}
	}
	minBars := 2 * s.ADXPeriod
	if need := s.MACDSlow + s.MACDSignal; need > minBars {
		minBars = need
	}
	if c.Market.BarCount < minBars {
		return &ConfigurationError{Field: "market.bar_count", Reason: fmt.Sprintf("need at least %d bars for the configured periods", minBars)}
	}
	return nil
}

// --------- Env helpers ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warnf("⚠️ ignoring %s=%q: %v", key, v, err)
		return def
	}
	return f
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warnf("⚠️ ignoring %s=%q: %v", key, v, err)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}
