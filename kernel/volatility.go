package kernel

import (
	"fmt"
	"math"
	"sort"

	"gridbot/config"
	"gridbot/market"
)

// VolatilityEstimator turns a price window into the dynamic ATR used for
// stop-loss and take-profit distances. Only the clamped value leaves it.
type VolatilityEstimator struct {
	cfg config.VolatilityConfig
}

// NewVolatilityEstimator validates cfg and builds an estimator
func NewVolatilityEstimator(cfg config.VolatilityConfig) (*VolatilityEstimator, error) {
	if cfg.Period <= 0 {
		return nil, &config.ConfigurationError{Field: "volatility.period", Reason: "must be positive"}
	}
	if cfg.Min <= 0 || cfg.Max < cfg.Min {
		return nil, &config.ConfigurationError{Field: "volatility.min/max", Reason: "need 0 < min <= max"}
	}
	if cfg.Default <= 0 {
		return nil, &config.ConfigurationError{Field: "volatility.default", Reason: "must be positive"}
	}
	switch cfg.Smoothing {
	case "":
		cfg.Smoothing = "sma"
	case "sma", "wilder":
	default:
		return nil, &config.ConfigurationError{Field: "volatility.smoothing", Reason: fmt.Sprintf("unknown mode %q", cfg.Smoothing)}
	}
	if cfg.ClipRatio < 0 {
		return nil, &config.ConfigurationError{Field: "volatility.clip_ratio", Reason: "must not be negative"}
	}
	return &VolatilityEstimator{cfg: cfg}, nil
}

// Period returns the ATR lookback
func (v *VolatilityEstimator) Period() int {
	return v.cfg.Period
}

// Estimate returns the clamped dynamic ATR of window
func (v *VolatilityEstimator) Estimate(window []market.PriceBar) (float64, error) {
	_, clamped, err := v.Measure(window)
	return clamped, err
}

// Measure returns both the raw and the clamped ATR. A window shorter than
// period+1 bars fails with *market.InsufficientDataError.
func (v *VolatilityEstimator) Measure(window []market.PriceBar) (raw, clamped float64, err error) {
	p := v.cfg.Period
	if len(window) < p+1 {
		return 0, 0, &market.InsufficientDataError{Indicator: "ATR", Need: p + 1, Have: len(window)}
	}

	highs, lows, closes := market.Series(window)
	series, err := v.atrSeries(highs, lows, closes)
	if err != nil {
		return 0, 0, err
	}
	raw = market.Last(series)

	if v.cfg.ClipRatio > 0 && len(window) >= 2*p {
		if med, ok := median(series[len(series)-p:]); ok {
			raw = math.Min(raw, med*v.cfg.ClipRatio)
		}
	}

	return raw, v.Clamp(raw), nil
}

// atrSeries returns ATR values aligned with the input bars, warm-up is NaN
func (v *VolatilityEstimator) atrSeries(highs, lows, closes []float64) ([]float64, error) {
	p := v.cfg.Period
	if v.cfg.Smoothing == "wilder" {
		return market.ATR(highs, lows, closes, p)
	}

	tr, err := market.TrueRange(highs, lows, closes)
	if err != nil {
		return nil, err
	}
	// the first bar has no previous close, its range is left out of the mean
	sma, err := market.SMA(tr[1:], p)
	if err != nil {
		return nil, &market.InsufficientDataError{Indicator: "ATR", Need: p + 1, Have: len(closes)}
	}
	return append([]float64{math.NaN()}, sma...), nil
}

// Clamp replaces a non-finite or non-positive raw ATR with the configured
// default, then bounds it to [Min, Max].
func (v *VolatilityEstimator) Clamp(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		raw = v.cfg.Default
	}
	return math.Min(math.Max(raw, v.cfg.Min), v.cfg.Max)
}

func median(values []float64) (float64, bool) {
	sorted := make([]float64, 0, len(values))
	for _, x := range values {
		if !math.IsNaN(x) {
			sorted = append(sorted, x)
		}
	}
	if len(sorted) == 0 {
		return 0, false
	}
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2, true
	}
	return sorted[mid], true
}
