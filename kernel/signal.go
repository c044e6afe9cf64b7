package kernel

import (
	"gridbot/config"
	"gridbot/market"
)

const rsiTrail = 3

// SignalEvaluator derives a TradeSignal from a price window.
//
// The regime is ranging while ADX stays below the threshold. A buy needs a
// ranging market, an oversold RSI and a bullish MACD crossover on the latest
// bar; a sell is the mirror image. Anything else is none.
type SignalEvaluator struct {
	cfg config.SignalConfig
	vol *VolatilityEstimator
}

// NewSignalEvaluator validates the thresholds and periods of cfg
func NewSignalEvaluator(cfg config.SignalConfig, vol *VolatilityEstimator) (*SignalEvaluator, error) {
	if cfg.ADXPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.MACDFast <= 0 || cfg.MACDSlow <= 0 || cfg.MACDSignal <= 0 {
		return nil, &config.ConfigurationError{Field: "signal.periods", Reason: "all periods must be positive"}
	}
	if cfg.MACDFast >= cfg.MACDSlow {
		return nil, &config.ConfigurationError{Field: "signal.macd_fast", Reason: "must be shorter than macd_slow"}
	}
	if cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, &config.ConfigurationError{Field: "signal.rsi_thresholds", Reason: "oversold must be below overbought"}
	}
	if cfg.ADXThreshold <= 0 {
		return nil, &config.ConfigurationError{Field: "signal.adx_threshold", Reason: "must be positive"}
	}
	if vol == nil {
		return nil, &config.ConfigurationError{Field: "volatility", Reason: "estimator is required"}
	}
	return &SignalEvaluator{cfg: cfg, vol: vol}, nil
}

// Snapshot computes the trailing indicator values of window. If any of ADX,
// MACD, RSI or ATR cannot be computed the whole snapshot fails.
func (e *SignalEvaluator) Snapshot(window []market.PriceBar) (*IndicatorSnapshot, error) {
	if len(window) == 0 {
		return nil, &market.InsufficientDataError{Indicator: "window", Need: 1, Have: 0}
	}
	highs, lows, closes := market.Series(window)

	adx, err := market.ADX(highs, lows, closes, e.cfg.ADXPeriod)
	if err != nil {
		return nil, err
	}
	macd, macdSig, macdHist, err := market.MACD(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	if err != nil {
		return nil, err
	}
	rsi, err := market.RSI(closes, e.cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	rawATR, dynATR, err := e.vol.Measure(window)
	if err != nil {
		return nil, err
	}

	n := len(closes)
	snap := &IndicatorSnapshot{
		ADX:          adx[n-1],
		MACDMain:     macd[n-1],
		MACDSignal:   macdSig[n-1],
		MACDHist:     macdHist[n-1],
		PrevMACDMain: macd[n-2],
		PrevMACDSig:  macdSig[n-2],
		PrevMACDHist: macdHist[n-2],
		RSI:          trailing(rsi, rsiTrail),
		RawATR:       rawATR,
		DynamicATR:   dynATR,
		LastClose:    closes[n-1],
		BarTime:      window[n-1].Timestamp,
	}

	if e.cfg.BBPeriod > 0 {
		if upper, middle, lower, err := market.Bollinger(closes, e.cfg.BBPeriod, e.cfg.BBDeviations); err == nil {
			snap.Bollinger = &BollingerBands{Upper: upper[n-1], Middle: middle[n-1], Lower: lower[n-1]}
		}
	}
	return snap, nil
}

// Decide is a pure function of the snapshot and the thresholds
func (e *SignalEvaluator) Decide(snap *IndicatorSnapshot) TradeSignal {
	regime := RegimeTrending
	if snap.ADX < e.cfg.ADXThreshold {
		regime = RegimeRanging
	}

	bullish := snap.PrevMACDMain < snap.PrevMACDSig && snap.MACDMain > snap.MACDSignal
	bearish := snap.PrevMACDMain > snap.PrevMACDSig && snap.MACDMain < snap.MACDSignal

	rsi := snap.LatestRSI()
	oversold := rsi < e.cfg.RSIOversold
	overbought := rsi > e.cfg.RSIOverbought

	direction := DirectionNone
	switch {
	case regime == RegimeRanging && oversold && bullish:
		direction = DirectionBuy
	case regime == RegimeRanging && overbought && bearish:
		direction = DirectionSell
	}
	return TradeSignal{Direction: direction, Regime: regime}
}

// Evaluate is Snapshot followed by Decide
func (e *SignalEvaluator) Evaluate(window []market.PriceBar) (TradeSignal, *IndicatorSnapshot, error) {
	snap, err := e.Snapshot(window)
	if err != nil {
		return TradeSignal{Direction: DirectionNone}, nil, err
	}
	return e.Decide(snap), snap, nil
}

// MinBars returns the shortest window every indicator accepts
func (e *SignalEvaluator) MinBars() int {
	need := 2 * e.cfg.ADXPeriod
	if m := e.cfg.MACDSlow + e.cfg.MACDSignal; m > need {
		need = m
	}
	if r := e.cfg.RSIPeriod + 1; r > need {
		need = r
	}
	if a := e.vol.Period() + 1; a > need {
		need = a
	}
	return need
}

func trailing(series []float64, k int) []float64 {
	if k > len(series) {
		k = len(series)
	}
	out := make([]float64, k)
	copy(out, series[len(series)-k:])
	return out
}
