package market

import (
	"fmt"
	"time"
)

// PriceBar is one OHLCV candle. A window of bars is ordered oldest first with
// strictly increasing timestamps and is never mutated after it is produced.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ValidateHistory checks ordering and basic candle sanity
func ValidateHistory(bars []PriceBar) error {
	for i, b := range bars {
		if b.High < b.Low {
			return fmt.Errorf("bar %d: high %.5f below low %.5f", i, b.High, b.Low)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d: timestamp %s not after %s", i,
				b.Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Series splits a window into high, low and close series
func Series(bars []PriceBar) (highs, lows, closes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	return highs, lows, closes
}

// Last returns the trailing value of a series, NaN-safe callers check len first
func Last(series []float64) float64 {
	return series[len(series)-1]
}
