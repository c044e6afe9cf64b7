package market

import (
	"fmt"
	"math"
)

// Indicator functions are pure: they never modify their inputs and mark the
// warm-up region of every output series with NaN. Only trailing values are
// meant to be consumed.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d", name, period)
	}
	return nil
}

func checkHLC(name string, high, low, close []float64) error {
	if len(high) != len(low) || len(low) != len(close) {
		return fmt.Errorf("%s: series length mismatch high=%d low=%d close=%d", name, len(high), len(low), len(close))
	}
	return nil
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// The first bar has no previous close and uses high-low.
func TrueRange(high, low, close []float64) ([]float64, error) {
	if err := checkHLC("TrueRange", high, low, close); err != nil {
		return nil, err
	}
	tr := make([]float64, len(close))
	for i := range close {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr, nil
}

// SMA simple moving average
func SMA(values []float64, period int) ([]float64, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	if len(values) < period {
		return nil, &InsufficientDataError{Indicator: "SMA", Need: period, Have: len(values)}
	}
	out := nanSeries(len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA exponential moving average seeded with the SMA of the first period values.
// Leading NaN values in the input are skipped so an EMA can run over another
// indicator's output.
func EMA(values []float64, period int) ([]float64, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	first := 0
	for first < len(values) && math.IsNaN(values[first]) {
		first++
	}
	if len(values)-first < period {
		return nil, &InsufficientDataError{Indicator: "EMA", Need: first + period, Have: len(values)}
	}

	out := nanSeries(len(values))
	seed := 0.0
	for i := first; i < first+period; i++ {
		seed += values[i]
	}
	start := first + period - 1
	out[start] = seed / float64(period)

	k := 2.0 / float64(period+1)
	for i := start + 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// RSI relative strength index with Wilder smoothing
func RSI(close []float64, period int) ([]float64, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	if len(close) < period+1 {
		return nil, &InsufficientDataError{Indicator: "RSI", Need: period + 1, Have: len(close)}
	}

	out := nanSeries(len(close))
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := close[i] - close[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(close); i++ {
		change := close[i] - close[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the main line (fast EMA - slow EMA), its signal EMA and the
// histogram. At least slow+signal closes are required so that both the
// current and the previous bar carry a signal value.
func MACD(close []float64, fast, slow, signal int) (main, sig, hist []float64, err error) {
	for _, p := range []int{fast, slow, signal} {
		if err := checkPeriod("MACD", p); err != nil {
			return nil, nil, nil, err
		}
	}
	if fast >= slow {
		return nil, nil, nil, fmt.Errorf("MACD: fast period %d must be shorter than slow period %d", fast, slow)
	}
	if need := slow + signal; len(close) < need {
		return nil, nil, nil, &InsufficientDataError{Indicator: "MACD", Need: need, Have: len(close)}
	}

	fastEMA, err := EMA(close, fast)
	if err != nil {
		return nil, nil, nil, err
	}
	slowEMA, err := EMA(close, slow)
	if err != nil {
		return nil, nil, nil, err
	}

	main = nanSeries(len(close))
	for i := slow - 1; i < len(close); i++ {
		main[i] = fastEMA[i] - slowEMA[i]
	}
	sig, err = EMA(main, signal)
	if err != nil {
		return nil, nil, nil, err
	}
	hist = nanSeries(len(close))
	for i := range close {
		if !math.IsNaN(sig[i]) {
			hist[i] = main[i] - sig[i]
		}
	}
	return main, sig, hist, nil
}

// ATR average true range with Wilder smoothing
func ATR(high, low, close []float64, period int) ([]float64, error) {
	if err := checkPeriod("ATR", period); err != nil {
		return nil, err
	}
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	if len(close) < period+1 {
		return nil, &InsufficientDataError{Indicator: "ATR", Need: period + 1, Have: len(close)}
	}

	out := nanSeries(len(close))
	p := float64(period)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / p
	for i := period + 1; i < len(close); i++ {
		out[i] = (out[i-1]*(p-1) + tr[i]) / p
	}
	return out, nil
}

// ADX average directional index with Wilder smoothing. The first value is
// available at index 2*period-1.
func ADX(high, low, close []float64, period int) ([]float64, error) {
	if err := checkPeriod("ADX", period); err != nil {
		return nil, err
	}
	if err := checkHLC("ADX", high, low, close); err != nil {
		return nil, err
	}
	n := len(close)
	if n < 2*period {
		return nil, &InsufficientDataError{Indicator: "ADX", Need: 2 * period, Have: n}
	}

	tr, _ := TrueRange(high, low, close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	p := float64(period)
	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := nanSeries(n)
	dx[period] = directionalIndex(sTR, sPlus, sMinus)
	for i := period + 1; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		dx[i] = directionalIndex(sTR, sPlus, sMinus)
	}

	out := nanSeries(n)
	first := 2*period - 1
	sum := 0.0
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	out[first] = sum / p
	for i := first + 1; i < n; i++ {
		out[i] = (out[i-1]*(p-1) + dx[i]) / p
	}
	return out, nil
}

func directionalIndex(sTR, sPlus, sMinus float64) float64 {
	if sTR == 0 {
		return 0
	}
	plusDI := 100 * sPlus / sTR
	minusDI := 100 * sMinus / sTR
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// Bollinger returns upper, middle and lower bands using the population
// standard deviation over period closes.
func Bollinger(close []float64, period int, deviations float64) (upper, middle, lower []float64, err error) {
	middle, err = SMA(close, period)
	if err != nil {
		if ide, ok := err.(*InsufficientDataError); ok {
			ide.Indicator = "Bollinger"
		}
		return nil, nil, nil, err
	}
	upper = nanSeries(len(close))
	lower = nanSeries(len(close))
	for i := period - 1; i < len(close); i++ {
		variance := 0.0
		for _, v := range close[i-period+1 : i+1] {
			d := v - middle[i]
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + deviations*std
		lower[i] = middle[i] - deviations*std
	}
	return upper, middle, lower, nil
}
