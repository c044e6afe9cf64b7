package market

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
)

// PriceSource fetches a trailing window of bars, most recent last.
// Implementations must return ErrSourceUnavailable (wrapped) when the venue
// cannot be reached and ErrEmptyHistory when it answers with nothing.
type PriceSource interface {
	FetchHistory(ctx context.Context, symbol, timeframe string, barCount int) ([]PriceBar, error)
}

// maxKlineLimit is the largest page the futures klines endpoint serves
const maxKlineLimit = 1500

// BinanceSource reads USDT-M futures klines
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource wraps an existing futures client so the gateway and the
// source share one HTTP session
func NewBinanceSource(client *futures.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

// FetchHistory implements PriceSource
func (s *BinanceSource) FetchHistory(ctx context.Context, symbol, timeframe string, barCount int) ([]PriceBar, error) {
	if barCount <= 0 || barCount > maxKlineLimit {
		return nil, errors.Errorf("bar count %d outside 1..%d", barCount, maxKlineLimit)
	}

	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(barCount).
		Do(ctx)
	if err != nil {
		if common.IsAPIError(err) {
			return nil, errors.Wrapf(err, "klines %s %s rejected", symbol, timeframe)
		}
		return nil, errors.Wrapf(ErrSourceUnavailable, "klines %s %s: %v", symbol, timeframe, err)
	}
	if len(klines) == 0 {
		return nil, ErrEmptyHistory
	}

	bars := make([]PriceBar, 0, len(klines))
	for _, k := range klines {
		bar, err := klineToBar(k)
		if err != nil {
			return nil, errors.Wrapf(err, "parse kline %d", k.OpenTime)
		}
		bars = append(bars, bar)
	}
	if err := ValidateHistory(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func klineToBar(k *futures.Kline) (PriceBar, error) {
	var (
		bar PriceBar
		err error
	)
	bar.Timestamp = time.UnixMilli(k.OpenTime)
	if bar.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return bar, err
	}
	if bar.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return bar, err
	}
	if bar.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return bar, err
	}
	if bar.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return bar, err
	}
	if bar.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return bar, err
	}
	return bar, nil
}
