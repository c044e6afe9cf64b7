package kernel

import "time"

// Direction is the side a grid is laid on
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionNone Direction = "none"
)

// Opposite returns the other trading side, none stays none
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionNone
	}
}

// Valid reports whether d is a tradable side
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Regime market regime classified by ADX
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
)

// TradeSignal is the outcome of one evaluation pass
type TradeSignal struct {
	Direction Direction `json:"direction"`
	Regime    Regime    `json:"regime"`
}

// BollingerBands trailing band values, trace only
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// IndicatorSnapshot holds the trailing indicator values of one window.
// It is recomputed every pass and never persisted as state.
type IndicatorSnapshot struct {
	ADX float64 `json:"adx"`

	MACDMain     float64 `json:"macd_main"`
	MACDSignal   float64 `json:"macd_signal"`
	MACDHist     float64 `json:"macd_hist"`
	PrevMACDMain float64 `json:"prev_macd_main"`
	PrevMACDSig  float64 `json:"prev_macd_signal"`
	PrevMACDHist float64 `json:"prev_macd_hist"`

	RSI []float64 `json:"rsi"` // last values, most recent last

	RawATR     float64 `json:"raw_atr"`
	DynamicATR float64 `json:"dynamic_atr"`

	Bollinger *BollingerBands `json:"bollinger,omitempty"`

	LastClose float64   `json:"last_close"`
	BarTime   time.Time `json:"bar_time"`
}

// LatestRSI returns the most recent RSI value
func (s *IndicatorSnapshot) LatestRSI() float64 {
	if len(s.RSI) == 0 {
		return 50
	}
	return s.RSI[len(s.RSI)-1]
}

// Rung is one price level of a grid ladder
type Rung struct {
	Index      int     `json:"index"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Size       float64 `json:"size"`
}

// GridPlan is the ladder produced by the sizer for one direction
type GridPlan struct {
	Direction Direction `json:"direction"`
	BasePrice float64   `json:"base_price"`
	ATR       float64   `json:"atr"`
	RungCount int       `json:"rung_count"`
	Rungs     []Rung    `json:"rungs"`
}

// Empty reports whether the plan has nothing to submit
func (p *GridPlan) Empty() bool {
	return p == nil || len(p.Rungs) == 0
}
