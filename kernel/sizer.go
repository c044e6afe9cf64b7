package kernel

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/config"
)

// PlanInput is everything the sizer needs for one ladder
type PlanInput struct {
	Direction        Direction
	BasePrice        float64
	ATR              float64
	AvailableCapital float64
	MaxRungs         int
	RungStep         float64
	LotSize          float64
}

// GridSizer turns a signal into a ladder of rungs
type GridSizer struct {
	costBuffer     decimal.Decimal
	slMultiplier   decimal.Decimal
	tpMultiplier   decimal.Decimal
	pricePrecision int32
	qtyPrecision   int32
}

// NewGridSizer builds a sizer from the grid configuration
func NewGridSizer(cfg config.GridConfig) *GridSizer {
	buffer := cfg.CostBuffer
	if buffer < 1 {
		buffer = 1
	}
	return &GridSizer{
		costBuffer:     decimal.NewFromFloat(buffer),
		slMultiplier:   decimal.NewFromFloat(cfg.SLMultiplier),
		tpMultiplier:   decimal.NewFromFloat(cfg.TPMultiplier),
		pricePrecision: cfg.PricePrecision,
		qtyPrecision:   cfg.QtyPrecision,
	}
}

// MaxAffordable returns floor(capital / (price * lot * costBuffer))
func (s *GridSizer) MaxAffordable(capital, price, lot float64) int {
	if capital <= 0 || price <= 0 || lot <= 0 {
		return 0
	}
	cost := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(lot)).Mul(s.costBuffer)
	return int(decimal.NewFromFloat(capital).Div(cost).Floor().IntPart())
}

// Plan builds the ladder for in. A zero rung count yields an empty plan and
// no error; callers submit nothing in that case.
func (s *GridSizer) Plan(in PlanInput) (*GridPlan, error) {
	if !in.Direction.Valid() {
		return nil, fmt.Errorf("grid plan needs buy or sell, got %q", in.Direction)
	}
	if in.BasePrice <= 0 {
		return nil, fmt.Errorf("grid plan base price must be positive, got %v", in.BasePrice)
	}
	if in.LotSize <= 0 {
		return nil, fmt.Errorf("grid plan lot size must be positive, got %v", in.LotSize)
	}
	if in.RungStep < 0 {
		return nil, fmt.Errorf("grid plan rung step must not be negative, got %v", in.RungStep)
	}
	if in.MaxRungs < 0 {
		return nil, fmt.Errorf("grid plan max rungs must not be negative, got %d", in.MaxRungs)
	}

	count := s.MaxAffordable(in.AvailableCapital, in.BasePrice, in.LotSize)
	if count > in.MaxRungs {
		count = in.MaxRungs
	}

	plan := &GridPlan{
		Direction: in.Direction,
		BasePrice: in.BasePrice,
		ATR:       in.ATR,
		RungCount: count,
		Rungs:     make([]Rung, 0, count),
	}

	base := decimal.NewFromFloat(in.BasePrice)
	step := decimal.NewFromFloat(in.RungStep)
	atr := decimal.NewFromFloat(in.ATR)
	slDist := s.slMultiplier.Mul(atr)
	tpDist := s.tpMultiplier.Mul(atr)
	size := decimal.NewFromFloat(in.LotSize).Round(s.qtyPrecision)

	for i := 0; i < count; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		var price, sl, tp decimal.Decimal
		if in.Direction == DirectionBuy {
			price = base.Sub(offset)
			sl = price.Sub(slDist)
			tp = price.Add(tpDist)
		} else {
			price = base.Add(offset)
			sl = price.Add(slDist)
			tp = price.Sub(tpDist)
		}
		plan.Rungs = append(plan.Rungs, Rung{
			Index:      i,
			Price:      price.Round(s.pricePrecision).InexactFloat64(),
			StopLoss:   sl.Round(s.pricePrecision).InexactFloat64(),
			TakeProfit: tp.Round(s.pricePrecision).InexactFloat64(),
			Size:       size.InexactFloat64(),
		})
	}
	return plan, nil
}
