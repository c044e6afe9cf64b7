package types

import (
	"context"
	"fmt"
	"math"

	"gridbot/kernel"
)

// CancelOutcome result of a cancel request
type CancelOutcome string

const (
	// CancelSucceeded the venue removed the order
	CancelSucceeded CancelOutcome = "succeeded"
	// CancelAlreadyGone the order was filled, canceled or expired before the request
	CancelAlreadyGone CancelOutcome = "already_gone"
)

// SubmitPendingRequest places one pending limit order with its protective
// stop-loss and take-profit.
type SubmitPendingRequest struct {
	Symbol     string           `json:"symbol"`
	Direction  kernel.Direction `json:"direction"`
	Price      float64          `json:"price"`
	Size       float64          `json:"size"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
	ClientID   string           `json:"client_id"` // Client order ID for tracking
}

// Validate checks the request before it is dispatched
func (r *SubmitPendingRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("submit: symbol is required")
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("submit: invalid direction %q", r.Direction)
	}
	if !positive(r.Price) || !positive(r.Size) {
		return fmt.Errorf("submit: price %v and size %v must be positive", r.Price, r.Size)
	}
	if !positive(r.StopLoss) || !positive(r.TakeProfit) {
		return fmt.Errorf("submit: stop loss %v and take profit %v must be positive", r.StopLoss, r.TakeProfit)
	}
	switch r.Direction {
	case kernel.DirectionBuy:
		if r.StopLoss >= r.Price || r.TakeProfit <= r.Price {
			return fmt.Errorf("submit: buy at %v needs stop loss below and take profit above, got sl=%v tp=%v",
				r.Price, r.StopLoss, r.TakeProfit)
		}
	case kernel.DirectionSell:
		if r.StopLoss <= r.Price || r.TakeProfit >= r.Price {
			return fmt.Errorf("submit: sell at %v needs stop loss above and take profit below, got sl=%v tp=%v",
				r.Price, r.StopLoss, r.TakeProfit)
		}
	}
	return nil
}

// SubmitResult identifies an accepted pending order
type SubmitResult struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
}

// CancelRequest cancels one pending order
type CancelRequest struct {
	Symbol   string `json:"symbol"`
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id,omitempty"`
}

// Validate checks the request before it is dispatched
func (r *CancelRequest) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("cancel: order id is required")
	}
	return nil
}

// ProtectionRequest identifies the stop-loss and take-profit of one rung by
// the client ID of its entry
type ProtectionRequest struct {
	Symbol   string `json:"symbol"`
	ClientID string `json:"client_id"`
}

// Validate checks the request before it is dispatched
func (r *ProtectionRequest) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("cancel protection: client id is required")
	}
	return nil
}

// QueryRequest scopes pending order and position queries
type QueryRequest struct {
	Symbol string `json:"symbol"`
}

// Validate checks the request before it is dispatched
func (r *QueryRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("query: symbol is required")
	}
	return nil
}

// PendingOrder represents a pending order on the venue
type PendingOrder struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"client_id"`
	Direction kernel.Direction `json:"direction"`
	Price     float64          `json:"price"`
	Size      float64          `json:"size"`
}

// OpenPosition represents an open position on the venue. SourceOrderID is
// set when the venue can attribute the position to the order that opened it.
type OpenPosition struct {
	ID            string           `json:"id"`
	Direction     kernel.Direction `json:"direction"`
	EntryPrice    float64          `json:"entry_price"`
	Size          float64          `json:"size"`
	SourceOrderID string           `json:"source_order_id,omitempty"`
}

// Gateway is the broker contract used by the grid manager
type Gateway interface {
	// SubmitPending places a pending limit order with SL/TP
	SubmitPending(ctx context.Context, req *SubmitPendingRequest) (*SubmitResult, error)

	// Cancel removes a pending order; an order that no longer exists is
	// reported as CancelAlreadyGone, not as an error
	Cancel(ctx context.Context, req *CancelRequest) (CancelOutcome, error)

	// ListPendingOrders returns the pending orders for a symbol
	ListPendingOrders(ctx context.Context, req *QueryRequest) ([]PendingOrder, error)

	// ListOpenPositions returns the open positions for a symbol
	ListOpenPositions(ctx context.Context, req *QueryRequest) ([]OpenPosition, error)

	// AccountBalance returns the capital available for new orders
	AccountBalance(ctx context.Context) (float64, error)
}

// ProtectionCanceler is implemented by gateways whose stop-loss and
// take-profit rest as separate orders. A protection order that is already
// gone is not an error.
type ProtectionCanceler interface {
	CancelProtection(ctx context.Context, req *ProtectionRequest) error
}

// Session is a connected gateway. Close must be called on every exit path.
type Session interface {
	Gateway
	Close() error
}

// Connector acquires a session
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
