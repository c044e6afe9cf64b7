package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gridbot/logger"
	"gridbot/trader/types"
)

var errSessionClosed = errors.New("session closed")

type paperOrder struct {
	seq int64
	types.PendingOrder
}

// PaperGateway is an in-memory venue for dry runs and tests. Orders rest
// until Fill or Expire is called; nothing fills on its own. The SL/TP of
// each entry is tracked by client ID and, as on a real venue, outlives a
// closed position until canceled.
type PaperGateway struct {
	mu          sync.Mutex
	balance     float64
	seq         int64
	orders      map[string]*paperOrder
	positions   map[string]types.OpenPosition
	protections map[string]bool // entry client ID -> SL/TP resting
	closed      bool
}

// NewPaperGateway creates a paper venue with a fixed balance
func NewPaperGateway(balance float64) *PaperGateway {
	return &PaperGateway{
		balance:   balance,
		orders:      make(map[string]*paperOrder),
		positions:   make(map[string]types.OpenPosition),
		protections: make(map[string]bool),
	}
}

// Connect implements types.Connector
func (p *PaperGateway) Connect(ctx context.Context) (types.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
	logger.Infof("[Paper] 📝 paper session opened, balance=%.2f", p.balance)
	return p, nil
}

// Close implements types.Session
func (p *PaperGateway) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *PaperGateway) checkOpen(op string) error {
	if p.closed {
		return &types.ConnectionError{Op: op, Err: errSessionClosed}
	}
	return nil
}

// SubmitPending implements types.Gateway
func (p *PaperGateway) SubmitPending(ctx context.Context, req *types.SubmitPendingRequest) (*types.SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("submit"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, &types.OrderRejected{Op: "submit", Reason: err.Error()}
	}

	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)
	p.orders[id] = &paperOrder{
		seq: p.seq,
		PendingOrder: types.PendingOrder{
			ID:        id,
			ClientID:  req.ClientID,
			Direction: req.Direction,
			Price:     req.Price,
			Size:      req.Size,
		},
	}
	if req.ClientID != "" {
		p.protections[req.ClientID] = true
	}
	return &types.SubmitResult{OrderID: id, ClientID: req.ClientID}, nil
}

// Cancel implements types.Gateway
func (p *PaperGateway) Cancel(ctx context.Context, req *types.CancelRequest) (types.CancelOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("cancel"); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", &types.OrderRejected{Op: "cancel", Reason: err.Error()}
	}
	o, ok := p.orders[req.OrderID]
	if !ok {
		return types.CancelAlreadyGone, nil
	}
	delete(p.orders, req.OrderID)
	delete(p.protections, o.ClientID)
	return types.CancelSucceeded, nil
}

// CancelProtection implements types.ProtectionCanceler
func (p *PaperGateway) CancelProtection(ctx context.Context, req *types.ProtectionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("cancel_bracket"); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return &types.OrderRejected{Op: "cancel_bracket", Reason: err.Error()}
	}
	delete(p.protections, req.ClientID)
	return nil
}

// ListPendingOrders implements types.Gateway
func (p *PaperGateway) ListPendingOrders(ctx context.Context, req *types.QueryRequest) ([]types.PendingOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("list_pending"); err != nil {
		return nil, err
	}

	sorted := make([]*paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		sorted = append(sorted, o)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })

	out := make([]types.PendingOrder, 0, len(sorted))
	for _, o := range sorted {
		out = append(out, o.PendingOrder)
	}
	return out, nil
}

// ListOpenPositions implements types.Gateway
func (p *PaperGateway) ListOpenPositions(ctx context.Context, req *types.QueryRequest) ([]types.OpenPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("list_positions"); err != nil {
		return nil, err
	}

	out := make([]types.OpenPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AccountBalance implements types.Gateway
func (p *PaperGateway) AccountBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("balance"); err != nil {
		return 0, err
	}
	return p.balance, nil
}

// Fill turns a pending order into a position with the same ID
func (p *PaperGateway) Fill(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s is not pending", orderID)
	}
	delete(p.orders, orderID)
	p.positions[orderID] = types.OpenPosition{
		ID:            orderID,
		Direction:     o.Direction,
		EntryPrice:    o.Price,
		Size:          o.Size,
		SourceOrderID: orderID,
	}
	return nil
}

// Expire removes a pending order without a fill
func (p *PaperGateway) Expire(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s is not pending", orderID)
	}
	delete(p.orders, orderID)
	delete(p.protections, o.ClientID)
	return nil
}

// ClosePosition removes a position, as a triggered stop-loss or take-profit
// would. The sibling protection order keeps resting.
func (p *PaperGateway) ClosePosition(positionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.positions[positionID]; !ok {
		return fmt.Errorf("paper position %s is not open", positionID)
	}
	delete(p.positions, positionID)
	return nil
}

// PendingCount number of resting orders
func (p *PaperGateway) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// HasProtection reports whether the SL/TP of an entry are still resting
func (p *PaperGateway) HasProtection(clientID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protections[clientID]
}
