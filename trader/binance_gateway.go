package trader

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gridbot/config"
	"gridbot/kernel"
	"gridbot/logger"
	"gridbot/trader/types"
)

// Binance error codes that mean the order is no longer on the book
const (
	codeCancelRejected int64 = -2011 // Unknown order sent
	codeNoSuchOrder    int64 = -2013
)

const (
	suffixStopLoss   = "-sl"
	suffixTakeProfit = "-tp"
)

// BinanceConnector opens sessions against Binance USDⓈ-M futures
type BinanceConnector struct {
	gateway config.GatewayConfig
	grid    config.GridConfig

	// BaseURL and HTTPClient override the client endpoints when set
	BaseURL    string
	HTTPClient *http.Client
}

// NewBinanceConnector creates a connector from the gateway configuration
func NewBinanceConnector(gateway config.GatewayConfig, grid config.GridConfig) *BinanceConnector {
	return &BinanceConnector{gateway: gateway, grid: grid}
}

// Connect pings the venue and syncs the server time before handing out a session
func (c *BinanceConnector) Connect(ctx context.Context) (types.Session, error) {
	futures.UseTestnet = c.gateway.Testnet
	client := futures.NewClient(c.gateway.APIKey, c.gateway.SecretKey)
	if c.BaseURL != "" {
		client.BaseURL = c.BaseURL
	}
	if c.HTTPClient != nil {
		client.HTTPClient = c.HTTPClient
	}

	if err := client.NewPingService().Do(ctx); err != nil {
		return nil, &types.ConnectionError{Op: "connect", Err: errors.Wrap(err, "ping")}
	}
	if _, err := client.NewSetServerTimeService().Do(ctx); err != nil {
		return nil, &types.ConnectionError{Op: "connect", Err: errors.Wrap(err, "sync server time")}
	}

	logger.Infof("[Binance] ✅ session connected (testnet=%v)", c.gateway.Testnet)
	return NewBinanceGateway(client, c.grid, c.gateway.RequestsPerS), nil
}

// BinanceGateway implements types.Session on a go-binance futures client.
// Each grid rung is a GTC LIMIT entry with reduce-only STOP_MARKET and
// TAKE_PROFIT_MARKET algo orders whose client algo IDs derive from the entry.
type BinanceGateway struct {
	client         *futures.Client
	limiter        *rate.Limiter
	pricePrecision int32
	qtyPrecision   int32

	mu     sync.Mutex
	closed bool
}

// NewBinanceGateway wraps an existing client. requestsPerSecond <= 0 disables throttling.
func NewBinanceGateway(client *futures.Client, grid config.GridConfig, requestsPerSecond float64) *BinanceGateway {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	burst := int(math.Max(1, requestsPerSecond))
	return &BinanceGateway{
		client:         client,
		limiter:        rate.NewLimiter(limit, burst),
		pricePrecision: grid.PricePrecision,
		qtyPrecision:   grid.QtyPrecision,
	}
}

// Close implements types.Session
func (g *BinanceGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		logger.Infof("[Binance] session closed")
	}
	return nil
}

// wait blocks until the limiter admits one request
func (g *BinanceGateway) wait(ctx context.Context, op string) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return &types.ConnectionError{Op: op, Err: errSessionClosed}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return &types.ConnectionError{Op: op, Err: err}
	}
	return nil
}

// SubmitPending implements types.Gateway
func (g *BinanceGateway) SubmitPending(ctx context.Context, req *types.SubmitPendingRequest) (*types.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &types.OrderRejected{Op: "submit", Reason: err.Error()}
	}
	if err := g.wait(ctx, "submit"); err != nil {
		return nil, err
	}

	entrySide, exitSide := futures.SideTypeBuy, futures.SideTypeSell
	if req.Direction == kernel.DirectionSell {
		entrySide, exitSide = futures.SideTypeSell, futures.SideTypeBuy
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(entrySide).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(g.formatPrice(req.Price)).
		Quantity(g.formatQty(req.Size)).
		NewClientOrderID(req.ClientID).
		Do(ctx)
	if err != nil {
		return nil, orderError("submit", err)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	g.placeBracket(ctx, req, exitSide, futures.AlgoOrderTypeStopMarket, req.StopLoss, suffixStopLoss)
	g.placeBracket(ctx, req, exitSide, futures.AlgoOrderTypeTakeProfitMarket, req.TakeProfit, suffixTakeProfit)

	return &types.SubmitResult{OrderID: orderID, ClientID: req.ClientID}, nil
}

// placeBracket places a protective reduce-only conditional order through the
// algo order endpoint; failures are logged only
func (g *BinanceGateway) placeBracket(ctx context.Context, req *types.SubmitPendingRequest, side futures.SideType,
	orderType futures.AlgoOrderType, triggerPrice float64, suffix string) {
	if err := g.wait(ctx, "bracket"); err != nil {
		logger.Warnf("[Binance] ⚠️ %s bracket for %s skipped: %v", orderType, req.ClientID, err)
		return
	}
	_, err := g.client.NewCreateAlgoOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(orderType).
		TriggerPrice(g.formatPrice(triggerPrice)).
		Quantity(g.formatQty(req.Size)).
		ReduceOnly(true).
		ClientAlgoId(req.ClientID + suffix).
		Do(ctx)
	if err != nil {
		logger.Warnf("[Binance] ⚠️ failed to place %s at %.2f for %s: %v", orderType, triggerPrice, req.ClientID, err)
	}
}

// Cancel implements types.Gateway. Brackets are only removed together with
// an entry that was still resting; a filled entry keeps its protection.
func (g *BinanceGateway) Cancel(ctx context.Context, req *types.CancelRequest) (types.CancelOutcome, error) {
	if err := req.Validate(); err != nil {
		return "", &types.OrderRejected{Op: "cancel", Reason: err.Error()}
	}
	id, err := strconv.ParseInt(req.OrderID, 10, 64)
	if err != nil {
		return "", &types.OrderRejected{Op: "cancel", Reason: fmt.Sprintf("invalid order id %q", req.OrderID)}
	}
	if err := g.wait(ctx, "cancel"); err != nil {
		return "", err
	}

	_, err = g.client.NewCancelOrderService().Symbol(req.Symbol).OrderID(id).Do(ctx)
	if err != nil {
		if isOrderGone(err) {
			return types.CancelAlreadyGone, nil
		}
		return "", orderError("cancel", err)
	}

	if req.ClientID != "" {
		if err := g.CancelProtection(ctx, &types.ProtectionRequest{Symbol: req.Symbol, ClientID: req.ClientID}); err != nil {
			logger.Warnf("[Binance] ⚠️ brackets of %s not fully canceled: %v", req.ClientID, err)
		}
	}
	return types.CancelSucceeded, nil
}

// CancelProtection implements types.ProtectionCanceler. The stop-loss and
// take-profit of a rung are independent algo orders, so once one of them
// closed the position the other keeps resting until removed here.
func (g *BinanceGateway) CancelProtection(ctx context.Context, req *types.ProtectionRequest) error {
	if err := req.Validate(); err != nil {
		return &types.OrderRejected{Op: "cancel_bracket", Reason: err.Error()}
	}
	var firstErr error
	for _, suffix := range []string{suffixStopLoss, suffixTakeProfit} {
		if err := g.cancelBracket(ctx, req.ClientID+suffix); err != nil {
			if types.IsConnectionError(err) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (g *BinanceGateway) cancelBracket(ctx context.Context, clientAlgoID string) error {
	if err := g.wait(ctx, "cancel_bracket"); err != nil {
		return err
	}
	_, err := g.client.NewCancelAlgoOrderService().ClientAlgoID(clientAlgoID).Do(ctx)
	if err != nil && !isOrderGone(err) {
		return orderError("cancel_bracket", errors.Wrapf(err, "bracket %s", clientAlgoID))
	}
	return nil
}

// ListPendingOrders implements types.Gateway. Only resting LIMIT entries are
// reported; reduce-only orders are skipped.
func (g *BinanceGateway) ListPendingOrders(ctx context.Context, req *types.QueryRequest) ([]types.PendingOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := g.wait(ctx, "list_pending"); err != nil {
		return nil, err
	}

	orders, err := g.client.NewListOpenOrdersService().Symbol(req.Symbol).Do(ctx)
	if err != nil {
		return nil, queryError("list_pending", err)
	}

	out := make([]types.PendingOrder, 0, len(orders))
	for _, o := range orders {
		if o.Type != futures.OrderTypeLimit || o.ReduceOnly {
			continue
		}
		direction := kernel.DirectionBuy
		if o.Side == futures.SideTypeSell {
			direction = kernel.DirectionSell
		}
		out = append(out, types.PendingOrder{
			ID:        strconv.FormatInt(o.OrderID, 10),
			ClientID:  o.ClientOrderID,
			Direction: direction,
			Price:     parseFloat(o.Price),
			Size:      parseFloat(o.OrigQuantity),
		})
	}
	return out, nil
}

// ListOpenPositions implements types.Gateway. Binance aggregates fills per
// side, so positions cannot be attributed to a source order.
func (g *BinanceGateway) ListOpenPositions(ctx context.Context, req *types.QueryRequest) ([]types.OpenPosition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := g.wait(ctx, "list_positions"); err != nil {
		return nil, err
	}

	risks, err := g.client.NewGetPositionRiskService().Symbol(req.Symbol).Do(ctx)
	if err != nil {
		return nil, queryError("list_positions", err)
	}

	out := make([]types.OpenPosition, 0, len(risks))
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		direction, side := kernel.DirectionBuy, "LONG"
		if amt < 0 {
			direction, side = kernel.DirectionSell, "SHORT"
		}
		out = append(out, types.OpenPosition{
			ID:         r.Symbol + ":" + side,
			Direction:  direction,
			EntryPrice: parseFloat(r.EntryPrice),
			Size:       math.Abs(amt),
		})
	}
	return out, nil
}

// AccountBalance implements types.Gateway
func (g *BinanceGateway) AccountBalance(ctx context.Context) (float64, error) {
	if err := g.wait(ctx, "balance"); err != nil {
		return 0, err
	}
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, queryError("balance", err)
	}
	balance, err := strconv.ParseFloat(account.AvailableBalance, 64)
	if err != nil {
		return 0, &types.ConnectionError{Op: "balance", Err: errors.Wrapf(err, "malformed availableBalance %q", account.AvailableBalance)}
	}
	return balance, nil
}

func (g *BinanceGateway) formatPrice(v float64) string {
	return decimal.NewFromFloat(v).Round(g.pricePrecision).String()
}

func (g *BinanceGateway) formatQty(v float64) string {
	return decimal.NewFromFloat(v).Truncate(g.qtyPrecision).String()
}

// orderError maps a submit/cancel failure: a venue answer is a rejection,
// anything else means the venue was not reached
func orderError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &types.OrderRejected{Op: op, Code: apiErr.Code, Reason: apiErr.Message}
	}
	return &types.ConnectionError{Op: op, Err: err}
}

// queryError maps a query failure. Queries carry no order payload, so a
// venue error there means the session itself is broken.
func queryError(op string, err error) error {
	return &types.ConnectionError{Op: op, Err: errors.Wrap(err, "binance")}
}

func isOrderGone(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeCancelRejected || apiErr.Code == codeNoSuchOrder
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
