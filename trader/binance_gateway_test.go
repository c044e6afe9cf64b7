package trader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/suite"

	"gridbot/config"
	"gridbot/kernel"
	"gridbot/trader/types"
)

// ============================================================
// binanceMock - fake USDⓈ-M futures REST endpoints
// ============================================================

type binanceMock struct {
	mu sync.Mutex

	created       []url.Values
	cancelled     []url.Values
	algoCreated   []url.Values
	algoCancelled []url.Values

	rejectCode     int64 // non-zero: LIMIT entries answered with this error code
	cancelCode     int64 // non-zero: entry cancels answered with this error code
	algoCancelCode int64 // non-zero: algo cancels answered with this error code

	openOrders []map[string]interface{}
	positions  []map[string]interface{}
	balance    string
}

// params merges query and form body; DELETE bodies are not parsed by net/http
func params(r *http.Request) url.Values {
	values := r.URL.Query()
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	for k, v := range form {
		values[k] = v
	}
	return values
}

func writeAPIError(w http.ResponseWriter, code int64, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": msg})
}

func (m *binanceMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := r.URL.Path
	var respBody interface{}

	switch {
	case path == "/fapi/v1/ping":
		respBody = map[string]interface{}{}

	case path == "/fapi/v1/time":
		respBody = map[string]interface{}{"serverTime": time.Now().UnixMilli()}

	case path == "/fapi/v1/order" && r.Method == http.MethodPost:
		p := params(r)
		m.created = append(m.created, p)
		if m.rejectCode != 0 && p.Get("type") == string(futures.OrderTypeLimit) {
			writeAPIError(w, m.rejectCode, "Margin is insufficient.")
			return
		}
		respBody = map[string]interface{}{
			"orderId":       1000 + len(m.created),
			"clientOrderId": p.Get("newClientOrderId"),
			"symbol":        p.Get("symbol"),
			"status":        "NEW",
		}

	case path == "/fapi/v1/order" && r.Method == http.MethodDelete:
		p := params(r)
		m.cancelled = append(m.cancelled, p)
		if m.cancelCode != 0 && p.Get("orderId") != "" {
			writeAPIError(w, m.cancelCode, "Unknown order sent.")
			return
		}
		respBody = map[string]interface{}{"orderId": 1001, "status": "CANCELED"}

	case path == "/fapi/v1/algoOrder" && r.Method == http.MethodPost:
		p := params(r)
		m.algoCreated = append(m.algoCreated, p)
		respBody = map[string]interface{}{
			"algoId":       5000 + len(m.algoCreated),
			"clientAlgoId": p.Get("clientAlgoId"),
			"algoType":     p.Get("algoType"),
			"orderType":    p.Get("type"),
			"symbol":       p.Get("symbol"),
			"algoStatus":   "NEW",
		}

	case path == "/fapi/v1/algoOrder" && r.Method == http.MethodDelete:
		p := params(r)
		m.algoCancelled = append(m.algoCancelled, p)
		if m.algoCancelCode != 0 {
			writeAPIError(w, m.algoCancelCode, "Unknown order sent.")
			return
		}
		respBody = map[string]interface{}{
			"algoId":       5001,
			"clientAlgoId": p.Get("clientAlgoId"),
			"code":         "200",
			"msg":          "success",
		}

	case path == "/fapi/v1/openOrders":
		respBody = m.openOrders

	case strings.HasSuffix(path, "/positionRisk"):
		respBody = m.positions

	case strings.HasSuffix(path, "/account"):
		respBody = map[string]interface{}{
			"availableBalance": m.balance,
			"assets":           []interface{}{},
			"positions":        []interface{}{},
		}

	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(respBody)
}

// ============================================================
// BinanceGatewayTestSuite
// ============================================================

type BinanceGatewayTestSuite struct {
	suite.Suite

	ctx        context.Context
	mock       *binanceMock
	mockServer *httptest.Server
	gateway    *BinanceGateway
}

func (s *BinanceGatewayTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.mock = &binanceMock{balance: "1000.00"}
	s.mockServer = httptest.NewServer(s.mock)

	client := futures.NewClient("test_api_key", "test_secret_key")
	client.BaseURL = s.mockServer.URL
	client.HTTPClient = s.mockServer.Client()
	s.gateway = NewBinanceGateway(client, config.Default().Grid, 0)
}

func (s *BinanceGatewayTestSuite) TearDownTest() {
	s.mockServer.Close()
}

func TestBinanceGateway(t *testing.T) {
	suite.Run(t, new(BinanceGatewayTestSuite))
}

func buyRequest() *types.SubmitPendingRequest {
	return &types.SubmitPendingRequest{
		Symbol:     "ETHUSDT",
		Direction:  kernel.DirectionBuy,
		Price:      1800.004,
		Size:       0.0109,
		StopLoss:   1799.25,
		TakeProfit: 1801.25,
		ClientID:   "grid-buy-0-1f0c9a2e",
	}
}

func (s *BinanceGatewayTestSuite) TestSubmitPlacesEntryAndBrackets() {
	res, err := s.gateway.SubmitPending(s.ctx, buyRequest())
	s.Require().NoError(err)
	s.Equal("1001", res.OrderID)
	s.Equal("grid-buy-0-1f0c9a2e", res.ClientID)

	s.Require().Len(s.mock.created, 1, "only the entry goes through the order endpoint")
	entry := s.mock.created[0]
	s.Equal("LIMIT", entry.Get("type"))
	s.Equal("BUY", entry.Get("side"))
	s.Equal("GTC", entry.Get("timeInForce"))
	s.Equal("1800", entry.Get("price"))
	s.Equal("0.01", entry.Get("quantity"), "quantity is truncated to the lot precision")
	s.Equal("grid-buy-0-1f0c9a2e", entry.Get("newClientOrderId"))

	s.Require().Len(s.mock.algoCreated, 2)
	sl, tp := s.mock.algoCreated[0], s.mock.algoCreated[1]

	s.Equal("CONDITIONAL", sl.Get("algoType"))
	s.Equal("STOP_MARKET", sl.Get("type"))
	s.Equal("SELL", sl.Get("side"))
	s.Equal("1799.25", sl.Get("triggerPrice"))
	s.Equal("0.01", sl.Get("quantity"))
	s.Equal("true", sl.Get("reduceOnly"))
	s.Equal("grid-buy-0-1f0c9a2e-sl", sl.Get("clientAlgoId"))

	s.Equal("TAKE_PROFIT_MARKET", tp.Get("type"))
	s.Equal("SELL", tp.Get("side"))
	s.Equal("1801.25", tp.Get("triggerPrice"))
	s.Equal("true", tp.Get("reduceOnly"))
	s.Equal("grid-buy-0-1f0c9a2e-tp", tp.Get("clientAlgoId"))
}

func (s *BinanceGatewayTestSuite) TestSubmitSellMirrorsSides() {
	_, err := s.gateway.SubmitPending(s.ctx, &types.SubmitPendingRequest{
		Symbol: "ETHUSDT", Direction: kernel.DirectionSell, Price: 1805, Size: 0.01,
		StopLoss: 1805.75, TakeProfit: 1803.75, ClientID: "grid-sell-0-1f0c9a2e",
	})
	s.Require().NoError(err)
	s.Require().Len(s.mock.created, 1)
	s.Require().Len(s.mock.algoCreated, 2)
	s.Equal("SELL", s.mock.created[0].Get("side"))
	s.Equal("BUY", s.mock.algoCreated[0].Get("side"))
	s.Equal("BUY", s.mock.algoCreated[1].Get("side"))
}

func (s *BinanceGatewayTestSuite) TestSubmitVenueRejection() {
	s.mock.rejectCode = -2019

	res, err := s.gateway.SubmitPending(s.ctx, buyRequest())
	s.Nil(res)
	s.Require().Error(err)
	s.True(types.IsOrderRejected(err))
	s.False(types.IsConnectionError(err))

	var rejected *types.OrderRejected
	s.Require().ErrorAs(err, &rejected)
	s.Equal(int64(-2019), rejected.Code)
	s.Len(s.mock.created, 1)
	s.Empty(s.mock.algoCreated, "no brackets for a rejected entry")
}

func (s *BinanceGatewayTestSuite) TestSubmitInvalidRequestNeverReachesVenue() {
	req := buyRequest()
	req.StopLoss = 1802

	_, err := s.gateway.SubmitPending(s.ctx, req)
	s.True(types.IsOrderRejected(err))
	s.Empty(s.mock.created)
	s.Empty(s.mock.algoCreated)
}

func (s *BinanceGatewayTestSuite) TestCancelRemovesBrackets() {
	outcome, err := s.gateway.Cancel(s.ctx, &types.CancelRequest{Symbol: "ETHUSDT", OrderID: "1001", ClientID: "grid-buy-0-1f0c9a2e"})
	s.Require().NoError(err)
	s.Equal(types.CancelSucceeded, outcome)

	s.Require().Len(s.mock.cancelled, 1)
	s.Equal("1001", s.mock.cancelled[0].Get("orderId"))
	s.Require().Len(s.mock.algoCancelled, 2)
	s.Equal("grid-buy-0-1f0c9a2e-sl", s.mock.algoCancelled[0].Get("clientAlgoId"))
	s.Equal("grid-buy-0-1f0c9a2e-tp", s.mock.algoCancelled[1].Get("clientAlgoId"))
}

func (s *BinanceGatewayTestSuite) TestCancelProtection() {
	tests := []struct {
		name       string
		code       int64
		wantReject bool
	}{
		{"both legs resting", 0, false},
		{"legs already gone", -2011, false},
		{"venue refuses", -1021, true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.mock.algoCancelled = nil
			s.mock.algoCancelCode = tt.code

			err := s.gateway.CancelProtection(s.ctx, &types.ProtectionRequest{Symbol: "ETHUSDT", ClientID: "grid-buy-2-1f0c9a2e"})
			if tt.wantReject {
				s.True(types.IsOrderRejected(err))
			} else {
				s.NoError(err)
			}
			s.Require().Len(s.mock.algoCancelled, 2, "both legs are attempted")
			s.Equal("grid-buy-2-1f0c9a2e-sl", s.mock.algoCancelled[0].Get("clientAlgoId"))
			s.Equal("grid-buy-2-1f0c9a2e-tp", s.mock.algoCancelled[1].Get("clientAlgoId"))
			s.Empty(s.mock.cancelled, "the entry endpoint is not touched")
		})
	}

	err := s.gateway.CancelProtection(s.ctx, &types.ProtectionRequest{Symbol: "ETHUSDT"})
	s.True(types.IsOrderRejected(err))

	s.mockServer.Close()
	err = s.gateway.CancelProtection(s.ctx, &types.ProtectionRequest{Symbol: "ETHUSDT", ClientID: "grid-buy-2-1f0c9a2e"})
	s.True(types.IsConnectionError(err))
}

func (s *BinanceGatewayTestSuite) TestCancelOutcomes() {
	tests := []struct {
		name       string
		code       int64
		want       types.CancelOutcome
		wantReject bool
	}{
		{"unknown order", -2011, types.CancelAlreadyGone, false},
		{"no such order", -2013, types.CancelAlreadyGone, false},
		{"timestamp outside recvWindow", -1021, "", true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.mock.cancelled = nil
			s.mock.cancelCode = tt.code

			outcome, err := s.gateway.Cancel(s.ctx, &types.CancelRequest{Symbol: "ETHUSDT", OrderID: "1001", ClientID: "grid-buy-0-1f0c9a2e"})
			s.Equal(tt.want, outcome)
			if tt.wantReject {
				s.True(types.IsOrderRejected(err))
			} else {
				s.NoError(err)
			}
			s.Len(s.mock.cancelled, 1)
			s.Empty(s.mock.algoCancelled, "brackets stay when the entry was not canceled")
		})
	}
}

func (s *BinanceGatewayTestSuite) TestCancelRejectsMalformedID() {
	_, err := s.gateway.Cancel(s.ctx, &types.CancelRequest{Symbol: "ETHUSDT", OrderID: "paper-1"})
	s.True(types.IsOrderRejected(err))
	s.Empty(s.mock.cancelled)
}

func (s *BinanceGatewayTestSuite) TestListPendingOrdersSkipsBrackets() {
	s.mock.openOrders = []map[string]interface{}{
		{"orderId": 11, "clientOrderId": "grid-buy-0-aa", "symbol": "ETHUSDT", "side": "BUY", "type": "LIMIT", "price": "1800.00", "origQty": "0.010", "reduceOnly": false},
		{"orderId": 12, "clientOrderId": "grid-buy-0-aa-sl", "symbol": "ETHUSDT", "side": "SELL", "type": "STOP_MARKET", "stopPrice": "1799.25", "origQty": "0.010", "reduceOnly": true},
		{"orderId": 13, "clientOrderId": "exit", "symbol": "ETHUSDT", "side": "SELL", "type": "LIMIT", "price": "1900.00", "origQty": "0.010", "reduceOnly": true},
		{"orderId": 14, "clientOrderId": "grid-sell-1-bb", "symbol": "ETHUSDT", "side": "SELL", "type": "LIMIT", "price": "1806.00", "origQty": "0.020", "reduceOnly": false},
	}

	orders, err := s.gateway.ListPendingOrders(s.ctx, &types.QueryRequest{Symbol: "ETHUSDT"})
	s.Require().NoError(err)
	s.Require().Len(orders, 2)
	s.Equal(types.PendingOrder{ID: "11", ClientID: "grid-buy-0-aa", Direction: kernel.DirectionBuy, Price: 1800, Size: 0.01}, orders[0])
	s.Equal(types.PendingOrder{ID: "14", ClientID: "grid-sell-1-bb", Direction: kernel.DirectionSell, Price: 1806, Size: 0.02}, orders[1])
}

func (s *BinanceGatewayTestSuite) TestEmptyBookIsNotNil() {
	s.mock.openOrders = []map[string]interface{}{}
	orders, err := s.gateway.ListPendingOrders(s.ctx, &types.QueryRequest{Symbol: "ETHUSDT"})
	s.Require().NoError(err)
	s.NotNil(orders)
	s.Empty(orders)
}

func (s *BinanceGatewayTestSuite) TestListOpenPositions() {
	s.mock.positions = []map[string]interface{}{
		{"symbol": "ETHUSDT", "positionAmt": "0.020", "entryPrice": "1799.5", "positionSide": "BOTH"},
		{"symbol": "ETHUSDT", "positionAmt": "-0.010", "entryPrice": "1806", "positionSide": "BOTH"},
		{"symbol": "ETHUSDT", "positionAmt": "0", "entryPrice": "0", "positionSide": "BOTH"},
	}

	positions, err := s.gateway.ListOpenPositions(s.ctx, &types.QueryRequest{Symbol: "ETHUSDT"})
	s.Require().NoError(err)
	s.Require().Len(positions, 2)
	s.Equal(types.OpenPosition{ID: "ETHUSDT:LONG", Direction: kernel.DirectionBuy, EntryPrice: 1799.5, Size: 0.02}, positions[0])
	s.Equal(types.OpenPosition{ID: "ETHUSDT:SHORT", Direction: kernel.DirectionSell, EntryPrice: 1806, Size: 0.01}, positions[1])
}

func (s *BinanceGatewayTestSuite) TestAccountBalance() {
	s.mock.balance = "1234.5"
	balance, err := s.gateway.AccountBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal(1234.5, balance)

	s.mock.balance = "n/a"
	_, err = s.gateway.AccountBalance(s.ctx)
	s.True(types.IsConnectionError(err))
}

func (s *BinanceGatewayTestSuite) TestUnreachableVenue() {
	s.mockServer.Close()

	_, err := s.gateway.SubmitPending(s.ctx, buyRequest())
	s.True(types.IsConnectionError(err))

	_, err = s.gateway.ListPendingOrders(s.ctx, &types.QueryRequest{Symbol: "ETHUSDT"})
	s.True(types.IsConnectionError(err))

	_, err = s.gateway.Cancel(s.ctx, &types.CancelRequest{Symbol: "ETHUSDT", OrderID: "1001"})
	s.True(types.IsConnectionError(err))
}

func (s *BinanceGatewayTestSuite) TestClosedSession() {
	s.Require().NoError(s.gateway.Close())

	_, err := s.gateway.AccountBalance(s.ctx)
	s.True(types.IsConnectionError(err))
	_, err = s.gateway.SubmitPending(s.ctx, buyRequest())
	s.True(types.IsConnectionError(err))
	s.Empty(s.mock.created)
}

func (s *BinanceGatewayTestSuite) TestConnectorConnect() {
	connector := NewBinanceConnector(config.GatewayConfig{Kind: "binance", APIKey: "k", SecretKey: "s"}, config.Default().Grid)
	connector.BaseURL = s.mockServer.URL
	connector.HTTPClient = s.mockServer.Client()

	session, err := connector.Connect(s.ctx)
	s.Require().NoError(err)
	defer session.Close()

	balance, err := session.AccountBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal(1000.0, balance)

	s.mockServer.Close()
	_, err = connector.Connect(s.ctx)
	s.True(types.IsConnectionError(err))
}
