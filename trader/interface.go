package trader

import (
	"gridbot/kernel"
	"gridbot/trader/types"
)

// Re-export gateway types so callers only import trader
type (
	Gateway              = types.Gateway
	Session              = types.Session
	Connector            = types.Connector
	SubmitPendingRequest = types.SubmitPendingRequest
	SubmitResult         = types.SubmitResult
	CancelRequest        = types.CancelRequest
	CancelOutcome        = types.CancelOutcome
	QueryRequest         = types.QueryRequest
	ProtectionRequest    = types.ProtectionRequest
	ProtectionCanceler   = types.ProtectionCanceler
	PendingOrder         = types.PendingOrder
	OpenPosition         = types.OpenPosition
	ConnectionError      = types.ConnectionError
	OrderRejected        = types.OrderRejected
)

// Compile-time interface checks
var (
	_ Session   = (*BinanceGateway)(nil)
	_ Session   = (*PaperGateway)(nil)
	_ Connector = (*BinanceConnector)(nil)
	_ Connector = (*PaperGateway)(nil)

	_ ProtectionCanceler = (*BinanceGateway)(nil)
	_ ProtectionCanceler = (*PaperGateway)(nil)
	_ Evaluator = (*kernel.SignalEvaluator)(nil)
)
