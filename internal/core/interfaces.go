package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the perpetual-swap exchange contract consumed by the agent
type IExchange interface {
	// GetInstruments fetches the full SWAP instrument table
	GetInstruments(ctx context.Context) ([]Instrument, error)

	// GetTickers returns last traded prices for the given instrument ids
	GetTickers(ctx context.Context, instIDs []string) (map[string]decimal.Decimal, error)

	// GetBalance returns the quote-currency account snapshot
	GetBalance(ctx context.Context) (Account, error)

	// GetPositions lists all open SWAP positions
	GetPositions(ctx context.Context) ([]Position, error)

	// SetLeverage configures account leverage for an instrument. Idempotent;
	// callers treat errors as non-fatal.
	SetLeverage(ctx context.Context, instID string, leverage int, marginMode string, posSide string) error

	// SubmitOrder places a trade order and returns the confirmation
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// SubmitAlgo places a conditional TP/SL order
	SubmitAlgo(ctx context.Context, req AlgoOrderRequest) error

	// GetPositionsHistory returns recently closed positions, newest first
	GetPositionsHistory(ctx context.Context, limit int) ([]ClosedPnL, error)
}

// IOracle is the LLM chat-completions contract
type IOracle interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
