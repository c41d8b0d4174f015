// Package mock provides in-memory fakes for tests
package mock

import (
	"context"
	"sync"
	"trading_agent/internal/core"

	"github.com/shopspring/decimal"
)

// Exchange implements core.IExchange with overridable function fields.
// Unset fields return zero values, so tests only stub what they exercise.
type Exchange struct {
	mu sync.Mutex

	InstrumentsFn      func(ctx context.Context) ([]core.Instrument, error)
	TickersFn          func(ctx context.Context, instIDs []string) (map[string]decimal.Decimal, error)
	BalanceFn          func(ctx context.Context) (core.Account, error)
	PositionsFn        func(ctx context.Context) ([]core.Position, error)
	SetLeverageFn      func(ctx context.Context, instID string, leverage int, marginMode, posSide string) error
	SubmitOrderFn      func(ctx context.Context, req core.OrderRequest) (core.OrderAck, error)
	SubmitAlgoFn       func(ctx context.Context, req core.AlgoOrderRequest) error
	PositionsHistoryFn func(ctx context.Context, limit int) ([]core.ClosedPnL, error)

	// Captured calls for assertions
	Orders     []core.OrderRequest
	AlgoOrders []core.AlgoOrderRequest
	Leverages  []string
}

func NewExchange() *Exchange {
	return &Exchange{}
}

func (m *Exchange) GetInstruments(ctx context.Context) ([]core.Instrument, error) {
	if m.InstrumentsFn != nil {
		return m.InstrumentsFn(ctx)
	}
	return nil, nil
}

func (m *Exchange) GetTickers(ctx context.Context, instIDs []string) (map[string]decimal.Decimal, error) {
	if m.TickersFn != nil {
		return m.TickersFn(ctx, instIDs)
	}
	return map[string]decimal.Decimal{}, nil
}

func (m *Exchange) GetBalance(ctx context.Context) (core.Account, error) {
	if m.BalanceFn != nil {
		return m.BalanceFn(ctx)
	}
	return core.Account{}, nil
}

func (m *Exchange) GetPositions(ctx context.Context) ([]core.Position, error) {
	if m.PositionsFn != nil {
		return m.PositionsFn(ctx)
	}
	return nil, nil
}

func (m *Exchange) SetLeverage(ctx context.Context, instID string, leverage int, marginMode, posSide string) error {
	m.mu.Lock()
	m.Leverages = append(m.Leverages, instID)
	m.mu.Unlock()
	if m.SetLeverageFn != nil {
		return m.SetLeverageFn(ctx, instID, leverage, marginMode, posSide)
	}
	return nil
}

func (m *Exchange) SubmitOrder(ctx context.Context, req core.OrderRequest) (core.OrderAck, error) {
	m.mu.Lock()
	m.Orders = append(m.Orders, req)
	m.mu.Unlock()
	if m.SubmitOrderFn != nil {
		return m.SubmitOrderFn(ctx, req)
	}
	return core.OrderAck{OrderID: "mock-order"}, nil
}

func (m *Exchange) SubmitAlgo(ctx context.Context, req core.AlgoOrderRequest) error {
	m.mu.Lock()
	m.AlgoOrders = append(m.AlgoOrders, req)
	m.mu.Unlock()
	if m.SubmitAlgoFn != nil {
		return m.SubmitAlgoFn(ctx, req)
	}
	return nil
}

func (m *Exchange) GetPositionsHistory(ctx context.Context, limit int) ([]core.ClosedPnL, error) {
	if m.PositionsHistoryFn != nil {
		return m.PositionsHistoryFn(ctx, limit)
	}
	return nil, nil
}

// Oracle implements core.IOracle with a fixed script of replies
type Oracle struct {
	mu      sync.Mutex
	Replies []string
	Errs    []error
	Calls   int
}

func (o *Oracle) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := o.Calls
	o.Calls++
	var reply string
	if idx < len(o.Replies) {
		reply = o.Replies[idx]
	}
	var err error
	if idx < len(o.Errs) {
		err = o.Errs[idx]
	}
	return reply, err
}
