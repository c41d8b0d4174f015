// Package core defines the domain types and interfaces shared across the agent
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a perpetual-swap position
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other direction
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Decision actions
const (
	ActionOpenLong   = "OPEN_LONG"
	ActionOpenShort  = "OPEN_SHORT"
	ActionCloseLong  = "CLOSE_LONG"
	ActionCloseShort = "CLOSE_SHORT"
	ActionHold       = "HOLD"
)

// Decision statuses as persisted in the decisions table
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Margin modes
const (
	MarginModeCross    = "cross"
	MarginModeIsolated = "isolated"
)

// Symbol pairs a short coin name with its exchange instrument id
type Symbol struct {
	Coin   string // e.g. BTC
	InstID string // e.g. BTC-USDT-SWAP
}

// NewSymbol builds a Symbol for a USDT-margined perpetual swap
func NewSymbol(coin string) Symbol {
	return Symbol{Coin: coin, InstID: coin + "-USDT-SWAP"}
}

// Instrument holds the contract metadata cached by the instrument registry
type Instrument struct {
	InstID        string
	ContractValue decimal.Decimal // base asset per contract lot
	LotSize       decimal.Decimal // minimum contract increment
	MinSize       decimal.Decimal // minimum order size in contracts
	TickSize      decimal.Decimal
}

// Position is one (instrument, side) entry from the exchange
type Position struct {
	InstID           string
	Side             PositionSide
	Contracts        decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	Leverage         int
	MarginMode       string
	UnrealizedPnl    decimal.Decimal
	NotionalValue    decimal.Decimal
	LiquidationPrice decimal.Decimal
}

// Account is the quote-currency account snapshot
type Account struct {
	TotalEquity      decimal.Decimal
	AvailableBalance decimal.Decimal
}

// Decision is a single parsed oracle decision for one symbol.
// Numeric fields stay float64 at this boundary; sizing converts to decimal.
type Decision struct {
	Symbol              string  `json:"symbol"`
	Action              string  `json:"action"`
	Confidence          float64 `json:"confidence"`
	EntryPrice          float64 `json:"entry_price,omitempty"`
	PositionSizePercent float64 `json:"position_size_percent,omitempty"`
	TakeProfit          float64 `json:"take_profit,omitempty"`
	StopLoss            float64 `json:"stop_loss,omitempty"`
	Leverage            int     `json:"leverage,omitempty"`
	Reasoning           string  `json:"reasoning"`
	Timeframe           string  `json:"timeframe,omitempty"`
}

// IsOpen reports whether the decision opens a position
func (d Decision) IsOpen() bool {
	return d.Action == ActionOpenLong || d.Action == ActionOpenShort
}

// IsClose reports whether the decision closes a position
func (d Decision) IsClose() bool {
	return d.Action == ActionCloseLong || d.Action == ActionCloseShort
}

// Side maps the action to the position direction it refers to
func (d Decision) Side() PositionSide {
	switch d.Action {
	case ActionOpenLong, ActionCloseLong:
		return SideLong
	case ActionOpenShort, ActionCloseShort:
		return SideShort
	}
	return ""
}

// OrderRequest is the wire shape of a trade order submission
type OrderRequest struct {
	InstID     string
	TdMode     string
	Side       string // buy / sell
	OrdType    string // market / limit
	Size       string
	TgtCcy     string // quote_ccy for quote-denominated market orders
	PosSide    string
	ReduceOnly bool
}

// AlgoOrderRequest is a conditional TP or SL order submission
type AlgoOrderRequest struct {
	InstID      string
	TdMode      string
	Side        string
	PosSide     string
	Size        string
	TpTriggerPx string
	TpOrdPx     string
	SlTriggerPx string
	SlOrdPx     string
}

// OrderAck is the exchange confirmation for a submitted order
type OrderAck struct {
	OrderID       string
	ClientOrderID string
}

// ClosedPnL is one record from the exchange closed-position history
type ClosedPnL struct {
	InstID      string
	Side        PositionSide
	RealizedPnl decimal.Decimal
	OpenAvgPx   decimal.Decimal
	CloseAvgPx  decimal.Decimal
	CloseTime   time.Time
}

// CycleContext carries the per-tick counters of the decision scheduler
type CycleContext struct {
	InvocationCount  int64
	TradingStartTime int64 // ms epoch, captured at scheduler boot
	AvailableCash    decimal.Decimal
}

// TradingMinutes returns whole minutes elapsed since the scheduler booted
func (c CycleContext) TradingMinutes(now time.Time) int64 {
	if c.TradingStartTime <= 0 {
		return 0
	}
	return (now.UnixMilli() - c.TradingStartTime) / 60_000
}

// Snapshot is the read-only market view copied into each per-symbol task
type Snapshot struct {
	Prices    map[string]decimal.Decimal // instId -> last price
	Positions []Position
	Account   Account
}

// PriceOf looks up the last price for an instrument, second result false on miss
func (s Snapshot) PriceOf(instID string) (decimal.Decimal, bool) {
	p, ok := s.Prices[instID]
	return p, ok
}
