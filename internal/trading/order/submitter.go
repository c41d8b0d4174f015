// Package order places market orders and their protective algo orders
package order

import (
	"context"
	"fmt"
	"trading_agent/internal/core"
	apperrors "trading_agent/pkg/errors"
	"trading_agent/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Submitter wraps the exchange order endpoints with a local rate limit
type Submitter struct {
	exchange core.IExchange
	limiter  *rate.Limiter
	logger   core.ILogger
}

func NewSubmitter(exchange core.IExchange, logger core.ILogger) *Submitter {
	return &Submitter{
		exchange: exchange,
		// OKX caps trade endpoints well above this; 5 rps leaves headroom
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  logger.WithField("component", "order"),
	}
}

// OpenByQuote places a quote-denominated market order. Leverage is set
// first; a leverage error is logged and ignored since it usually means the
// account is already configured.
func (s *Submitter) OpenByQuote(ctx context.Context, inst core.Instrument, side core.PositionSide, quoteAmount decimal.Decimal, leverage int, marginMode string) (core.OrderAck, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.OrderAck{}, err
	}

	if err := s.exchange.SetLeverage(ctx, inst.InstID, leverage, marginMode, string(side)); err != nil {
		s.logger.Warn("set leverage failed, assuming already configured",
			"instId", inst.InstID, "leverage", leverage, "error", err)
	}

	req := core.OrderRequest{
		InstID:  inst.InstID,
		TdMode:  marginMode,
		Side:    orderSide(side, true),
		OrdType: "market",
		Size:    quoteAmount.String(),
		TgtCcy:  "quote_ccy",
		PosSide: string(side),
	}

	ack, err := s.exchange.SubmitOrder(ctx, req)
	if err != nil {
		return core.OrderAck{}, err
	}

	s.countOrder(ctx)
	s.logger.Info("open order placed",
		"instId", inst.InstID, "side", req.Side, "quote", quoteAmount.String(), "orderId", ack.OrderID)
	return ack, nil
}

// CloseByContracts places a reduce-only market order sized in contracts.
// The count is floored to the instrument lot size; a count that rounds to
// zero returns ErrTooSmallToClose.
func (s *Submitter) CloseByContracts(ctx context.Context, inst core.Instrument, side core.PositionSide, contracts decimal.Decimal, marginMode string) (core.OrderAck, error) {
	rounded := floorToLot(contracts, inst.LotSize)
	if rounded.LessThan(inst.LotSize) || !rounded.IsPositive() {
		return core.OrderAck{}, fmt.Errorf("%w: %s contracts %s below lot size %s, close manually",
			apperrors.ErrTooSmallToClose, inst.InstID, contracts.String(), inst.LotSize.String())
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return core.OrderAck{}, err
	}

	req := core.OrderRequest{
		InstID:     inst.InstID,
		TdMode:     marginMode,
		Side:       orderSide(side, false),
		OrdType:    "market",
		Size:       rounded.String(),
		PosSide:    string(side),
		ReduceOnly: true,
	}

	ack, err := s.exchange.SubmitOrder(ctx, req)
	if err != nil {
		return core.OrderAck{}, err
	}

	s.countOrder(ctx)
	s.logger.Info("close order placed",
		"instId", inst.InstID, "side", req.Side, "contracts", rounded.String(), "orderId", ack.OrderID)
	return ack, nil
}

// PlaceProtection submits one conditional algo order per protective leg
// after a filled open. A leg whose size rounds to zero is skipped with a
// warning; the open stays in force.
func (s *Submitter) PlaceProtection(ctx context.Context, inst core.Instrument, side core.PositionSide, contracts decimal.Decimal, takeProfit, stopLoss float64, marginMode string) {
	size := floorToLot(contracts, inst.LotSize)
	if !size.IsPositive() {
		s.logger.Warn("protection size rounds to zero, skipping TP/SL",
			"instId", inst.InstID, "contracts", contracts.String())
		return
	}

	closeSide := orderSide(side, false)

	if takeProfit > 0 {
		s.placeAlgoLeg(ctx, core.AlgoOrderRequest{
			InstID:      inst.InstID,
			TdMode:      marginMode,
			Side:        closeSide,
			PosSide:     string(side),
			Size:        size.String(),
			TpTriggerPx: decimal.NewFromFloat(takeProfit).String(),
			TpOrdPx:     "-1",
		}, "take-profit")
	}

	if stopLoss > 0 {
		s.placeAlgoLeg(ctx, core.AlgoOrderRequest{
			InstID:      inst.InstID,
			TdMode:      marginMode,
			Side:        closeSide,
			PosSide:     string(side),
			Size:        size.String(),
			SlTriggerPx: decimal.NewFromFloat(stopLoss).String(),
			SlOrdPx:     "-1",
		}, "stop-loss")
	}
}

func (s *Submitter) placeAlgoLeg(ctx context.Context, req core.AlgoOrderRequest, leg string) {
	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("protection leg aborted", "instId", req.InstID, "leg", leg, "error", err)
		return
	}
	if err := s.exchange.SubmitAlgo(ctx, req); err != nil {
		s.logger.Warn("protection leg rejected", "instId", req.InstID, "leg", leg, "error", err)
		return
	}
	s.logger.Info("protection leg placed", "instId", req.InstID, "leg", leg, "size", req.Size)
}

func (s *Submitter) countOrder(ctx context.Context) {
	if m := telemetry.GetGlobalMetrics(); m.OrdersTotal != nil {
		m.OrdersTotal.Add(ctx, 1)
	}
}

// orderSide maps a position direction to the buy/sell side of an order
func orderSide(side core.PositionSide, opening bool) string {
	if (side == core.SideLong) == opening {
		return "buy"
	}
	return "sell"
}

func floorToLot(contracts, lotSize decimal.Decimal) decimal.Decimal {
	if !lotSize.IsPositive() {
		return contracts
	}
	return contracts.Div(lotSize).Floor().Mul(lotSize)
}
