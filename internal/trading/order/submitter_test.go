package order

import (
	"context"
	"errors"
	"testing"
	"trading_agent/internal/core"
	"trading_agent/internal/mock"
	apperrors "trading_agent/pkg/errors"
	"trading_agent/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcInstrument() core.Instrument {
	return core.Instrument{
		InstID:        "BTC-USDT-SWAP",
		ContractValue: decimal.NewFromFloat(0.01),
		LotSize:       decimal.NewFromFloat(0.01),
	}
}

func TestOpenByQuote(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	ack, err := s.OpenByQuote(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromInt(200), 5, core.MarginModeCross)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.OrderID)

	require.Len(t, ex.Orders, 1)
	req := ex.Orders[0]
	assert.Equal(t, "BTC-USDT-SWAP", req.InstID)
	assert.Equal(t, "buy", req.Side)
	assert.Equal(t, "market", req.OrdType)
	assert.Equal(t, "200", req.Size)
	assert.Equal(t, "quote_ccy", req.TgtCcy)
	assert.Equal(t, "long", req.PosSide)
	assert.False(t, req.ReduceOnly)

	// Leverage configured before the order
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, ex.Leverages)
}

func TestOpenByQuoteShortSells(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	_, err := s.OpenByQuote(context.Background(), btcInstrument(), core.SideShort,
		decimal.NewFromInt(100), 3, core.MarginModeCross)
	require.NoError(t, err)
	assert.Equal(t, "sell", ex.Orders[0].Side)
	assert.Equal(t, "short", ex.Orders[0].PosSide)
}

func TestOpenByQuoteLeverageErrorNonFatal(t *testing.T) {
	ex := mock.NewExchange()
	ex.SetLeverageFn = func(ctx context.Context, instID string, leverage int, marginMode, posSide string) error {
		return errors.New("59000: leverage already set")
	}
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	_, err := s.OpenByQuote(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromInt(200), 5, core.MarginModeCross)
	assert.NoError(t, err)
	assert.Len(t, ex.Orders, 1)
}

func TestCloseByContractsFloorsToLot(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	_, err := s.CloseByContracts(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromFloat(0.057), core.MarginModeCross)
	require.NoError(t, err)

	require.Len(t, ex.Orders, 1)
	req := ex.Orders[0]
	assert.Equal(t, "0.05", req.Size)
	assert.Equal(t, "sell", req.Side)
	assert.True(t, req.ReduceOnly)
}

func TestCloseByContractsTooSmall(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	_, err := s.CloseByContracts(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromFloat(0.004), core.MarginModeCross)
	assert.ErrorIs(t, err, apperrors.ErrTooSmallToClose)
	assert.Empty(t, ex.Orders)
}

func TestPlaceProtectionBothLegs(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	s.PlaceProtection(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromFloat(0.01), 103000, 98000, core.MarginModeCross)

	require.Len(t, ex.AlgoOrders, 2)

	tp := ex.AlgoOrders[0]
	assert.Equal(t, "103000", tp.TpTriggerPx)
	assert.Equal(t, "-1", tp.TpOrdPx)
	assert.Equal(t, "sell", tp.Side)
	assert.Equal(t, "long", tp.PosSide)
	assert.Equal(t, "0.01", tp.Size)

	sl := ex.AlgoOrders[1]
	assert.Equal(t, "98000", sl.SlTriggerPx)
	assert.Equal(t, "-1", sl.SlOrdPx)
}

func TestPlaceProtectionSingleLeg(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	s.PlaceProtection(context.Background(), btcInstrument(), core.SideShort,
		decimal.NewFromFloat(0.02), 0, 105000, core.MarginModeCross)

	require.Len(t, ex.AlgoOrders, 1)
	assert.Equal(t, "105000", ex.AlgoOrders[0].SlTriggerPx)
	assert.Equal(t, "buy", ex.AlgoOrders[0].Side)
}

func TestPlaceProtectionZeroSizeSkipped(t *testing.T) {
	ex := mock.NewExchange()
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	s.PlaceProtection(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromFloat(0.003), 103000, 98000, core.MarginModeCross)
	assert.Empty(t, ex.AlgoOrders)
}

func TestPlaceProtectionLegFailureDoesNotPanic(t *testing.T) {
	ex := mock.NewExchange()
	ex.SubmitAlgoFn = func(ctx context.Context, req core.AlgoOrderRequest) error {
		return errors.New("51000: parameter error")
	}
	s := NewSubmitter(ex, logging.GetGlobalLogger())

	s.PlaceProtection(context.Background(), btcInstrument(), core.SideLong,
		decimal.NewFromFloat(0.01), 103000, 98000, core.MarginModeCross)
	assert.Len(t, ex.AlgoOrders, 2)
}
