package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	"trading_agent/internal/mock"
	"trading_agent/internal/reflection"
	"trading_agent/internal/store"
	"trading_agent/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReflectionTickReconcilesOrphan(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.UpsertReflection(ctx, store.ReflectionRow{
		DecisionID: "D1",
		Symbol:     "BTC",
		Action:     "OPEN_LONG",
		EntryPrice: 100000,
		SizeUSDT:   200,
		EntryTs:    now.Add(-time.Hour).UnixMilli(),
	}))

	ex := mock.NewExchange()
	ex.PositionsHistoryFn = func(ctx context.Context, limit int) ([]core.ClosedPnL, error) {
		return []core.ClosedPnL{{
			InstID:      "BTC-USDT-SWAP",
			Side:        core.SideLong,
			RealizedPnl: decimal.NewFromInt(15),
			OpenAvgPx:   decimal.NewFromInt(100000),
			CloseAvgPx:  decimal.NewFromInt(103000),
			CloseTime:   now.Add(-10 * time.Minute),
		}}, nil
	}

	logger := logging.GetGlobalLogger()
	reflector := reflection.NewReflector(st, logger)
	s := NewReflectionScheduler(ex, reflector, config.ReflectionConfig{IntervalMs: 300_000, InitialDelayMs: 60_000, Enabled: true}, logger)

	s.tick(ctx)

	got, err := st.GetReflection(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.OutcomeProfit, got.Outcome)
	assert.Equal(t, 15.0, got.PnlAmount)
}

func TestReflectionTickSkipsOnExchangeError(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertReflection(ctx, store.ReflectionRow{
		DecisionID: "D1", Symbol: "BTC", Action: "OPEN_LONG",
		EntryTs: time.Now().Add(-time.Hour).UnixMilli(),
	}))

	ex := mock.NewExchange()
	ex.PositionsFn = func(ctx context.Context) ([]core.Position, error) {
		return nil, errors.New("50001: system busy")
	}

	logger := logging.GetGlobalLogger()
	s := NewReflectionScheduler(ex, reflection.NewReflector(st, logger), config.ReflectionConfig{IntervalMs: 300_000, InitialDelayMs: 60_000, Enabled: true}, logger)

	s.tick(ctx)

	got, err := st.GetReflection(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, store.OutcomePending, got.Outcome)
}
