package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	"trading_agent/internal/funds"
	"trading_agent/internal/market"
	"trading_agent/internal/mock"
	"trading_agent/internal/reflection"
	"trading_agent/internal/store"
	"trading_agent/internal/trading"
	"trading_agent/internal/trading/order"
	"trading_agent/pkg/concurrency"
	apperrors "trading_agent/pkg/errors"
	"trading_agent/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFilterTradableKeepsAffordable(t *testing.T) {
	symbols := []core.Symbol{core.NewSymbol("BTC"), core.NewSymbol("DOGE")}
	prices := map[string]decimal.Decimal{
		"BTC-USDT-SWAP":  d("100000"),
		"DOGE-USDT-SWAP": d("0.1"),
	}

	tradable, skipped := FilterTradable(symbols, d("1000"), prices)

	require.Len(t, tradable, 1)
	assert.Equal(t, "DOGE", tradable[0].Coin)
	require.Len(t, skipped, 1)
	assert.Equal(t, "BTC", skipped[0].Coin)
}

// BTC at 100k needs 100000/5*1.15 = 23000 of cash; with 5 available the
// shortage reported is about 22995.
func TestFilterTradableShortageNumbers(t *testing.T) {
	symbols := []core.Symbol{core.NewSymbol("BTC")}
	prices := map[string]decimal.Decimal{"BTC-USDT-SWAP": d("100000")}

	tradable, skipped := FilterTradable(symbols, d("5"), prices)

	assert.Empty(t, tradable)
	require.Len(t, skipped, 1)
	assert.True(t, skipped[0].Needed.Equal(d("23000")), "needed %s", skipped[0].Needed)
	assert.True(t, skipped[0].Shortage.Equal(d("22995")), "shortage %s", skipped[0].Shortage)
}

func TestFilterTradableExactBoundaryPasses(t *testing.T) {
	symbols := []core.Symbol{core.NewSymbol("BTC")}
	prices := map[string]decimal.Decimal{"BTC-USDT-SWAP": d("100000")}

	tradable, skipped := FilterTradable(symbols, d("23000"), prices)
	assert.Len(t, tradable, 1)
	assert.Empty(t, skipped)
}

func TestFilterTradableMissingPriceSkips(t *testing.T) {
	symbols := []core.Symbol{core.NewSymbol("BTC")}

	tradable, skipped := FilterTradable(symbols, d("100000"), map[string]decimal.Decimal{})
	assert.Empty(t, tradable)
	require.Len(t, skipped, 1)
	assert.Equal(t, "BTC", skipped[0].Coin)
}

// slowOracle answers HOLD after a fixed delay, without holding any lock,
// so concurrent calls overlap.
type slowOracle struct {
	delay time.Duration
	calls atomic.Int64
}

func (o *slowOracle) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	o.calls.Add(1)
	time.Sleep(o.delay)
	return `{"action":"HOLD","confidence":50,"reasoning":"wait"}`, nil
}

func newTestScheduler(t *testing.T, oracle core.IOracle, coins []string) *DecisionScheduler {
	t.Helper()

	ex := mock.NewExchange()
	ex.BalanceFn = func(ctx context.Context) (core.Account, error) {
		bal := decimal.NewFromInt(10000)
		return core.Account{TotalEquity: bal, AvailableBalance: bal}, nil
	}
	ex.TickersFn = func(ctx context.Context, instIDs []string) (map[string]decimal.Decimal, error) {
		prices := make(map[string]decimal.Decimal, len(instIDs))
		for _, id := range instIDs {
			prices[id] = d("100")
		}
		return prices, nil
	}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logging.GetGlobalLogger()
	fundSched := funds.NewScheduler(ex, logger)
	registry := market.NewRegistry(ex, logger)
	submitter := order.NewSubmitter(ex, logger)
	reflector := reflection.NewReflector(st, logger)
	pipeline := trading.NewPipeline(registry, fundSched, oracle, submitter, reflector, st, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 8}, logger)
	t.Cleanup(pool.Stop)

	cfg := config.SchedulerConfig{IntervalMs: 300_000, InitialDelayMs: 3_600_000, AutoExecute: false, Enabled: true}
	return NewDecisionScheduler(ex, fundSched, pipeline, st, pool, cfg, coins, logger)
}

// Three symbols at 200ms of oracle latency each should finish in roughly one
// latency, not three.
func TestRunCycleParallelFanout(t *testing.T) {
	oracle := &slowOracle{delay: 200 * time.Millisecond}
	s := newTestScheduler(t, oracle, []string{"BTC", "ETH", "SOL"})

	stats := s.runCycle(context.Background())

	assert.Equal(t, 3, stats.Symbols)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, int64(3), oracle.calls.Load())
	assert.Less(t, stats.WallTime, 500*time.Millisecond,
		"wall time %s suggests serial execution", stats.WallTime)
	assert.Greater(t, stats.Speedup, 1.5)
}

func TestRunSecondInstanceRejected(t *testing.T) {
	s := newTestScheduler(t, &slowOracle{}, []string{"BTC"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the first Run to take the guard
	require.Eventually(t, s.running.Load, time.Second, 5*time.Millisecond)

	err := s.Run(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSchedulerRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
