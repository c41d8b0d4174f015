package funds

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"trading_agent/internal/core"
	"trading_agent/internal/mock"
	"trading_agent/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, balance string) *Scheduler {
	t.Helper()
	ex := mock.NewExchange()
	ex.BalanceFn = func(ctx context.Context) (core.Account, error) {
		b, _ := decimal.NewFromString(balance)
		return core.Account{TotalEquity: b, AvailableBalance: b}, nil
	}

	s := NewScheduler(ex, logging.GetGlobalLogger())
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	return s
}

func TestAllocateAndRelease(t *testing.T) {
	s := newScheduler(t, "1000")

	res := s.Allocate("BTC", decimal.NewFromInt(200), false)
	assert.True(t, res.Sufficient)
	assert.True(t, res.Allocated.Equal(decimal.NewFromInt(200)))
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(800)))

	s.Release("BTC")
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(1000)))
}

func TestAllocateStrictRejection(t *testing.T) {
	s := newScheduler(t, "100")

	res := s.Allocate("BTC", decimal.NewFromInt(200), false)
	assert.False(t, res.Sufficient)
	assert.True(t, res.Allocated.IsZero())
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(100)))
}

func TestAllocatePartial(t *testing.T) {
	s := newScheduler(t, "100")

	res := s.Allocate("BTC", decimal.NewFromInt(200), true)
	assert.True(t, res.Sufficient)
	assert.True(t, res.Allocated.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.GetAvailable().IsZero())
}

func TestAllocateDuplicateRejected(t *testing.T) {
	s := newScheduler(t, "1000")

	first := s.Allocate("BTC", decimal.NewFromInt(100), false)
	require.True(t, first.Sufficient)

	second := s.Allocate("BTC", decimal.NewFromInt(50), false)
	assert.False(t, second.Sufficient)
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(900)))
}

func TestConfirmRefundsDifference(t *testing.T) {
	s := newScheduler(t, "1000")

	s.Allocate("BTC", decimal.NewFromInt(300), false)
	s.Confirm("BTC", decimal.NewFromInt(250))

	// 50 refunded, 250 spent
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(750)))

	stats := s.GetStats()
	assert.True(t, stats.TotalConfirmed.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 0, stats.ActiveAllocations)
}

func TestReleaseUnknownSymbolNoOp(t *testing.T) {
	s := newScheduler(t, "1000")
	s.Release("DOGE")
	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(1000)))
}

func TestRefreshClearsState(t *testing.T) {
	s := newScheduler(t, "1000")
	s.Allocate("BTC", decimal.NewFromInt(400), false)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	stats := s.GetStats()
	assert.True(t, stats.Available.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 0, stats.ActiveAllocations)
	assert.True(t, stats.TotalConfirmed.IsZero())
}

// Fund conservation: available + outstanding allocations always equals
// lastRefreshed minus confirmed spend, under concurrent interleavings.
func TestFundConservationUnderConcurrency(t *testing.T) {
	s := newScheduler(t, "10000")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("COIN%d", i)
			res := s.Allocate(symbol, decimal.NewFromInt(100), false)
			if !res.Sufficient {
				return
			}
			switch i % 3 {
			case 0:
				s.Release(symbol)
			case 1:
				s.Confirm(symbol, decimal.NewFromInt(80))
			case 2:
				s.Confirm(symbol, decimal.NewFromInt(100))
			}
		}(i)
	}
	wg.Wait()

	stats := s.GetStats()
	// No allocation left outstanding, so available == refreshed - confirmed
	assert.Equal(t, 0, stats.ActiveAllocations)
	assert.True(t, stats.Available.Equal(stats.LastRefreshed.Sub(stats.TotalConfirmed)),
		"available %s, refreshed %s, confirmed %s",
		stats.Available, stats.LastRefreshed, stats.TotalConfirmed)
}

func TestFullReleaseRestoresBudget(t *testing.T) {
	s := newScheduler(t, "500")

	for _, sym := range []string{"BTC", "ETH", "SOL"} {
		res := s.Allocate(sym, decimal.NewFromInt(150), false)
		require.True(t, res.Sufficient)
	}
	for _, sym := range []string{"BTC", "ETH", "SOL"} {
		s.Release(sym)
	}

	assert.True(t, s.GetAvailable().Equal(decimal.NewFromInt(500)))
}
