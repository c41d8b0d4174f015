// Package funds owns the in-memory budget of available quote currency
package funds

import (
	"context"
	"sync"
	"time"
	"trading_agent/internal/core"
	"trading_agent/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Allocation is one outstanding reservation, uniquely keyed by symbol
type Allocation struct {
	Symbol    string
	Requested decimal.Decimal
	Allocated decimal.Decimal
	CreatedAt time.Time
}

// Result is the outcome of an Allocate call
type Result struct {
	Allocated  decimal.Decimal
	Available  decimal.Decimal
	Sufficient bool
}

// Stats is an observation snapshot of the scheduler state
type Stats struct {
	Available         decimal.Decimal
	LastRefreshed     decimal.Decimal
	ActiveAllocations int
	TotalAllocations  int64
	TotalConfirmed    decimal.Decimal
}

// Scheduler serializes every budget mutation behind a single mutex. The
// critical section never performs network or store calls.
type Scheduler struct {
	exchange core.IExchange
	logger   core.ILogger
	now      func() time.Time

	mu             sync.Mutex
	available      decimal.Decimal
	lastRefreshed  decimal.Decimal
	allocations    map[string]*Allocation
	totalAllocs    int64
	totalConfirmed decimal.Decimal
}

// NewScheduler creates a fund scheduler with a zero budget
func NewScheduler(exchange core.IExchange, logger core.ILogger) *Scheduler {
	return &Scheduler{
		exchange:    exchange,
		logger:      logger.WithField("component", "fund_scheduler"),
		now:         time.Now,
		allocations: make(map[string]*Allocation),
	}
}

// Refresh overwrites the available budget from the exchange balance.
// Called at the start of every decision cycle.
func (s *Scheduler) Refresh(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.exchange.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	s.available = account.AvailableBalance
	s.lastRefreshed = account.AvailableBalance
	s.totalConfirmed = decimal.Zero
	s.allocations = make(map[string]*Allocation)
	available := s.available
	s.mu.Unlock()

	telemetry.GetGlobalMetrics().SetAvailableFunds(available.InexactFloat64())
	s.logger.Debug("Fund budget refreshed", "available", available.String())
	return available, nil
}

// Allocate reserves amount for symbol. In strict mode (allowPartial=false)
// the request is rejected outright when the budget cannot cover it; partial
// mode grants whatever remains.
func (s *Scheduler) Allocate(symbol string, amount decimal.Decimal, allowPartial bool) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.allocations[symbol]; exists {
		// A second Allocate before Release/Confirm is a contract violation
		s.logger.Error("Duplicate allocation rejected", "symbol", symbol, "amount", amount.String())
		return Result{Available: s.available}
	}

	granted := amount
	if amount.GreaterThan(s.available) {
		if !allowPartial || s.available.LessThanOrEqual(decimal.Zero) {
			s.logger.Warn("Allocation rejected, insufficient funds",
				"symbol", symbol, "requested", amount.String(), "available", s.available.String())
			return Result{Available: s.available}
		}
		granted = s.available
	}

	s.available = s.available.Sub(granted)
	s.allocations[symbol] = &Allocation{
		Symbol:    symbol,
		Requested: amount,
		Allocated: granted,
		CreatedAt: s.now(),
	}
	s.totalAllocs++

	telemetry.GetGlobalMetrics().SetAvailableFunds(s.available.InexactFloat64())
	return Result{Allocated: granted, Available: s.available, Sufficient: true}
}

// Release returns the full allocated amount to the budget. No-op when the
// symbol holds no allocation.
func (s *Scheduler) Release(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alloc, exists := s.allocations[symbol]
	if !exists {
		return
	}

	s.available = s.available.Add(alloc.Allocated)
	delete(s.allocations, symbol)
	telemetry.GetGlobalMetrics().SetAvailableFunds(s.available.InexactFloat64())
}

// Confirm finalizes an allocation. When actualUsed is lower than the
// allocated amount the difference is refunded.
func (s *Scheduler) Confirm(symbol string, actualUsed decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alloc, exists := s.allocations[symbol]
	if !exists {
		return
	}

	used := actualUsed
	if used.IsNegative() || used.GreaterThan(alloc.Allocated) {
		used = alloc.Allocated
	}

	refund := alloc.Allocated.Sub(used)
	if refund.IsPositive() {
		s.available = s.available.Add(refund)
	}
	s.totalConfirmed = s.totalConfirmed.Add(used)
	delete(s.allocations, symbol)
	telemetry.GetGlobalMetrics().SetAvailableFunds(s.available.InexactFloat64())
}

// GetAvailable returns the current unreserved budget
func (s *Scheduler) GetAvailable() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// GetStats returns an observation snapshot
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Available:         s.available,
		LastRefreshed:     s.lastRefreshed,
		ActiveAllocations: len(s.allocations),
		TotalAllocations:  s.totalAllocs,
		TotalConfirmed:    s.totalConfirmed,
	}
}
