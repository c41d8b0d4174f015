// Package scheduler drives the periodic decision and reflection cycles
package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	"trading_agent/internal/funds"
	"trading_agent/internal/store"
	"trading_agent/internal/trading"
	"trading_agent/pkg/concurrency"
	apperrors "trading_agent/pkg/errors"
	"trading_agent/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// filterLeverage is the conservative leverage assumed when screening symbols
var (
	filterLeverage = decimal.NewFromInt(5)
	filterBuffer   = decimal.NewFromFloat(1.15) // fees plus 15% headroom
)

// Skipped names a symbol excluded from a cycle and the cash it lacked
type Skipped struct {
	Coin     string
	Needed   decimal.Decimal
	Shortage decimal.Decimal
}

// FilterTradable keeps the symbols whose cheapest viable position fits in
// the available cash. One lot at price/leverage plus buffer must fit.
func FilterTradable(symbols []core.Symbol, availableCash decimal.Decimal, prices map[string]decimal.Decimal) ([]core.Symbol, []Skipped) {
	var tradable []core.Symbol
	var skipped []Skipped

	for _, sym := range symbols {
		price, ok := prices[sym.InstID]
		if !ok || !price.IsPositive() {
			skipped = append(skipped, Skipped{Coin: sym.Coin})
			continue
		}
		needed := price.Div(filterLeverage).Mul(filterBuffer)
		if needed.GreaterThan(availableCash) {
			skipped = append(skipped, Skipped{
				Coin:     sym.Coin,
				Needed:   needed,
				Shortage: needed.Sub(availableCash),
			})
			continue
		}
		tradable = append(tradable, sym)
	}

	return tradable, skipped
}

// PriceSource supplies streamed last prices, used when the REST ticker
// fetch fails mid-cycle.
type PriceSource interface {
	Snapshot() map[string]decimal.Decimal
}

// CycleStats aggregates the outcome of one decision cycle
type CycleStats struct {
	Symbols   int
	Succeeded int
	Failed    int
	Executed  int
	WallTime  time.Duration
	AvgTime   time.Duration
	Speedup   float64
}

// DecisionScheduler runs the trading cycle at a fixed cadence
type DecisionScheduler struct {
	exchange core.IExchange
	funds    *funds.Scheduler
	pipeline *trading.Pipeline
	store    *store.Store
	pool     *concurrency.WorkerPool
	cfg      config.SchedulerConfig
	symbols  []string // config fallback when the store has no coin list
	stream   PriceSource
	logger   core.ILogger

	running          atomic.Bool
	invocationCount  atomic.Int64
	tradingStartTime int64
}

func NewDecisionScheduler(
	exchange core.IExchange,
	fundSched *funds.Scheduler,
	pipeline *trading.Pipeline,
	st *store.Store,
	pool *concurrency.WorkerPool,
	cfg config.SchedulerConfig,
	fallbackSymbols []string,
	logger core.ILogger,
) *DecisionScheduler {
	return &DecisionScheduler{
		exchange: exchange,
		funds:    fundSched,
		pipeline: pipeline,
		store:    st,
		pool:     pool,
		cfg:      cfg,
		symbols:  fallbackSymbols,
		logger:   logger.WithField("component", "decision_scheduler"),
	}
}

// SetPriceSource attaches a streamed-price fallback. Must be called before Run.
func (s *DecisionScheduler) SetPriceSource(src PriceSource) {
	s.stream = src
}

// Run blocks until ctx is cancelled, executing one cycle per interval.
// A second concurrent Run returns ErrSchedulerRunning.
func (s *DecisionScheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperrors.ErrSchedulerRunning
	}
	defer s.running.Store(false)

	s.tradingStartTime = time.Now().UnixMilli()
	interval := time.Duration(s.cfg.IntervalMs) * time.Millisecond
	initialDelay := time.Duration(s.cfg.InitialDelayMs) * time.Millisecond

	s.logger.Info("decision scheduler starting",
		"interval", interval.String(), "initialDelay", initialDelay.String(),
		"autoExecute", s.cfg.AutoExecute)

	if err := sleepCtx(ctx, initialDelay); err != nil {
		return nil
	}

	for {
		started := time.Now()
		stats := s.runCycle(ctx)
		elapsed := time.Since(started)

		s.logger.Info("cycle finished",
			"cycle", s.invocationCount.Load(),
			"symbols", stats.Symbols,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
			"executed", stats.Executed,
			"wallTime", stats.WallTime.String(),
			"avgPerSymbol", stats.AvgTime.String(),
			"speedup", stats.Speedup)

		sleep := interval - elapsed
		if sleep < time.Second {
			sleep = time.Second
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			s.logger.Info("decision scheduler stopping")
			return nil
		}
	}
}

func (s *DecisionScheduler) runCycle(ctx context.Context) CycleStats {
	cycleStart := time.Now()
	count := s.invocationCount.Add(1)
	log := s.logger.WithField("cycle", count)
	metrics := telemetry.GetGlobalMetrics()
	if metrics.CyclesTotal != nil {
		metrics.CyclesTotal.Add(ctx, 1)
	}

	defer func() {
		if metrics.CycleDuration != nil {
			metrics.CycleDuration.Record(ctx, float64(time.Since(cycleStart).Milliseconds()))
		}
	}()

	available, err := s.funds.Refresh(ctx)
	if err != nil {
		log.Error("fund refresh failed, skipping cycle", "error", err)
		return CycleStats{}
	}

	symbols := s.enabledSymbols(ctx)
	if len(symbols) == 0 {
		log.Warn("no enabled symbols, skipping cycle")
		return CycleStats{}
	}

	instIDs := make([]string, len(symbols))
	for i, sym := range symbols {
		instIDs[i] = sym.InstID
	}

	prices, err := s.exchange.GetTickers(ctx, instIDs)
	if err != nil {
		if s.stream != nil {
			if streamed := s.stream.Snapshot(); len(streamed) > 0 {
				log.Warn("ticker fetch failed, using streamed prices", "error", err)
				prices = streamed
			}
		}
		if len(prices) == 0 {
			log.Error("ticker fetch failed, skipping cycle", "error", err)
			return CycleStats{}
		}
	}

	positions, err := s.exchange.GetPositions(ctx)
	if err != nil {
		log.Error("position fetch failed, skipping cycle", "error", err)
		return CycleStats{}
	}
	s.observePositions(symbols, positions)

	account, err := s.exchange.GetBalance(ctx)
	if err != nil {
		log.Error("balance fetch failed, skipping cycle", "error", err)
		return CycleStats{}
	}

	tradable, skipped := FilterTradable(symbols, available, prices)
	for _, sk := range skipped {
		log.Info("symbol skipped, insufficient cash",
			"coin", sk.Coin, "needed", sk.Needed.Round(2).String(), "shortage", sk.Shortage.Round(2).String())
	}
	if len(tradable) == 0 {
		return CycleStats{Symbols: 0}
	}

	snapshot := core.Snapshot{Prices: prices, Positions: positions, Account: account}
	cycle := core.CycleContext{
		InvocationCount:  count,
		TradingStartTime: s.tradingStartTime,
		AvailableCash:    available,
	}

	// Parallel fanout, one task per symbol. Results are index-assigned so
	// no cross-task synchronisation is needed beyond the group join.
	results := make([]trading.Result, len(tradable))
	group := s.pool.Group()
	for i, sym := range tradable {
		i, sym := i, sym
		group.Submit(func() {
			results[i] = s.pipeline.Run(ctx, sym, snapshot, cycle, s.cfg.AutoExecute)
		})
	}
	group.Wait()

	stats := CycleStats{Symbols: len(tradable), WallTime: time.Since(cycleStart)}
	var taskTime time.Duration
	for _, res := range results {
		taskTime += res.Elapsed
		if res.Err != nil {
			stats.Failed++
			log.Error("symbol pipeline failed", "symbol", res.Symbol, "error", res.Err)
			continue
		}
		stats.Succeeded++
		stats.Executed += res.Executed
	}
	if len(results) > 0 {
		stats.AvgTime = taskTime / time.Duration(len(results))
	}
	if stats.WallTime > 0 {
		stats.Speedup = float64(taskTime) / float64(stats.WallTime)
	}

	return stats
}

// enabledSymbols reads the coin list from the store, falling back to config
func (s *DecisionScheduler) enabledSymbols(ctx context.Context) []core.Symbol {
	coins, err := s.store.GetEnabledCoins(ctx)
	if err != nil {
		s.logger.Warn("enabled-coin lookup failed, using config fallback", "error", err)
	}
	if len(coins) == 0 {
		coins = s.symbols
	}

	symbols := make([]core.Symbol, 0, len(coins))
	for _, coin := range coins {
		symbols = append(symbols, core.NewSymbol(coin))
	}
	return symbols
}

func (s *DecisionScheduler) observePositions(symbols []core.Symbol, positions []core.Position) {
	metrics := telemetry.GetGlobalMetrics()
	counts := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		counts[sym.Coin] = 0
	}
	for _, pos := range positions {
		coin, _, _ := strings.Cut(pos.InstID, "-")
		counts[coin]++
	}
	for coin, n := range counts {
		metrics.SetOpenPositions(coin, n)
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
