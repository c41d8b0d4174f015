// Package trading runs the per-symbol decision pipeline
package trading

import (
	"context"
	"fmt"
	"time"
	"trading_agent/internal/core"
	"trading_agent/internal/funds"
	"trading_agent/internal/market"
	"trading_agent/internal/oracle"
	"trading_agent/internal/reflection"
	"trading_agent/internal/risk"
	"trading_agent/internal/store"
	"trading_agent/internal/trading/margin"
	"trading_agent/internal/trading/order"
	"trading_agent/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Result summarises one symbol's pipeline run
type Result struct {
	Symbol    string
	Decisions int
	Executed  int
	Elapsed   time.Duration
	Err       error
}

// Pipeline wires the oracle, risk gate and order path for one symbol at a time
type Pipeline struct {
	registry  *market.Registry
	funds     *funds.Scheduler
	oracle    core.IOracle
	assembler *oracle.Assembler
	submitter *order.Submitter
	reflector *reflection.Reflector
	store     *store.Store
	logger    core.ILogger
}

func NewPipeline(
	registry *market.Registry,
	fundSched *funds.Scheduler,
	oracleClient core.IOracle,
	submitter *order.Submitter,
	reflector *reflection.Reflector,
	st *store.Store,
	logger core.ILogger,
) *Pipeline {
	return &Pipeline{
		registry:  registry,
		funds:     fundSched,
		oracle:    oracleClient,
		assembler: oracle.NewAssembler(),
		submitter: submitter,
		reflector: reflector,
		store:     st,
		logger:    logger.WithField("component", "pipeline"),
	}
}

// Run executes the full decision pipeline for one symbol. Errors are
// captured in the Result; a failed symbol never aborts the cycle.
func (p *Pipeline) Run(ctx context.Context, symbol core.Symbol, snapshot core.Snapshot, cycle core.CycleContext, autoExecute bool) Result {
	start := time.Now()
	res := Result{Symbol: symbol.Coin}
	log := p.logger.WithFields(map[string]interface{}{
		"symbol": symbol.Coin,
		"cycle":  cycle.InvocationCount,
	})

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("pipeline panic: %v", r)
			res.Elapsed = time.Since(start)
			p.funds.Release(symbol.Coin)
			log.Error("pipeline panicked", "panic", r)
		}
	}()

	marketData := p.assembler.BuildMarketData(symbol, snapshot)
	userPrompt := p.assembler.BuildUserPrompt(marketData, cycle.InvocationCount, cycle.TradingMinutes(start))

	reply, err := p.oracle.Chat(ctx, oracle.SystemPrompt, userPrompt)
	if err != nil {
		// Downgrade to a synthetic HOLD so the attempt is still recorded
		log.Warn("oracle call failed, downgrading to HOLD", "error", err)
		reply = ""
	}

	decisions := oracle.ParseDecisions(reply)
	res.Decisions = len(decisions)

	for _, decision := range decisions {
		executed, derr := p.handleDecision(ctx, log, symbol, snapshot, cycle, decision, userPrompt, reply, autoExecute)
		if derr != nil {
			log.Error("decision handling failed", "action", decision.Action, "error", derr)
			res.Err = derr
			continue
		}
		if executed {
			res.Executed++
		}
	}

	res.Elapsed = time.Since(start)
	return res
}

func (p *Pipeline) handleDecision(ctx context.Context, log core.ILogger, symbol core.Symbol, snapshot core.Snapshot, cycle core.CycleContext, decision core.Decision, prompt, reply string, autoExecute bool) (bool, error) {
	decisionID := uuid.NewString()
	metrics := telemetry.GetGlobalMetrics()

	if decision.Action == core.ActionHold || (!decision.IsOpen() && !decision.IsClose()) {
		if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusApproved, prompt, reply); err != nil {
			return false, err
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusApproved)
		log.Info("decision recorded", "action", core.ActionHold, "decisionId", decisionID)
		return false, nil
	}

	if decision.IsClose() {
		return p.handleClose(ctx, log, symbol, snapshot, decision, decisionID, prompt, reply, autoExecute)
	}

	return p.handleOpen(ctx, log, symbol, snapshot, cycle, decision, decisionID, prompt, reply, autoExecute)
}

func (p *Pipeline) handleOpen(ctx context.Context, log core.ILogger, symbol core.Symbol, snapshot core.Snapshot, cycle core.CycleContext, decision core.Decision, decisionID, prompt, reply string, autoExecute bool) (bool, error) {
	metrics := telemetry.GetGlobalMetrics()

	price, ok := snapshot.PriceOf(symbol.InstID)
	if !ok || !price.IsPositive() {
		return false, fmt.Errorf("no price for %s", symbol.InstID)
	}

	inst, err := p.registry.Get(ctx, symbol.InstID)
	if err != nil {
		return false, err
	}

	pct := decimal.NewFromFloat(decision.PositionSizePercent)
	quoteAmount := cycleCash(cycle, snapshot).Mul(pct).Div(decimal.NewFromInt(100))

	alloc := p.funds.Allocate(symbol.Coin, quoteAmount, false)
	if !alloc.Sufficient {
		log.Warn("allocation refused",
			"requested", quoteAmount.String(), "available", alloc.Available.String())
		return false, nil
	}

	leverage := decision.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	plan := margin.Calculate(price, quoteAmount, decimal.NewFromInt(int64(leverage)), inst.LotSize)
	if !plan.MeetsMinimum {
		p.funds.Release(symbol.Coin)
		log.Warn("order below one lot, skipping",
			"quote", quoteAmount.String(), "lotSize", inst.LotSize.String())
		return false, nil
	}

	verdict := risk.Validate(snapshot.Positions, decision, snapshot.Account.TotalEquity,
		alloc.Available.Add(alloc.Allocated), plan.ActualNotional, plan.RequiredMargin)
	for _, w := range verdict.Warnings {
		log.Warn("risk warning", "warning", w)
	}
	if !verdict.IsValid {
		p.funds.Release(symbol.Coin)
		if metrics.RiskRejectionsTotal != nil {
			metrics.RiskRejectionsTotal.Add(ctx, 1)
		}
		if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusRejected, prompt, reply); err != nil {
			return false, err
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusRejected)
		log.Warn("risk validation rejected decision", "errors", verdict.Errors)
		return false, nil
	}

	if !autoExecute {
		p.funds.Release(symbol.Coin)
		if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusPending, prompt, reply); err != nil {
			return false, err
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusPending)
		log.Info("auto-execute off, decision parked for review", "decisionId", decisionID)
		return false, nil
	}

	if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusPending, prompt, reply); err != nil {
		p.funds.Release(symbol.Coin)
		return false, err
	}

	side := decision.Side()
	ack, err := p.submitter.OpenByQuote(ctx, inst, side, quoteAmount, leverage, core.MarginModeCross)
	if err != nil {
		p.funds.Release(symbol.Coin)
		if serr := p.store.UpdateDecisionStatus(ctx, decisionID, core.StatusRejected); serr != nil {
			log.Error("decision status update failed", "decisionId", decisionID, "error", serr)
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusRejected)
		return false, err
	}

	p.submitter.PlaceProtection(ctx, inst, side, plan.Contracts, decision.TakeProfit, decision.StopLoss, core.MarginModeCross)

	if err := p.reflector.RecordOpen(ctx, reflection.OpenParams{
		DecisionID:       decisionID,
		Decision:         decision,
		EntryPrice:       price.InexactFloat64(),
		SizeUSDT:         quoteAmount.InexactFloat64(),
		MarketConditions: fmt.Sprintf("last price %s", price.String()),
	}); err != nil {
		log.Error("reflection insert failed", "decisionId", decisionID, "error", err)
	}

	if err := p.store.UpdateDecisionStatus(ctx, decisionID, core.StatusApproved); err != nil {
		log.Error("decision status update failed", "decisionId", decisionID, "error", err)
	}
	metrics.CountDecision(ctx, decision.Action, core.StatusApproved)

	p.funds.Confirm(symbol.Coin, plan.RequiredMargin)

	log.Info("position opened",
		"decisionId", decisionID, "orderId", ack.OrderID,
		"quote", quoteAmount.String(), "leverage", leverage)
	return true, nil
}

func (p *Pipeline) handleClose(ctx context.Context, log core.ILogger, symbol core.Symbol, snapshot core.Snapshot, decision core.Decision, decisionID, prompt, reply string, autoExecute bool) (bool, error) {
	metrics := telemetry.GetGlobalMetrics()
	side := decision.Side()

	var live *core.Position
	for i := range snapshot.Positions {
		pos := &snapshot.Positions[i]
		if pos.InstID == symbol.InstID && pos.Side == side {
			live = pos
			break
		}
	}
	if live == nil {
		log.Warn("close requested but no matching position", "side", side)
		if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusRejected, prompt, reply); err != nil {
			return false, err
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusRejected)
		return false, nil
	}

	if !autoExecute {
		if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusPending, prompt, reply); err != nil {
			return false, err
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusPending)
		log.Info("auto-execute off, close parked for review", "decisionId", decisionID)
		return false, nil
	}

	inst, err := p.registry.Get(ctx, symbol.InstID)
	if err != nil {
		return false, err
	}

	if err := p.saveDecision(ctx, decisionID, symbol, decision, core.StatusPending, prompt, reply); err != nil {
		return false, err
	}

	ack, err := p.submitter.CloseByContracts(ctx, inst, side, live.Contracts, core.MarginModeCross)
	if err != nil {
		if serr := p.store.UpdateDecisionStatus(ctx, decisionID, core.StatusRejected); serr != nil {
			log.Error("decision status update failed", "decisionId", decisionID, "error", serr)
		}
		metrics.CountDecision(ctx, decision.Action, core.StatusRejected)
		return false, err
	}

	exitPrice, _ := snapshot.PriceOf(symbol.InstID)
	pnl := closedPnl(*live, exitPrice, inst.ContractValue)

	if err := p.reflector.RecordClose(ctx, p.openDecisionID(ctx, symbol, side), exitPrice.InexactFloat64(), pnl.InexactFloat64()); err != nil {
		log.Error("reflection close failed", "decisionId", decisionID, "error", err)
	}

	if err := p.store.UpdateDecisionStatus(ctx, decisionID, core.StatusApproved); err != nil {
		log.Error("decision status update failed", "decisionId", decisionID, "error", err)
	}
	metrics.CountDecision(ctx, decision.Action, core.StatusApproved)

	// A close consumes no new margin
	p.funds.Release(symbol.Coin)

	log.Info("position closed",
		"decisionId", decisionID, "orderId", ack.OrderID,
		"contracts", live.Contracts.String(), "pnl", pnl.Round(4).String())
	return true, nil
}

// openDecisionID finds the pending reflection matching a live position so
// the close can finalise the same row.
func (p *Pipeline) openDecisionID(ctx context.Context, symbol core.Symbol, side core.PositionSide) string {
	pending, err := p.store.ListPendingReflections(ctx)
	if err != nil {
		return ""
	}
	openAction := core.ActionOpenLong
	if side == core.SideShort {
		openAction = core.ActionOpenShort
	}
	for _, row := range pending {
		if row.Symbol == symbol.Coin && row.Action == openAction {
			return row.DecisionID
		}
	}
	return ""
}

func (p *Pipeline) saveDecision(ctx context.Context, id string, symbol core.Symbol, decision core.Decision, status, prompt, reply string) error {
	return p.store.InsertDecision(ctx, store.DecisionRecord{
		ID:     id,
		Title:  fmt.Sprintf("%s %s", symbol.Coin, decision.Action),
		Desc:   decision.Reasoning,
		Status: status,
		Prompt: prompt,
		Reply:  reply,
	})
}

// closedPnl estimates realized pnl from the mark-to-exit move when the
// exchange response carries none.
func closedPnl(pos core.Position, exitPrice, contractValue decimal.Decimal) decimal.Decimal {
	move := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == core.SideShort {
		move = move.Neg()
	}
	return move.Mul(pos.Contracts).Mul(contractValue)
}

// cycleCash is the cash figure percent sizing applies to. The scheduler
// captures it at refresh; the snapshot balance is the fallback.
func cycleCash(cycle core.CycleContext, snapshot core.Snapshot) decimal.Decimal {
	if cycle.AvailableCash.IsPositive() {
		return cycle.AvailableCash
	}
	return snapshot.Account.AvailableBalance
}
