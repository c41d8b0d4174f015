// Package risk implements the pre-trade decision gate
package risk

import (
	"fmt"
	"trading_agent/internal/core"

	"github.com/shopspring/decimal"
)

// Gate thresholds, all in quote currency or percent
var (
	MinAvailableMargin   = decimal.NewFromInt(50)
	MaxTotalExposurePct  = decimal.NewFromInt(80)
	MaxSymbolExposurePct = decimal.NewFromInt(30)
	MinOrderSize         = decimal.NewFromInt(10)
	SingleOrderMarginPct = decimal.NewFromInt(50) // warning threshold
	MarginUsageWarnPct   = decimal.NewFromInt(90) // warning threshold
	MaxStopDistancePct   = decimal.NewFromInt(10) // warning threshold
)

const (
	MaxOpenPositions = 6
	MaxLeverage      = 10
)

// Metrics carries the exposure numbers computed during validation
type Metrics struct {
	TotalExposurePct   decimal.Decimal
	SymbolExposurePct  decimal.Decimal
	MarginUsagePct     decimal.Decimal
	ProjectedPositions int
}

// Result is the outcome of the gate: errors veto, warnings do not
type Result struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Metrics  Metrics
}

// Validate evaluates a proposed decision against the current account state.
// CLOSE and HOLD actions always pass.
func Validate(positions []core.Position, decision core.Decision, accountTotal, availableMargin, proposedNotional, proposedMargin decimal.Decimal) Result {
	res := Result{IsValid: true}

	if !decision.IsOpen() {
		return res
	}

	// 1. Floor on free margin
	if availableMargin.LessThan(MinAvailableMargin) {
		res.addError("available margin %s below minimum %s", availableMargin, MinAvailableMargin)
	}

	// Exposure is measured on committed margin, not notional, so leverage
	// does not make every position look oversized against equity.
	existingMargin := decimal.Zero
	symbolMargin := decimal.Zero
	side := decision.Side()
	for _, pos := range positions {
		m := positionMargin(pos)
		existingMargin = existingMargin.Add(m)
		if matchesSymbol(pos.InstID, decision.Symbol) {
			symbolMargin = symbolMargin.Add(m)
			// 9. No doubling down on the same direction
			if pos.Side == side {
				res.addError("duplicate same-direction position for %s", decision.Symbol)
			}
		}
	}

	// 2. Projected total exposure
	if accountTotal.IsPositive() {
		res.Metrics.TotalExposurePct = existingMargin.Add(proposedMargin).Div(accountTotal).Mul(decimal.NewFromInt(100))
		if res.Metrics.TotalExposurePct.GreaterThan(MaxTotalExposurePct) {
			res.addError("projected total exposure %s%% exceeds %s%%", res.Metrics.TotalExposurePct.Round(2), MaxTotalExposurePct)
		}

		// 3. Projected per-symbol exposure
		res.Metrics.SymbolExposurePct = symbolMargin.Add(proposedMargin).Div(accountTotal).Mul(decimal.NewFromInt(100))
		if res.Metrics.SymbolExposurePct.GreaterThan(MaxSymbolExposurePct) {
			res.addError("projected %s exposure %s%% exceeds %s%%", decision.Symbol, res.Metrics.SymbolExposurePct.Round(2), MaxSymbolExposurePct)
		}
	}

	// 4. Position count cap
	res.Metrics.ProjectedPositions = len(positions) + 1
	if res.Metrics.ProjectedPositions > MaxOpenPositions {
		res.addError("projected position count %d exceeds %d", res.Metrics.ProjectedPositions, MaxOpenPositions)
	}

	// 5. Leverage cap
	if decision.Leverage > MaxLeverage {
		res.addError("leverage %d exceeds %d", decision.Leverage, MaxLeverage)
	}

	// 6. Minimum order size
	if proposedNotional.LessThan(MinOrderSize) {
		res.addError("order notional %s below minimum %s", proposedNotional.Round(2), MinOrderSize)
	}

	// 7. Oversized single order (warning)
	if availableMargin.IsPositive() {
		orderPct := proposedMargin.Div(availableMargin).Mul(decimal.NewFromInt(100))
		if orderPct.GreaterThan(SingleOrderMarginPct) {
			res.addWarning("single order consumes %s%% of available margin", orderPct.Round(2))
		}
	}

	// 8. High margin usage (warning)
	if accountTotal.IsPositive() {
		used := accountTotal.Sub(availableMargin).Add(proposedMargin)
		res.Metrics.MarginUsagePct = used.Div(accountTotal).Mul(decimal.NewFromInt(100))
		if res.Metrics.MarginUsagePct.GreaterThan(MarginUsageWarnPct) {
			res.addWarning("projected margin usage %s%% exceeds %s%%", res.Metrics.MarginUsagePct.Round(2), MarginUsageWarnPct)
		}
	}

	// 10. Protective order sanity (warnings only)
	res.checkProtection(decision)

	res.IsValid = len(res.Errors) == 0
	return res
}

func (r *Result) checkProtection(decision core.Decision) {
	if decision.TakeProfit <= 0 || decision.StopLoss <= 0 {
		r.addWarning("take-profit or stop-loss missing on open decision")
		return
	}
	entry := decision.EntryPrice
	if entry <= 0 {
		return
	}

	stopDistance := decimal.NewFromFloat(entry - decision.StopLoss).Abs()
	entryDec := decimal.NewFromFloat(entry)
	stopPct := stopDistance.Div(entryDec).Mul(decimal.NewFromInt(100))
	if stopPct.GreaterThan(MaxStopDistancePct) {
		r.addWarning("stop distance %s%% of entry exceeds %s%%", stopPct.Round(2), MaxStopDistancePct)
	}

	reward := decimal.NewFromFloat(decision.TakeProfit - entry).Abs()
	if stopDistance.IsPositive() && reward.Div(stopDistance).LessThan(decimal.NewFromInt(1)) {
		r.addWarning("reward/risk ratio below 1")
	}
}

func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// positionMargin is the quote margin a live position has committed
func positionMargin(pos core.Position) decimal.Decimal {
	if pos.Leverage > 0 {
		return pos.NotionalValue.Div(decimal.NewFromInt(int64(pos.Leverage)))
	}
	return pos.NotionalValue
}

// matchesSymbol reports whether an instrument id belongs to a short coin name
func matchesSymbol(instID, symbol string) bool {
	return instID == symbol || len(instID) > len(symbol) && instID[:len(symbol)] == symbol && instID[len(symbol)] == '-'
}
