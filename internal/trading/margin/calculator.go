// Package margin computes contract counts and margin requirements
package margin

import (
	"github.com/shopspring/decimal"
)

// Fee and buffer rates for market orders
var (
	TakerFeeRate     = decimal.NewFromFloat(0.0005) // 0.05% open
	CloseFeeRate     = decimal.NewFromFloat(0.0005) // 0.05% close reserve
	SafetyBufferRate = decimal.NewFromFloat(0.05)   // 5% on top of total
)

// Plan is the full margin breakdown for a proposed order
type Plan struct {
	Contracts      decimal.Decimal // floored to a lot-size multiple
	Notional       decimal.Decimal // quoteAmount x leverage, before flooring
	ActualNotional decimal.Decimal // contracts x entryPrice
	RequiredMargin decimal.Decimal
	OpenFee        decimal.Decimal
	CloseFee       decimal.Decimal
	TotalRequired  decimal.Decimal
	SafetyBuffer   decimal.Decimal
	Recommended    decimal.Decimal
	MeetsMinimum   bool
}

// Calculate is a pure function: it never fails, callers interpret
// MeetsMinimum=false as "skip".
func Calculate(entryPrice, quoteAmount, leverage, lotSize decimal.Decimal) Plan {
	if !entryPrice.IsPositive() || !lotSize.IsPositive() || !leverage.IsPositive() {
		return Plan{}
	}

	notional := quoteAmount.Mul(leverage)
	rawContracts := notional.Div(entryPrice)

	// Floor to a lot-size multiple. Below one lot the plan keeps the zero
	// count so the required margin never exceeds the requested amount.
	contracts := rawContracts.Div(lotSize).Floor().Mul(lotSize)

	actualNotional := contracts.Mul(entryPrice)
	requiredMargin := actualNotional.Div(leverage)
	openFee := actualNotional.Mul(TakerFeeRate)
	closeFee := actualNotional.Mul(CloseFeeRate)
	totalRequired := requiredMargin.Add(openFee).Add(closeFee)
	safetyBuffer := totalRequired.Mul(SafetyBufferRate)

	return Plan{
		Contracts:      contracts,
		Notional:       notional,
		ActualNotional: actualNotional,
		RequiredMargin: requiredMargin,
		OpenFee:        openFee,
		CloseFee:       closeFee,
		TotalRequired:  totalRequired,
		SafetyBuffer:   safetyBuffer,
		Recommended:    totalRequired.Add(safetyBuffer),
		MeetsMinimum:   contracts.GreaterThanOrEqual(lotSize),
	}
}

// Adjusted pairs a viable plan with the quote amount that produced it
type Adjusted struct {
	QuoteAmount decimal.Decimal
	Plan        Plan
}

// AdjustToAvailable binary-searches the largest quoteAmount <= requested
// whose recommended total fits in availableQuote with a viable contract
// count. Returns nil when no amount works.
func AdjustToAvailable(entryPrice, requested, leverage, lotSize, availableQuote decimal.Decimal) *Adjusted {
	if !requested.IsPositive() {
		return nil
	}

	fits := func(amount decimal.Decimal) (Plan, bool) {
		plan := Calculate(entryPrice, amount, leverage, lotSize)
		return plan, plan.MeetsMinimum && plan.Recommended.LessThanOrEqual(availableQuote)
	}

	if plan, ok := fits(requested); ok {
		return &Adjusted{QuoteAmount: requested, Plan: plan}
	}

	lo := decimal.Zero
	hi := requested
	var best *Adjusted

	for i := 0; i < 64; i++ {
		mid := lo.Add(hi).Div(decimal.NewFromInt(2))
		if plan, ok := fits(mid); ok {
			best = &Adjusted{QuoteAmount: mid, Plan: plan}
			lo = mid
		} else {
			hi = mid
		}
		if hi.Sub(lo).LessThan(decimal.NewFromFloat(0.01)) {
			break
		}
	}

	return best
}
