package margin

import (
	"testing"

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

func TestCalculateHappyPath(t *testing.T) {
	// BTC at 100k, 200 quote at 5x, lot 0.01
	plan := Calculate(d("100000"), d("200"), d("5"), d("0.01"))

	assert.True(t, plan.MeetsMinimum)
	assert.True(t, plan.Contracts.Equal(d("0.01")), "contracts = %s", plan.Contracts)
	assert.True(t, plan.Notional.Equal(d("1000")))
	assert.True(t, plan.ActualNotional.Equal(d("1000")))
	assert.True(t, plan.RequiredMargin.Equal(d("200")))
	assert.True(t, plan.OpenFee.Equal(d("0.5")))
	assert.True(t, plan.CloseFee.Equal(d("0.5")))
	assert.True(t, plan.TotalRequired.Equal(d("201")))
	assert.True(t, plan.SafetyBuffer.Equal(d("10.05")))
	assert.True(t, plan.Recommended.Equal(d("211.05")))
}

func TestCalculateBelowOneLot(t *testing.T) {
	// 5 quote at 5x buys 0.00025 BTC, under the 0.01 lot
	plan := Calculate(d("100000"), d("5"), d("5"), d("0.01"))

	assert.False(t, plan.MeetsMinimum)
	assert.True(t, plan.Contracts.IsZero())
	assert.True(t, plan.RequiredMargin.IsZero())
}

func TestCalculateGuardsBadInputs(t *testing.T) {
	cases := []struct {
		name                           string
		price, quote, leverage, lotSsz string
	}{
		{"zero price", "0", "200", "5", "0.01"},
		{"zero lot", "100000", "200", "5", "0"},
		{"zero leverage", "100000", "200", "0", "0.01"},
		{"negative price", "-1", "200", "5", "0.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Calculate(d(tc.price), d(tc.quote), d(tc.leverage), d(tc.lotSsz))
			assert.False(t, plan.MeetsMinimum)
			assert.True(t, plan.Contracts.IsZero())
		})
	}
}

func TestCalculateLotMultipleProperty(t *testing.T) {
	prices := []string{"0.5", "3", "250", "3500", "100000"}
	quotes := []string{"10", "55.5", "200", "999.99", "5000"}
	leverages := []string{"1", "3", "5", "10"}
	lots := []string{"0.001", "0.01", "0.1", "1", "10"}

	for _, p := range prices {
		for _, q := range quotes {
			for _, l := range leverages {
				for _, lot := range lots {
					plan := Calculate(d(p), d(q), d(l), d(lot))

					// Contracts are a non-negative multiple of the lot size
					rem := plan.Contracts.Mod(d(lot))
					assert.True(t, rem.IsZero(),
						"contracts %s not a multiple of lot %s", plan.Contracts, lot)
					assert.False(t, plan.Contracts.IsNegative())

					// Flooring never requires more margin than was requested
					assert.True(t, plan.RequiredMargin.LessThanOrEqual(d(q)),
						"required %s exceeds quote %s (p=%s l=%s lot=%s)",
						plan.RequiredMargin, q, p, l, lot)
				}
			}
		}
	}
}

func TestAdjustToAvailableRequestedFits(t *testing.T) {
	adj := AdjustToAvailable(d("100000"), d("200"), d("5"), d("0.01"), d("1000"))
	require.NotNil(t, adj)
	assert.True(t, adj.QuoteAmount.Equal(d("200")))
	assert.True(t, adj.Plan.MeetsMinimum)
}

func TestAdjustToAvailableShrinks(t *testing.T) {
	// Requested 900 cannot fit in 500 of cash; the search must land on an
	// amount whose recommended total stays inside the budget.
	adj := AdjustToAvailable(d("3500"), d("900"), d("5"), d("0.1"), d("500"))
	require.NotNil(t, adj)
	assert.True(t, adj.QuoteAmount.LessThan(d("900")))
	assert.True(t, adj.Plan.Recommended.LessThanOrEqual(d("500")))
	assert.True(t, adj.Plan.MeetsMinimum)
}

func TestAdjustToAvailableNoFit(t *testing.T) {
	// One lot of BTC at 1x costs far more than the 10 available
	adj := AdjustToAvailable(d("100000"), d("50"), d("1"), d("0.01"), d("10"))
	assert.Nil(t, adj)
}

func TestAdjustToAvailableZeroRequest(t *testing.T) {
	assert.Nil(t, AdjustToAvailable(d("100000"), d("0"), d("5"), d("0.01"), d("1000")))
}
