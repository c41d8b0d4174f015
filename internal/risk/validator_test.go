package risk

import (
	"strings"
	"testing"
	"trading_agent/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func openLong(overrides func(*core.Decision)) core.Decision {
	dec := core.Decision{
		Symbol:     "BTC",
		Action:     core.ActionOpenLong,
		Confidence: 75,
		EntryPrice: 100000,
		TakeProfit: 103000,
		StopLoss:   98000,
		Leverage:   5,
	}
	if overrides != nil {
		overrides(&dec)
	}
	return dec
}

func TestValidateHoldAndCloseAlwaysPass(t *testing.T) {
	for _, action := range []string{core.ActionHold, core.ActionCloseLong, core.ActionCloseShort} {
		dec := core.Decision{Symbol: "BTC", Action: action}
		res := Validate(nil, dec, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
		assert.True(t, res.IsValid, "action %s", action)
		assert.Empty(t, res.Errors)
	}
}

func TestValidateHappyOpen(t *testing.T) {
	res := Validate(nil, openLong(nil), d("1000"), d("1000"), d("1000"), d("200"))
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.True(t, res.Metrics.TotalExposurePct.Equal(d("20")))
}

func TestValidateMinAvailableMargin(t *testing.T) {
	res := Validate(nil, openLong(nil), d("1000"), d("49"), d("100"), d("20"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "below minimum"))
}

func TestValidateTotalExposure(t *testing.T) {
	// 850 of margin against 1000 equity breaches the 80% cap
	res := Validate(nil, openLong(nil), d("1000"), d("1000"), d("4250"), d("850"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "total exposure"))
}

func TestValidateSymbolExposure(t *testing.T) {
	positions := []core.Position{{
		InstID:        "BTC-USDT-SWAP",
		Side:          core.SideShort,
		NotionalValue: d("1000"),
		Leverage:      5,
	}}
	// Existing 200 symbol margin plus 150 proposed is 35% of equity
	res := Validate(positions, openLong(nil), d("1000"), d("1000"), d("750"), d("150"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "BTC exposure"))
}

func TestValidatePositionCount(t *testing.T) {
	var positions []core.Position
	for _, coin := range []string{"ETH", "SOL", "DOGE", "XRP", "ADA", "LTC"} {
		positions = append(positions, core.Position{
			InstID:        coin + "-USDT-SWAP",
			Side:          core.SideLong,
			NotionalValue: d("10"),
			Leverage:      5,
		})
	}
	res := Validate(positions, openLong(nil), d("10000"), d("10000"), d("100"), d("20"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "position count"))
}

func TestValidateLeverageCap(t *testing.T) {
	dec := openLong(func(d *core.Decision) { d.Leverage = 20 })
	res := Validate(nil, dec, d("1000"), d("1000"), d("100"), d("20"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "leverage"))
}

func TestValidateMinNotional(t *testing.T) {
	res := Validate(nil, openLong(nil), d("1000"), d("1000"), d("9.5"), d("2"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "below minimum"))
}

func TestValidateDuplicateDirection(t *testing.T) {
	positions := []core.Position{{
		InstID:        "BTC-USDT-SWAP",
		Side:          core.SideLong,
		NotionalValue: d("500"),
		Leverage:      5,
	}}
	res := Validate(positions, openLong(nil), d("10000"), d("10000"), d("1000"), d("200"))
	assert.False(t, res.IsValid)
	assert.True(t, hasErrorContaining(res, "duplicate same-direction"))
}

func TestValidateOppositeDirectionAllowed(t *testing.T) {
	positions := []core.Position{{
		InstID:        "BTC-USDT-SWAP",
		Side:          core.SideShort,
		NotionalValue: d("500"),
		Leverage:      5,
	}}
	res := Validate(positions, openLong(nil), d("10000"), d("10000"), d("1000"), d("200"))
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
}

func TestValidateOversizedOrderWarning(t *testing.T) {
	// 60% of available margin on one order warns but does not veto
	res := Validate(nil, openLong(nil), d("10000"), d("1000"), d("3000"), d("600"))
	assert.True(t, res.IsValid)
	assert.True(t, hasWarningContaining(res, "single order"))
}

func TestValidateMarginUsageWarning(t *testing.T) {
	// Equity 1000, only 60 still available, adding 55 pushes usage past 90%
	res := Validate(nil, openLong(nil), d("1000"), d("60"), d("275"), d("55"))
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.True(t, hasWarningContaining(res, "margin usage"))
}

func TestValidateProtectionWarnings(t *testing.T) {
	t.Run("missing TP and SL", func(t *testing.T) {
		dec := openLong(func(d *core.Decision) { d.TakeProfit = 0; d.StopLoss = 0 })
		res := Validate(nil, dec, d("1000"), d("1000"), d("100"), d("20"))
		assert.True(t, res.IsValid)
		assert.True(t, hasWarningContaining(res, "missing"))
	})

	t.Run("stop too far from entry", func(t *testing.T) {
		dec := openLong(func(d *core.Decision) { d.StopLoss = 85000 })
		res := Validate(nil, dec, d("1000"), d("1000"), d("100"), d("20"))
		assert.True(t, res.IsValid)
		assert.True(t, hasWarningContaining(res, "stop distance"))
	})

	t.Run("reward below risk", func(t *testing.T) {
		dec := openLong(func(d *core.Decision) { d.TakeProfit = 100500; d.StopLoss = 98000 })
		res := Validate(nil, dec, d("1000"), d("1000"), d("100"), d("20"))
		assert.True(t, res.IsValid)
		assert.True(t, hasWarningContaining(res, "reward/risk"))
	})
}

func TestExposureMonotonicity(t *testing.T) {
	dec := openLong(nil)
	base := Validate(nil, dec, d("10000"), d("10000"), d("1000"), d("200"))

	positions := []core.Position{{
		InstID:        "ETH-USDT-SWAP",
		Side:          core.SideLong,
		NotionalValue: d("2000"),
		Leverage:      5,
	}}
	withPos := Validate(positions, dec, d("10000"), d("10000"), d("1000"), d("200"))

	assert.True(t, withPos.Metrics.TotalExposurePct.GreaterThanOrEqual(base.Metrics.TotalExposurePct))
}

func hasErrorContaining(res Result, substr string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func hasWarningContaining(res Result, substr string) bool {
	for _, w := range res.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
