package oracle

import (
	"fmt"
	"strings"
	"trading_agent/internal/core"
)

// SystemPrompt frames the oracle's role for every call
const SystemPrompt = `You are a disciplined crypto perpetual-swap trading analyst. ` +
	`You receive an account and market snapshot for one symbol and respond with ` +
	`trading decisions in strict JSON. You never invent data and you never respond ` +
	`with anything but the JSON described in the instructions.`

// instructionsBlock is emitted verbatim every cycle so replies stay parseable
const instructionsBlock = `RESPONSE FORMAT
Respond with exactly one of the two JSON shapes below. No markdown, no code
fences, no commentary outside the JSON.

Shape 1, a single decision object:
{"symbol": "BTC", "action": "OPEN_LONG", "confidence": 75, "entry_price": 100000, "position_size_percent": 20, "take_profit": 103000, "stop_loss": 98000, "leverage": 5, "reasoning": "...", "timeframe": "SHORT"}

Shape 2, multiple decisions:
{"decisions": [ { ...decision object... }, { ...decision object... } ]}

FIELD RULES
- action: one of OPEN_LONG, OPEN_SHORT, CLOSE_LONG, CLOSE_SHORT, HOLD.
- confidence: 0 to 100.
- position_size_percent: percentage of available cash, between 5 and 50.
  Never give absolute amounts. Required for OPEN actions.
- take_profit and stop_loss: absolute prices. Both are mandatory for OPEN
  actions.
- leverage: integer between 1 and 10.
- timeframe: SHORT, MEDIUM or LONG.

BEHAVIOUR RULES
- If you would neither open nor close, answer HOLD. Do not close a position
  just to act; close only when the exit thesis is stronger than holding.
- Do not open a position you would not defend with a stop-loss.
- One decision per symbol per reply.`

// Assembler builds the user prompt from a market snapshot and session counters
type Assembler struct{}

// NewAssembler creates a prompt assembler
func NewAssembler() *Assembler {
	return &Assembler{}
}

// BuildUserPrompt produces the session preamble, the market data and the
// rigid instructions block, in that order.
func (a *Assembler) BuildUserPrompt(marketData string, invocationCount, tradingMinutes int64) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("It has been %d minutes since you started trading. ", tradingMinutes))
	b.WriteString(fmt.Sprintf("You are invoked every few minutes; this is invocation #%d.\n\n", invocationCount))

	b.WriteString("CURRENT MARKET STATE\n")
	b.WriteString(marketData)
	if !strings.HasSuffix(marketData, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(instructionsBlock)

	return b.String()
}

// BuildMarketData renders the per-symbol snapshot section of the prompt
func (a *Assembler) BuildMarketData(symbol core.Symbol, snapshot core.Snapshot) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Symbol: %s (%s)\n", symbol.Coin, symbol.InstID))
	if price, ok := snapshot.PriceOf(symbol.InstID); ok {
		b.WriteString(fmt.Sprintf("Last price: %s\n", price.String()))
	} else {
		b.WriteString("Last price: unavailable\n")
	}

	b.WriteString(fmt.Sprintf("Account equity: %s USDT, available: %s USDT\n",
		snapshot.Account.TotalEquity.Round(2).String(),
		snapshot.Account.AvailableBalance.Round(2).String()))

	open := 0
	for _, pos := range snapshot.Positions {
		if pos.InstID != symbol.InstID {
			continue
		}
		open++
		b.WriteString(fmt.Sprintf("Open position: %s %s contracts, entry %s, mark %s, leverage %dx, unrealized PnL %s\n",
			pos.Side, pos.Contracts.String(), pos.EntryPrice.String(),
			pos.MarkPrice.String(), pos.Leverage, pos.UnrealizedPnl.Round(4).String()))
	}
	if open == 0 {
		b.WriteString("Open position: none\n")
	}
	b.WriteString(fmt.Sprintf("Total open positions across account: %d\n", len(snapshot.Positions)))

	return b.String()
}
