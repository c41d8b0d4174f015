package okx

import (
	"testing"
	"trading_agent/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream() *TickerStream {
	return NewTickerStream("wss://example.invalid/ws", []string{"BTC-USDT-SWAP"}, logging.GetGlobalLogger())
}

func TestTickerStreamOnMessage(t *testing.T) {
	s := newTestStream()

	s.onMessage([]byte(`{
		"arg": {"channel": "tickers", "instId": "BTC-USDT-SWAP"},
		"data": [{"instId": "BTC-USDT-SWAP", "last": "100250.5"}]
	}`))

	price, ok := s.Last("BTC-USDT-SWAP")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromFloat(100250.5)))
}

func TestTickerStreamIgnoresOtherChannels(t *testing.T) {
	s := newTestStream()

	s.onMessage([]byte(`{
		"arg": {"channel": "books"},
		"data": [{"instId": "BTC-USDT-SWAP", "last": "100000"}]
	}`))

	_, ok := s.Last("BTC-USDT-SWAP")
	assert.False(t, ok)
}

func TestTickerStreamSkipsBadPrices(t *testing.T) {
	s := newTestStream()

	s.onMessage([]byte(`{
		"arg": {"channel": "tickers"},
		"data": [
			{"instId": "BTC-USDT-SWAP", "last": "not-a-number"},
			{"instId": "ETH-USDT-SWAP", "last": "0"},
			{"instId": "SOL-USDT-SWAP", "last": "150.25"}
		]
	}`))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap["SOL-USDT-SWAP"].Equal(decimal.NewFromFloat(150.25)))
}

func TestTickerStreamMalformedJSONIgnored(t *testing.T) {
	s := newTestStream()
	s.onMessage([]byte(`{"arg": truncated`))
	assert.Empty(t, s.Snapshot())
}

func TestTickerStreamLatestWins(t *testing.T) {
	s := newTestStream()

	s.onMessage([]byte(`{"arg":{"channel":"tickers"},"data":[{"instId":"BTC-USDT-SWAP","last":"100000"}]}`))
	s.onMessage([]byte(`{"arg":{"channel":"tickers"},"data":[{"instId":"BTC-USDT-SWAP","last":"100500"}]}`))

	price, ok := s.Last("BTC-USDT-SWAP")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100500)))
}
