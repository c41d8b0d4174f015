package okx

import (
	"encoding/json"
	"sync"
	"trading_agent/internal/core"
	"trading_agent/pkg/websocket"

	"github.com/shopspring/decimal"
)

// TickerStream maintains a live last-price cache from the public tickers channel.
// The REST snapshot taken at cycle start remains authoritative; the stream
// keeps prices warm between cycles.
type TickerStream struct {
	client *websocket.Client
	logger core.ILogger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewTickerStream creates a stream subscribed to the given instruments
func NewTickerStream(wsURL string, instIDs []string, logger core.ILogger) *TickerStream {
	s := &TickerStream{
		logger: logger.WithField("component", "ticker_stream"),
		prices: make(map[string]decimal.Decimal),
	}

	client := websocket.NewClient(wsURL, s.onMessage, s.logger)
	client.SetOnConnected(func() {
		args := make([]map[string]string, len(instIDs))
		for i, id := range instIDs {
			args[i] = map[string]string{
				"channel": "tickers",
				"instId":  id,
			}
		}

		sub := map[string]interface{}{
			"op":   "subscribe",
			"args": args,
		}
		if err := client.Send(sub); err != nil {
			s.logger.Error("Failed to send tickers subscription", "error", err)
		}
	})

	s.client = client
	return s
}

// Start begins the websocket connection loop
func (s *TickerStream) Start() {
	s.client.Start()
}

// Stop closes the stream
func (s *TickerStream) Stop() {
	s.client.Stop()
}

func (s *TickerStream) onMessage(message []byte) {
	var event struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID string `json:"instId"`
			Last   string `json:"last"`
		} `json:"data"`
	}

	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.Arg.Channel != "tickers" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, data := range event.Data {
		price, err := decimal.NewFromString(data.Last)
		if err != nil || !price.IsPositive() {
			continue
		}
		s.prices[data.InstID] = price
	}
}

// Last returns the most recent streamed price for an instrument
func (s *TickerStream) Last(instID string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[instID]
	return p, ok
}

// Snapshot copies the current price cache
func (s *TickerStream) Snapshot() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}
