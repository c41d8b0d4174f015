// Package market caches exchange contract metadata
package market

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trading_agent/internal/core"
	apperrors "trading_agent/pkg/errors"
)

const cacheTTL = time.Hour

// Registry caches the SWAP instrument table. Single writer on refresh, many
// concurrent readers; a stale but nonempty read is preferred over blocking.
type Registry struct {
	exchange core.IExchange
	logger   core.ILogger
	now      func() time.Time

	mu          sync.RWMutex
	instruments map[string]core.Instrument
	refreshedAt time.Time
}

// NewRegistry creates an empty instrument registry
func NewRegistry(exchange core.IExchange, logger core.ILogger) *Registry {
	return &Registry{
		exchange:    exchange,
		logger:      logger.WithField("component", "instrument_registry"),
		now:         time.Now,
		instruments: make(map[string]core.Instrument),
	}
}

// Get returns the cached instrument metadata, refreshing the whole table on
// a miss or when the cache is older than an hour.
func (r *Registry) Get(ctx context.Context, instID string) (core.Instrument, error) {
	r.mu.RLock()
	inst, ok := r.instruments[instID]
	age := r.now().Sub(r.refreshedAt)
	r.mu.RUnlock()

	if ok && age <= cacheTTL {
		return inst, nil
	}

	if err := r.Refresh(ctx); err != nil {
		// Serve stale metadata rather than fail when we have any
		if ok {
			r.logger.Warn("Instrument refresh failed, serving cached entry", "instId", instID, "error", err)
			return inst, nil
		}
		return core.Instrument{}, fmt.Errorf("%w: %s: %v", apperrors.ErrInstrumentUnavailable, instID, err)
	}

	r.mu.RLock()
	inst, ok = r.instruments[instID]
	r.mu.RUnlock()

	if !ok {
		return core.Instrument{}, fmt.Errorf("%w: %s not listed", apperrors.ErrInstrumentUnavailable, instID)
	}

	return inst, nil
}

// Refresh repopulates the cache from the exchange
func (r *Registry) Refresh(ctx context.Context) error {
	instruments, err := r.exchange.GetInstruments(ctx)
	if err != nil {
		return err
	}

	table := make(map[string]core.Instrument, len(instruments))
	for _, inst := range instruments {
		if !inst.ContractValue.IsPositive() || !inst.LotSize.IsPositive() {
			continue
		}
		table[inst.InstID] = inst
	}

	r.mu.Lock()
	r.instruments = table
	r.refreshedAt = r.now()
	r.mu.Unlock()

	r.logger.Debug("Instrument cache refreshed", "count", len(table))
	return nil
}

// Size returns the number of cached instruments
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}
