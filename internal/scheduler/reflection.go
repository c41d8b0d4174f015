package scheduler

import (
	"context"
	"sync/atomic"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	"trading_agent/internal/reflection"
	apperrors "trading_agent/pkg/errors"
)

// closedHistoryLimit bounds the history scan per reconciliation tick
const closedHistoryLimit = 100

// ReflectionScheduler periodically reconciles pending reflections against
// the exchange's closed-position history.
type ReflectionScheduler struct {
	exchange  core.IExchange
	reflector *reflection.Reflector
	cfg       config.ReflectionConfig
	logger    core.ILogger

	running atomic.Bool
}

func NewReflectionScheduler(exchange core.IExchange, reflector *reflection.Reflector, cfg config.ReflectionConfig, logger core.ILogger) *ReflectionScheduler {
	return &ReflectionScheduler{
		exchange:  exchange,
		reflector: reflector,
		cfg:       cfg,
		logger:    logger.WithField("component", "reflection_scheduler"),
	}
}

// Run blocks until ctx is cancelled. A second concurrent Run returns
// ErrSchedulerRunning.
func (s *ReflectionScheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperrors.ErrSchedulerRunning
	}
	defer s.running.Store(false)

	interval := time.Duration(s.cfg.IntervalMs) * time.Millisecond
	initialDelay := time.Duration(s.cfg.InitialDelayMs) * time.Millisecond

	s.logger.Info("reflection scheduler starting",
		"interval", interval.String(), "initialDelay", initialDelay.String())

	if err := sleepCtx(ctx, initialDelay); err != nil {
		return nil
	}

	for {
		s.tick(ctx)
		if err := sleepCtx(ctx, interval); err != nil {
			s.logger.Info("reflection scheduler stopping")
			return nil
		}
	}
}

func (s *ReflectionScheduler) tick(ctx context.Context) {
	positions, err := s.exchange.GetPositions(ctx)
	if err != nil {
		s.logger.Error("position fetch failed, skipping reconciliation", "error", err)
		return
	}

	closed, err := s.exchange.GetPositionsHistory(ctx, closedHistoryLimit)
	if err != nil {
		s.logger.Error("closed-pnl fetch failed, skipping reconciliation", "error", err)
		return
	}

	updated, err := s.reflector.AutoUpdateOrphans(ctx, positions, closed)
	if err != nil {
		s.logger.Error("orphan reconciliation failed", "error", err)
		return
	}
	if updated > 0 {
		s.logger.Info("orphan reflections updated", "count", updated)
	}
}
