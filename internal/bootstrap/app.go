// Package bootstrap wires the agent's components together
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	"trading_agent/internal/exchange/okx"
	"trading_agent/internal/funds"
	"trading_agent/internal/infrastructure/metrics"
	"trading_agent/internal/market"
	"trading_agent/internal/oracle"
	"trading_agent/internal/reflection"
	"trading_agent/internal/scheduler"
	"trading_agent/internal/store"
	"trading_agent/internal/trading"
	"trading_agent/internal/trading/order"
	"trading_agent/pkg/concurrency"
	"trading_agent/pkg/logging"
	"trading_agent/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App holds the fully wired agent
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	store         *store.Store
	pool          *concurrency.WorkerPool
	metricsServer *metrics.Server
	decision      *scheduler.DecisionScheduler
	reflectionSch *scheduler.ReflectionScheduler
	stream        *okx.TickerStream
	telemetry     *telemetry.Telemetry
}

// NewApp loads configuration and builds every component. Any error here is
// fatal; the process should exit non-zero.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// Telemetry first so the zap OTel bridge sees the real log provider
	tel, err := telemetry.Setup("trading_agent")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	st, err := store.Open(cfg.System.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	exchange, err := okx.NewClient(&cfg.Exchange, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("exchange: %w", err)
	}

	registry := market.NewRegistry(exchange, logger)
	fundSched := funds.NewScheduler(exchange, logger)
	oracleClient := oracle.NewClient(&cfg.Oracle, logger)
	submitter := order.NewSubmitter(exchange, logger)
	reflector := reflection.NewReflector(st, logger)

	pipeline := trading.NewPipeline(registry, fundSched, oracleClient, submitter, reflector, st, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "decision_cycle",
		MaxWorkers: 16,
	}, logger)

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		store:     st,
		pool:      pool,
		telemetry: tel,
	}

	if cfg.Telemetry.EnableMetrics {
		app.metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}
	if cfg.Scheduler.Enabled {
		app.decision = scheduler.NewDecisionScheduler(
			exchange, fundSched, pipeline, st, pool, cfg.Scheduler, cfg.Trading.Symbols, logger)

		instIDs := make([]string, 0, len(cfg.Trading.Symbols))
		for _, coin := range cfg.Trading.Symbols {
			instIDs = append(instIDs, core.NewSymbol(coin).InstID)
		}
		app.stream = okx.NewTickerStream(exchange.WSURL(), instIDs, logger)
		app.decision.SetPriceSource(app.stream)
	}
	if cfg.Reflection.Enabled {
		app.reflectionSch = scheduler.NewReflectionScheduler(exchange, reflector, cfg.Reflection, logger)
	}

	return app, nil
}

// Run starts the schedulers and blocks until a termination signal arrives
// or a component fails. The current cycle is allowed to finish.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}
	if a.stream != nil {
		a.stream.Start()
	}

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("trading agent starting", "config", a.Cfg.String())

	if a.decision != nil {
		g.Go(func() error { return a.decision.Run(ctx) })
	}
	if a.reflectionSch != nil {
		g.Go(func() error { return a.reflectionSch.Run(ctx) })
	}
	if a.decision == nil && a.reflectionSch == nil {
		a.Logger.Warn("all schedulers disabled, nothing to run")
	}

	err := g.Wait()

	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("agent stopped with error", "error", err)
		return err
	}
	a.Logger.Info("agent shut down cleanly")
	return nil
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.pool.Stop()
	if a.stream != nil {
		a.stream.Stop()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(shutdownCtx); err != nil {
			a.Logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.Logger.Warn("store close failed", "error", err)
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}
