package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCyclesTotal         = "trading_agent_cycles_total"
	MetricDecisionsTotal      = "trading_agent_decisions_total"
	MetricOrdersTotal         = "trading_agent_orders_submitted_total"
	MetricRiskRejectionsTotal = "trading_agent_risk_rejections_total"
	MetricOracleLatency       = "trading_agent_oracle_latency_ms"
	MetricCycleDuration       = "trading_agent_cycle_duration_ms"
	MetricAvailableFunds      = "trading_agent_available_funds"
	MetricOpenPositions       = "trading_agent_open_positions"
	MetricPendingReflections  = "trading_agent_pending_reflections"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CyclesTotal         metric.Int64Counter
	DecisionsTotal      metric.Int64Counter
	OrdersTotal         metric.Int64Counter
	RiskRejectionsTotal metric.Int64Counter
	OracleLatency       metric.Float64Histogram
	CycleDuration       metric.Float64Histogram
	AvailableFunds      metric.Float64ObservableGauge
	OpenPositions       metric.Int64ObservableGauge
	PendingReflections  metric.Int64ObservableGauge

	// State for observable gauges
	mu                 sync.RWMutex
	availableFunds     float64
	openPositionsMap   map[string]int64
	pendingReflections int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			openPositionsMap: make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CyclesTotal, err = meter.Int64Counter(MetricCyclesTotal, metric.WithDescription("Total decision cycles run"))
	if err != nil {
		return err
	}

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal, metric.WithDescription("Total decisions recorded, by action and status"))
	if err != nil {
		return err
	}

	m.OrdersTotal, err = meter.Int64Counter(MetricOrdersTotal, metric.WithDescription("Total orders submitted to the exchange"))
	if err != nil {
		return err
	}

	m.RiskRejectionsTotal, err = meter.Int64Counter(MetricRiskRejectionsTotal, metric.WithDescription("Total decisions rejected by the risk validator"))
	if err != nil {
		return err
	}

	m.OracleLatency, err = meter.Float64Histogram(MetricOracleLatency, metric.WithDescription("Latency of oracle chat calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Wall time of a full decision cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.AvailableFunds, err = meter.Float64ObservableGauge(MetricAvailableFunds, metric.WithDescription("Quote currency available to the fund scheduler"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.availableFunds)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Number of open positions per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openPositionsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PendingReflections, err = meter.Int64ObservableGauge(MetricPendingReflections, metric.WithDescription("Reflection rows awaiting a terminal outcome"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.pendingReflections)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetAvailableFunds(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availableFunds = value
}

func (m *MetricsHolder) SetOpenPositions(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositionsMap[symbol] = count
}

func (m *MetricsHolder) SetPendingReflections(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingReflections = count
}

// CountDecision records one decision with its action and persisted status
func (m *MetricsHolder) CountDecision(ctx context.Context, action, status string) {
	if m.DecisionsTotal == nil {
		return
	}
	m.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}
