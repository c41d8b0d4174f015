// Package reflection records trade outcomes and reconciles them against
// exchange history.
package reflection

import (
	"context"
	"math"
	"strings"
	"time"
	"trading_agent/internal/core"
	"trading_agent/internal/store"
	"trading_agent/pkg/telemetry"
)

// Outcome thresholds in quote currency
var (
	profitThreshold = 1.0
	lossThreshold   = -1.0
)

// Reflector ties decision outcomes back to the durable store
type Reflector struct {
	store  *store.Store
	logger core.ILogger
	now    func() time.Time
}

func NewReflector(st *store.Store, logger core.ILogger) *Reflector {
	return &Reflector{
		store:  st,
		logger: logger.WithField("component", "reflection"),
		now:    time.Now,
	}
}

// OpenParams captures the fields recorded when a position opens
type OpenParams struct {
	DecisionID       string
	Decision         core.Decision
	EntryPrice       float64
	SizeUSDT         float64
	MarketConditions string
}

// RecordOpen inserts a pending reflection row. A second call with the same
// decision id replaces the first.
func (r *Reflector) RecordOpen(ctx context.Context, p OpenParams) error {
	row := store.ReflectionRow{
		DecisionID:       p.DecisionID,
		Symbol:           p.Decision.Symbol,
		Action:           p.Decision.Action,
		Outcome:          store.OutcomePending,
		EntryPrice:       p.EntryPrice,
		EntryTs:          r.now().UnixMilli(),
		Confidence:       p.Decision.Confidence,
		Leverage:         p.Decision.Leverage,
		SizeUSDT:         p.SizeUSDT,
		Reasoning:        p.Decision.Reasoning,
		MarketConditions: p.MarketConditions,
	}
	if err := r.store.UpsertReflection(ctx, row); err != nil {
		return err
	}
	r.logger.Info("reflection opened", "decisionId", p.DecisionID, "symbol", p.Decision.Symbol)
	return nil
}

// RecordClose finalises the reflection for an open decision. A missing open
// row is logged and skipped, not an error.
func (r *Reflector) RecordClose(ctx context.Context, openDecisionID string, exitPrice, pnlAmount float64) error {
	row, err := r.store.GetReflection(ctx, openDecisionID)
	if err != nil {
		return err
	}
	if row == nil {
		r.logger.Warn("no open reflection to close", "decisionId", openDecisionID)
		return nil
	}

	now := r.now()
	row.ExitPrice = exitPrice
	row.ExitTs = now.UnixMilli()
	row.PnlAmount = pnlAmount
	row.HoldingTimeMinutes = holdingMinutes(row.EntryTs, now)
	if row.SizeUSDT > 0 {
		row.PnlPercentage = pnlAmount / row.SizeUSDT * 100
	}
	row.Outcome = outcomeFor(pnlAmount)

	applyAnalytics(row)

	if err := r.store.UpdateReflectionOutcome(ctx, *row); err != nil {
		return err
	}
	r.logger.Info("reflection closed",
		"decisionId", openDecisionID, "outcome", row.Outcome,
		"pnl", pnlAmount, "holdingMinutes", row.HoldingTimeMinutes)
	return nil
}

// AutoUpdateOrphans finds pending reflections whose position no longer
// exists and resolves them from closed-PnL history. Returns the number of
// rows updated.
func (r *Reflector) AutoUpdateOrphans(ctx context.Context, livePositions []core.Position, closed []core.ClosedPnL) (int, error) {
	pending, err := r.store.ListPendingReflections(ctx)
	if err != nil {
		return 0, err
	}
	telemetry.GetGlobalMetrics().SetPendingReflections(int64(len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}

	now := r.now()
	updated := 0
	for i := range pending {
		row := &pending[i]
		side := sideFromAction(row.Action)
		if side == "" {
			continue
		}
		if hasLivePosition(livePositions, row.Symbol, side) {
			continue
		}

		if match := findClosedMatch(closed, row.Symbol, side, row.EntryTs, now); match != nil {
			row.ExitPrice = match.CloseAvgPx.InexactFloat64()
			row.ExitTs = match.CloseTime.UnixMilli()
			row.PnlAmount = match.RealizedPnl.InexactFloat64()
			row.HoldingTimeMinutes = holdingMinutesBetween(row.EntryTs, row.ExitTs)
			if row.SizeUSDT > 0 {
				row.PnlPercentage = row.PnlAmount / row.SizeUSDT * 100
			}
			row.Outcome = outcomeFor(row.PnlAmount)
			applyAnalytics(row)
			row.Insights = joinNotes(row.Insights, "auto-detected: TP/SL close")
		} else {
			row.Outcome = store.OutcomeBreakeven
			row.ExitTs = now.UnixMilli()
			row.HoldingTimeMinutes = holdingMinutesBetween(row.EntryTs, row.ExitTs)
			row.Insights = joinNotes(row.Insights,
				"position closed but no pnl record found in exchange history")
		}

		if err := r.store.UpdateReflectionOutcome(ctx, *row); err != nil {
			r.logger.Error("orphan update failed", "decisionId", row.DecisionID, "error", err)
			continue
		}
		updated++
		r.logger.Info("orphan reflection resolved",
			"decisionId", row.DecisionID, "symbol", row.Symbol, "outcome", row.Outcome)
	}

	return updated, nil
}

// Stats aggregates terminal reflections for a symbol over a trailing window
type Stats struct {
	TotalTrades    int
	Wins           int
	Losses         int
	Breakevens     int
	WinRate        float64
	AvgPnl         float64
	TotalPnl       float64
	AvgHoldingTime float64
}

func (r *Reflector) Stats(ctx context.Context, symbol string, days int) (Stats, error) {
	rows, err := r.store.ListReflections(ctx, symbol, days, r.now())
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	var holdingSum float64
	for _, row := range rows {
		s.TotalTrades++
		s.TotalPnl += row.PnlAmount
		holdingSum += float64(row.HoldingTimeMinutes)
		switch row.Outcome {
		case store.OutcomeProfit:
			s.Wins++
		case store.OutcomeLoss:
			s.Losses++
		default:
			s.Breakevens++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
		s.AvgPnl = s.TotalPnl / float64(s.TotalTrades)
		s.AvgHoldingTime = holdingSum / float64(s.TotalTrades)
	}
	return s, nil
}

func outcomeFor(pnl float64) string {
	switch {
	case pnl > profitThreshold:
		return store.OutcomeProfit
	case pnl < lossThreshold:
		return store.OutcomeLoss
	default:
		return store.OutcomeBreakeven
	}
}

func holdingMinutes(entryTs int64, now time.Time) int64 {
	return holdingMinutesBetween(entryTs, now.UnixMilli())
}

func holdingMinutesBetween(entryTs, exitTs int64) int64 {
	if entryTs <= 0 || exitTs < entryTs {
		return 0
	}
	return int64(math.Round(float64(exitTs-entryTs) / 60_000))
}

// applyAnalytics fills the deterministic reflection strings. Same inputs
// always yield the same outputs.
func applyAnalytics(row *store.ReflectionRow) {
	var mistakes, insights, improvement []string

	switch row.Outcome {
	case store.OutcomeLoss:
		if math.Abs(row.PnlPercentage) > 8 {
			mistakes = append(mistakes, "stop-loss too wide or not honoured")
		}
		if row.HoldingTimeMinutes < 30 {
			mistakes = append(mistakes, "entry timing poor")
		}
	case store.OutcomeProfit:
		if row.PnlPercentage < 3 {
			insights = append(insights, "exited too early")
		}
		if row.HoldingTimeMinutes > 360 {
			insights = append(insights, "trend-holding correct")
		}
	}

	aligned := (row.Confidence > 75 && row.Outcome == store.OutcomeProfit) ||
		(row.Confidence < 60 && row.Outcome == store.OutcomeLoss)
	if aligned {
		row.ActualVsExpected = "aligned"
	} else {
		row.ActualVsExpected = "calibration drift"
		improvement = append(improvement, "recalibrate signal threshold")
	}

	row.Mistakes = strings.Join(mistakes, "; ")
	row.Insights = strings.Join(insights, "; ")
	row.Improvement = strings.Join(improvement, "; ")
}

func joinNotes(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

// sideFromAction derives the position side from an OPEN_ action suffix
func sideFromAction(action string) core.PositionSide {
	switch {
	case strings.HasSuffix(action, "_LONG"):
		return core.SideLong
	case strings.HasSuffix(action, "_SHORT"):
		return core.SideShort
	}
	return ""
}

func hasLivePosition(positions []core.Position, symbol string, side core.PositionSide) bool {
	for _, pos := range positions {
		if pos.Side == side && strings.HasPrefix(pos.InstID, symbol+"-") {
			return true
		}
	}
	return false
}

// findClosedMatch scans closed-PnL history for a record with matching coin
// and direction whose close time falls inside [entryTs, now].
func findClosedMatch(closed []core.ClosedPnL, symbol string, side core.PositionSide, entryTs int64, now time.Time) *core.ClosedPnL {
	for i := range closed {
		c := &closed[i]
		if c.Side != side || !strings.HasPrefix(c.InstID, symbol+"-") {
			continue
		}
		ts := c.CloseTime.UnixMilli()
		if ts >= entryTs && ts <= now.UnixMilli() {
			return c
		}
	}
	return nil
}
