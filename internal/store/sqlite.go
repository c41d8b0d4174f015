// Package store persists decisions, reflections and runtime config in sqlite
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	apperrors "trading_agent/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id     TEXT PRIMARY KEY,
	title  TEXT NOT NULL,
	desc   TEXT NOT NULL DEFAULT '',
	ts     INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	prompt TEXT NOT NULL DEFAULT '',
	reply  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);

CREATE TABLE IF NOT EXISTS trade_reflections (
	decision_id          TEXT UNIQUE NOT NULL,
	symbol               TEXT NOT NULL,
	action               TEXT NOT NULL,
	outcome              TEXT NOT NULL DEFAULT 'pending',
	pnl_amount           REAL NOT NULL DEFAULT 0,
	pnl_percentage       REAL NOT NULL DEFAULT 0,
	holding_time_minutes INTEGER NOT NULL DEFAULT 0,
	entry_price          REAL NOT NULL DEFAULT 0,
	exit_price           REAL NOT NULL DEFAULT 0,
	entry_ts             INTEGER NOT NULL DEFAULT 0,
	exit_ts              INTEGER NOT NULL DEFAULT 0,
	mistakes             TEXT NOT NULL DEFAULT '',
	insights             TEXT NOT NULL DEFAULT '',
	improvement          TEXT NOT NULL DEFAULT '',
	confidence           REAL NOT NULL DEFAULT 0,
	leverage             INTEGER NOT NULL DEFAULT 0,
	size_usdt            REAL NOT NULL DEFAULT 0,
	actual_vs_expected   TEXT NOT NULL DEFAULT '',
	reasoning            TEXT NOT NULL DEFAULT '',
	market_conditions    TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reflections_decision ON trade_reflections(decision_id);
CREATE INDEX IF NOT EXISTS idx_reflections_symbol ON trade_reflections(symbol);
CREATE INDEX IF NOT EXISTS idx_reflections_outcome ON trade_reflections(outcome);

CREATE TABLE IF NOT EXISTS coin_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const enabledCoinsKey = "enabled_coins"

// Decision statuses as stored
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Outcome values for trade reflections
const (
	OutcomePending   = "pending"
	OutcomeProfit    = "profit"
	OutcomeLoss      = "loss"
	OutcomeBreakeven = "breakeven"
)

// DecisionRecord is one row of the decisions table
type DecisionRecord struct {
	ID     string
	Title  string
	Desc   string
	Ts     int64
	Status string
	Prompt string
	Reply  string
}

// ReflectionRow is one row of the trade_reflections table
type ReflectionRow struct {
	DecisionID         string
	Symbol             string
	Action             string
	Outcome            string
	PnlAmount          float64
	PnlPercentage      float64
	HoldingTimeMinutes int64
	EntryPrice         float64
	ExitPrice          float64
	EntryTs            int64
	ExitTs             int64
	Mistakes           string
	Insights           string
	Improvement        string
	Confidence         float64
	Leverage           int
	SizeUSDT           float64
	ActualVsExpected   string
	Reasoning          string
	MarketConditions   string
	CreatedAt          int64
}

// Store wraps a sqlite database with a single-connection writer
type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies the schema.
// Writes are serialised by capping the pool at one connection.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrStoreFailure, dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", apperrors.ErrStoreFailure, err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", apperrors.ErrStoreFailure, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", apperrors.ErrStoreFailure, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertDecision writes a new decision row
func (s *Store) InsertDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.Ts == 0 {
		rec.Ts = time.Now().UnixMilli()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, title, desc, ts, status, prompt, reply) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Desc, rec.Ts, rec.Status, rec.Prompt, rec.Reply)
	if err != nil {
		return fmt.Errorf("%w: insert decision %s: %v", apperrors.ErrStoreFailure, rec.ID, err)
	}
	return nil
}

// UpdateDecisionStatus marks an existing decision approved or rejected
func (s *Store) UpdateDecisionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE decisions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("%w: update decision %s: %v", apperrors.ErrStoreFailure, id, err)
	}
	return nil
}

// ListDecisions returns the most recent decisions, newest first
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, desc, ts, status, prompt, reply FROM decisions ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list decisions: %v", apperrors.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Desc, &rec.Ts, &rec.Status, &rec.Prompt, &rec.Reply); err != nil {
			return nil, fmt.Errorf("%w: scan decision: %v", apperrors.ErrStoreFailure, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertReflection inserts a reflection row, replacing any row with the
// same decision id.
func (s *Store) UpsertReflection(ctx context.Context, row ReflectionRow) error {
	if row.CreatedAt == 0 {
		row.CreatedAt = time.Now().UnixMilli()
	}
	if row.Outcome == "" {
		row.Outcome = OutcomePending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_reflections (
			decision_id, symbol, action, outcome, pnl_amount, pnl_percentage,
			holding_time_minutes, entry_price, exit_price, entry_ts, exit_ts,
			mistakes, insights, improvement, confidence, leverage, size_usdt,
			actual_vs_expected, reasoning, market_conditions, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.DecisionID, row.Symbol, row.Action, row.Outcome, row.PnlAmount, row.PnlPercentage,
		row.HoldingTimeMinutes, row.EntryPrice, row.ExitPrice, row.EntryTs, row.ExitTs,
		row.Mistakes, row.Insights, row.Improvement, row.Confidence, row.Leverage, row.SizeUSDT,
		row.ActualVsExpected, row.Reasoning, row.MarketConditions, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert reflection %s: %v", apperrors.ErrStoreFailure, row.DecisionID, err)
	}
	return nil
}

// UpdateReflectionOutcome writes the terminal fields of a reflection
func (s *Store) UpdateReflectionOutcome(ctx context.Context, row ReflectionRow) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_reflections SET
			outcome = ?, pnl_amount = ?, pnl_percentage = ?, holding_time_minutes = ?,
			exit_price = ?, exit_ts = ?, mistakes = ?, insights = ?, improvement = ?,
			actual_vs_expected = ?
		WHERE decision_id = ?`,
		row.Outcome, row.PnlAmount, row.PnlPercentage, row.HoldingTimeMinutes,
		row.ExitPrice, row.ExitTs, row.Mistakes, row.Insights, row.Improvement,
		row.ActualVsExpected, row.DecisionID)
	if err != nil {
		return fmt.Errorf("%w: update reflection %s: %v", apperrors.ErrStoreFailure, row.DecisionID, err)
	}
	return nil
}

// GetReflection returns the row for a decision id, or nil when absent
func (s *Store) GetReflection(ctx context.Context, decisionID string) (*ReflectionRow, error) {
	row := s.db.QueryRowContext(ctx, reflectionSelect+` WHERE decision_id = ?`, decisionID)
	rec, err := scanReflection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get reflection %s: %v", apperrors.ErrStoreFailure, decisionID, err)
	}
	return rec, nil
}

// ListPendingReflections returns every reflection still awaiting an outcome
func (s *Store) ListPendingReflections(ctx context.Context) ([]ReflectionRow, error) {
	rows, err := s.db.QueryContext(ctx, reflectionSelect+` WHERE outcome = ? ORDER BY entry_ts ASC`, OutcomePending)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending reflections: %v", apperrors.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []ReflectionRow
	for rows.Next() {
		rec, err := scanReflection(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan reflection: %v", apperrors.ErrStoreFailure, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListReflections returns terminal reflections for a symbol (or all symbols
// when symbol is empty) with entry_ts inside the last `days` days.
func (s *Store) ListReflections(ctx context.Context, symbol string, days int, now time.Time) ([]ReflectionRow, error) {
	query := reflectionSelect + ` WHERE outcome != ?`
	args := []interface{}{OutcomePending}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if days > 0 {
		query += ` AND entry_ts >= ?`
		args = append(args, now.AddDate(0, 0, -days).UnixMilli())
	}
	query += ` ORDER BY entry_ts DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list reflections: %v", apperrors.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []ReflectionRow
	for rows.Next() {
		rec, err := scanReflection(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan reflection: %v", apperrors.ErrStoreFailure, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const reflectionSelect = `
	SELECT decision_id, symbol, action, outcome, pnl_amount, pnl_percentage,
		holding_time_minutes, entry_price, exit_price, entry_ts, exit_ts,
		mistakes, insights, improvement, confidence, leverage, size_usdt,
		actual_vs_expected, reasoning, market_conditions, created_at
	FROM trade_reflections`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReflection(r rowScanner) (*ReflectionRow, error) {
	var rec ReflectionRow
	err := r.Scan(&rec.DecisionID, &rec.Symbol, &rec.Action, &rec.Outcome,
		&rec.PnlAmount, &rec.PnlPercentage, &rec.HoldingTimeMinutes,
		&rec.EntryPrice, &rec.ExitPrice, &rec.EntryTs, &rec.ExitTs,
		&rec.Mistakes, &rec.Insights, &rec.Improvement, &rec.Confidence,
		&rec.Leverage, &rec.SizeUSDT, &rec.ActualVsExpected,
		&rec.Reasoning, &rec.MarketConditions, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEnabledCoins reads the enabled-symbol list from coin_config.
// Missing key returns nil with no error so callers can fall back to config.
func (s *Store) GetEnabledCoins(ctx context.Context) ([]string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM coin_config WHERE key = ?`, enabledCoinsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get enabled coins: %v", apperrors.ErrStoreFailure, err)
	}

	var coins []string
	if err := json.Unmarshal([]byte(value), &coins); err != nil {
		return nil, fmt.Errorf("%w: decode enabled coins: %v", apperrors.ErrStoreFailure, err)
	}
	return coins, nil
}

// SetEnabledCoins stores the enabled-symbol list as JSON
func (s *Store) SetEnabledCoins(ctx context.Context, coins []string) error {
	value, err := json.Marshal(coins)
	if err != nil {
		return fmt.Errorf("%w: encode enabled coins: %v", apperrors.ErrStoreFailure, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO coin_config (key, value, updated_at) VALUES (?, ?, ?)`,
		enabledCoinsKey, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: set enabled coins: %v", apperrors.ErrStoreFailure, err)
	}
	return nil
}
