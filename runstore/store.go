package runstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"jax-backtest-kernel/controller"
)

// pqStringArray writes a Go []string as Postgres's native text[] literal
// syntax ({a,b,c}) and reads it back, sidestepping a dependency on a
// separate array-type library for the one array column this store
// writes. Scan splits on every comma and only trims surrounding quotes,
// so elements containing commas or quotes do not come back unchanged.
type pqStringArray []string

func (a pqStringArray) Value() (driver.Value, error) {
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

func (a *pqStringArray) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("runstore: cannot scan %T into pqStringArray", src)
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*a = pqStringArray{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(pqStringArray, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	*a = out
	return nil
}

// Store persists controller.Summary rows to Postgres. A nil *Store is
// valid: every method on it is a no-op, so callers that did not configure
// a DSN can pass nil through unconditionally rather than branching on
// "is persistence enabled" everywhere.
type Store struct {
	db *DB
}

// Open connects (with migrations applied) and returns a ready Store.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	db, err := ConnectWithMigrations(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool. Safe to call on a nil
// Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun records one completed backtest run. configJSON is an opaque
// blob (typically the marshalled config.Engine) kept for audit/replay
// purposes; pass nil to omit it. A nil Store silently accepts the call,
// so the controller's end-of-run path does not need to know whether
// persistence is configured.
func (s *Store) SaveRun(ctx context.Context, summary controller.Summary, symbols []string, configJSON []byte) error {
	if s == nil || s.db == nil {
		return nil
	}

	var cfgBlob interface{}
	if configJSON != nil {
		cfgBlob = json.RawMessage(configJSON)
	}

	const q = `
INSERT INTO backtest_runs (
	run_id, started_at, finished_at, symbols, cancelled,
	ticks_processed, candles_completed, signals_emitted, orders_placed,
	signals_dropped_risk, signals_dropped_other, trades_closed,
	final_balance, final_equity, config_json
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	cancelled = EXCLUDED.cancelled,
	ticks_processed = EXCLUDED.ticks_processed,
	candles_completed = EXCLUDED.candles_completed,
	signals_emitted = EXCLUDED.signals_emitted,
	orders_placed = EXCLUDED.orders_placed,
	signals_dropped_risk = EXCLUDED.signals_dropped_risk,
	signals_dropped_other = EXCLUDED.signals_dropped_other,
	trades_closed = EXCLUDED.trades_closed,
	final_balance = EXCLUDED.final_balance,
	final_equity = EXCLUDED.final_equity,
	config_json = EXCLUDED.config_json`

	_, err := s.db.ExecContext(ctx, q,
		summary.RunID, summary.StartedAt, summary.FinishedAt, pqStringArray(symbols), summary.Cancelled,
		summary.TicksProcessed, summary.CandlesCompleted, summary.SignalsEmitted, summary.OrdersPlaced,
		summary.SignalsDroppedRisk, summary.SignalsDroppedOther, summary.TradesClosed,
		summary.FinalBalance, summary.FinalEquity, cfgBlob,
	)
	if err != nil {
		return fmt.Errorf("runstore: save run %s: %w", summary.RunID, err)
	}
	return nil
}

// RunRecord is one row read back from backtest_runs.
type RunRecord struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Symbols        []string
	Cancelled      bool
	TicksProcessed uint64
	TradesClosed   uint64
	FinalEquity    float64
}

// RecentRuns returns the most recent limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, started_at, finished_at, symbols, cancelled, ticks_processed, trades_closed, final_equity
FROM backtest_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: query recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var symbols pqStringArray
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &symbols, &r.Cancelled, &r.TicksProcessed, &r.TradesClosed, &r.FinalEquity); err != nil {
			return nil, fmt.Errorf("runstore: scan run row: %w", err)
		}
		r.Symbols = symbols
		out = append(out, r)
	}
	return out, rows.Err()
}
