// Package tradelog writes the append-only closed-trade log and equity
// curve a backtest run produces: one JSONL record appended per event,
// single owner, flushed per write. No readers race the writer during a
// run.
package tradelog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"jax-backtest-kernel/domain"
)

// TradeRecord is one line of the closed-trade log.
type TradeRecord struct {
	OpenTime      time.Time          `json:"open_time"`
	CloseTime     time.Time          `json:"close_time"`
	Ticket        uint64             `json:"ticket"`
	Symbol        string             `json:"symbol"`
	Side          string             `json:"side"`
	Volume        float64            `json:"volume"`
	OpenPrice     float64            `json:"open_price"`
	ClosePrice    float64            `json:"close_price"`
	SL            float64            `json:"sl"`
	TP            float64            `json:"tp"`
	Profit        float64            `json:"profit"`
	Reason        domain.CloseReason `json:"reason"`
	Magic         int64              `json:"magic"`
	StrategyID    string             `json:"strategy_id"`
	RangeID       string             `json:"range_id"`
	Confirmations string             `json:"confirmations"`
}

// FromClosedTrade converts a domain.ClosedTrade into its log record.
func FromClosedTrade(t domain.ClosedTrade) TradeRecord {
	return TradeRecord{
		OpenTime:      t.OpenTime,
		CloseTime:     t.CloseTime,
		Ticket:        t.Ticket,
		Symbol:        t.Symbol,
		Side:          t.Side.String(),
		Volume:        t.VolumeLots,
		OpenPrice:     t.OpenPrice,
		ClosePrice:    t.ClosePrice,
		SL:            t.SLPrice,
		TP:            t.TPPrice,
		Profit:        t.Profit,
		Reason:        t.CloseReason,
		Magic:         t.MagicNumber,
		StrategyID:    t.StrategyID,
		RangeID:       t.RangeID,
		Confirmations: strings.Join(t.Confirmations, ","),
	}
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time          time.Time `json:"time"`
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
	FloatingPnL   float64   `json:"floating_pnl"`
}

// Writer owns the two append-only logs for a single run. Both files are
// flushed after every write; the hot loop is not expected to call these
// at tick rate, only on trade close and on the configured equity-snapshot
// cadence.
type Writer struct {
	mu sync.Mutex

	tradeFile  *os.File
	tradeEnc   *json.Encoder
	equityFile *os.File
	equityEnc  *json.Encoder
}

// Open creates (or truncates) the trade log and equity curve files under
// dir.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: mkdir %q: %w", dir, err)
	}

	tf, err := os.Create(dir + "/trades.jsonl")
	if err != nil {
		return nil, fmt.Errorf("tradelog: create trade log: %w", err)
	}
	ef, err := os.Create(dir + "/equity_curve.jsonl")
	if err != nil {
		tf.Close()
		return nil, fmt.Errorf("tradelog: create equity curve: %w", err)
	}

	return &Writer{
		tradeFile:  tf,
		tradeEnc:   json.NewEncoder(tf),
		equityFile: ef,
		equityEnc:  json.NewEncoder(ef),
	}, nil
}

// WriteTrade appends one closed trade record.
func (w *Writer) WriteTrade(t domain.ClosedTrade) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.tradeEnc.Encode(FromClosedTrade(t)); err != nil {
		return fmt.Errorf("tradelog: write trade: %w", err)
	}
	return nil
}

// WriteEquityPoint appends one equity curve sample.
func (w *Writer) WriteEquityPoint(p EquityPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.equityEnc.Encode(p); err != nil {
		return fmt.Errorf("tradelog: write equity point: %w", err)
	}
	return nil
}

// Close flushes and closes both underlying files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err1 := w.tradeFile.Close()
	err2 := w.equityFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
