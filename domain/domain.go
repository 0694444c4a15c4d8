// Package domain holds the core value types shared across the backtest
// kernel: ticks, positions, trades, signals, and the order-side enums.
// Nothing here owns mutable engine state; that belongs to broker and
// controller.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is a trade direction.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "Buy"
	}
	return "Sell"
}

// Dir returns +1 for Buy and -1 for Sell, for direction-sensitive math.
func (s Side) Dir() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseSL       CloseReason = "SL"
	CloseTP       CloseReason = "TP"
	CloseManual   CloseReason = "Manual"
	CloseEndOfRun CloseReason = "EndOfRun"
)

// Tick is an immutable market event for one symbol. Ask >= Bid > 0 and,
// within a single symbol's sequence, Time is monotone non-decreasing.
type Tick struct {
	Time   time.Time
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Volume int64
}

// Mid returns the midpoint price, used for end-of-run forced closes.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// GlobalTick is a Tick placed in the cross-symbol merged timeline. Order is
// strictly by (Time, SeqNo); SeqNo is the tiebreaker assigned by the
// stream merger (e.g. symbol insertion order) so ties replay identically.
type GlobalTick struct {
	Tick
	SeqNo uint64
}

// SymbolInfo is broker-independent instrument metadata, loaded once per
// symbol and immutable for the duration of a run.
type SymbolInfo struct {
	Symbol       string
	Point        float64
	Digits       int
	TickSize     float64
	TickValue    float64
	ContractSize float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	StopsLevel   float64 // minimum SL/TP distance, in points
	TradeMode    string
}

// Position is an open trade, exclusively owned and mutated by the broker
// (and, for sl/tp, by the trade manager through the broker's API).
type Position struct {
	Ticket       uint64
	Symbol       string
	Side         Side
	VolumeLots   float64
	OpenPrice    float64
	OpenTime     time.Time
	SLPrice      float64 // 0 = none
	TPPrice      float64 // 0 = none
	MagicNumber  int64
	Comment      string
	StrategyID   string
	RangeID      string
	BreakevenSet bool

	// CurrentPrice and Profit are lazy, only valid immediately after a
	// query such as Broker.PositionView; they are not kept fresh tick by
	// tick.
	CurrentPrice float64
	Profit       float64
}

// ClosedTrade is appended when a position closes.
type ClosedTrade struct {
	Ticket        uint64
	Symbol        string
	Side          Side
	VolumeLots    float64
	OpenPrice     float64
	OpenTime      time.Time
	ClosePrice    float64
	CloseTime     time.Time
	CloseReason   CloseReason
	SLPrice       float64
	TPPrice       float64
	MagicNumber   int64
	StrategyID    string
	RangeID       string
	Confirmations []string
	Profit        float64
}

// TradeSignal is a strategy's output. The engine, not the strategy,
// performs the resulting order.
type TradeSignal struct {
	Symbol           string
	Side             Side
	EntryHint        float64
	SLPrice          float64
	TPPrice          float64
	StrategyID       string
	RangeID          string
	Confirmations    []string
	RequestedVolume  float64 // if > 0, used verbatim instead of risk sizing
	RequestedRiskPct float64 // used when RequestedVolume == 0
	Comment          string
}

// OrderRequest is what OrderManager hands to the broker after risk sizing.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Volume      float64
	SLPrice     float64
	TPPrice     float64
	MagicNumber int64
	Comment     string
	StrategyID  string
	RangeID     string
}

// RejectReason enumerates why place_market_order refused an order.
type RejectReason string

const (
	RejectInvalidVolume RejectReason = "InvalidVolume"
	RejectInvalidStops  RejectReason = "InvalidStops"
	RejectNoMoney       RejectReason = "NoMoney"
)

// OrderResult is the broker's response to an order submission.
type OrderResult struct {
	Accepted bool
	Ticket   uint64
	Reject   RejectReason
	Reason   string
}

// FormatComment builds the STRATEGY|RANGE_ID|CONFIRMATIONS comment string.
// RangeID may be empty, producing STRATEGY|CONFIRMATIONS.
func FormatComment(strategyID, rangeID string, confirmations []string) string {
	conf := strings.Join(confirmations, ",")
	if rangeID == "" {
		return strategyID + "|" + conf
	}
	return strategyID + "|" + rangeID + "|" + conf
}

// ParseComment parses a position comment in either STRATEGY|RANGE_ID|
// CONFIRMATIONS or STRATEGY|CONFIRMATIONS form. The range form is
// disambiguated by field count: exactly 3 fields means range is present.
func ParseComment(comment string) (strategyID, rangeID string, confirmations []string, err error) {
	parts := strings.Split(comment, "|")
	switch len(parts) {
	case 2:
		strategyID = parts[0]
		confirmations = splitConfirmations(parts[1])
	case 3:
		strategyID = parts[0]
		rangeID = parts[1]
		confirmations = splitConfirmations(parts[2])
	default:
		return "", "", nil, fmt.Errorf("domain: malformed comment %q", comment)
	}
	return strategyID, rangeID, confirmations, nil
}

func splitConfirmations(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
