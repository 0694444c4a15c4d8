// Package orders implements the thin signal-to-order pipeline: cooldown
// check, risk gate, lot sizing, broker submission. Kept as its own stage
// so the controller's replay loop stays a pure dispatch loop.
package orders

import (
	"sync"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/risk"
)

// DropReason records why a signal never became an order.
type DropReason string

const (
	DropCooldown DropReason = "Cooldown"
	DropRiskGate DropReason = "RiskGate"
	DropZeroLot  DropReason = "ZeroLot"
	DropRejected DropReason = "OrderRejected"
)

// Result is what execute() reports back to the controller for counters
// and logging; it is not the domain.OrderResult itself.
type Result struct {
	Ticket  uint64
	Skipped bool
	Drop    DropReason
	Detail  string
}

// Config bundles the collaborators OrderManager needs. Closed-trade
// persistence happens downstream, in the controller, once a ticket
// actually closes — Execute only needs to know how to open one.
type Config struct {
	Broker     *broker.SimulatedBroker
	Risk       *risk.Manager
	Cooldown   time.Duration // global cooldown between fills; 0 disables
	SymbolInfo map[string]domain.SymbolInfo
}

// Manager is the OrderManager/OrderExecutor: a stateless pipeline over a
// SimulatedBroker and RiskManager, with one piece of state — the last
// fill time, for the global cooldown.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	lastFill time.Time
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Execute runs the full signal pipeline: cooldown → risk gate → lot sizing
// → broker submission.
func (m *Manager) Execute(sig domain.TradeSignal) Result {
	now := m.cfg.Broker.CurrentTime()

	if m.cooldownActiveLocked(now) {
		return Result{Skipped: true, Drop: DropCooldown, Detail: "global cooldown active"}
	}

	confirmationsComplete := len(sig.Confirmations) > 0

	open := m.openSummaries(sig.Symbol)
	equity := m.cfg.Broker.Equity()
	ok, reason := m.cfg.Risk.CanOpen(sig.Symbol, sig.Side, sig.StrategyID, sig.RangeID, confirmationsComplete, open, equity)
	if !ok {
		return Result{Skipped: true, Drop: DropRiskGate, Detail: reason}
	}

	entry := sig.EntryHint
	if entry == 0 {
		if p, ok := m.cfg.Broker.CurrentPrice(sig.Symbol, sig.Side); ok {
			entry = p
		}
	}

	volume := sig.RequestedVolume
	if volume <= 0 {
		info, ok := m.symbolInfoFor(sig.Symbol)
		if !ok {
			return Result{Skipped: true, Drop: DropZeroLot, Detail: "no symbol info"}
		}
		riskPct := sig.RequestedRiskPct
		if riskPct <= 0 {
			riskPct = m.cfg.Risk.Policy().MaxPerTradeRiskPct
		}
		volume = risk.SizeLot(equity, entry, sig.SLPrice, riskPct, info)
	}
	if volume <= 0 {
		return Result{Skipped: true, Drop: DropZeroLot, Detail: "sized lot rounds to zero"}
	}

	comment := sig.Comment
	if comment == "" {
		comment = domain.FormatComment(sig.StrategyID, sig.RangeID, sig.Confirmations)
	}

	req := domain.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Volume:     volume,
		SLPrice:    sig.SLPrice,
		TPPrice:    sig.TPPrice,
		Comment:    comment,
		StrategyID: sig.StrategyID,
		RangeID:    sig.RangeID,
	}
	res := m.cfg.Broker.PlaceMarketOrder(req)
	if !res.Accepted {
		return Result{Skipped: true, Drop: DropRejected, Detail: string(res.Reject) + ": " + res.Reason}
	}

	m.mu.Lock()
	m.lastFill = now
	m.mu.Unlock()

	return Result{Ticket: res.Ticket}
}

func (m *Manager) cooldownActiveLocked(now time.Time) bool {
	if m.cfg.Cooldown <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFill.IsZero() {
		return false
	}
	return now.Sub(m.lastFill) < m.cfg.Cooldown
}

func (m *Manager) openSummaries(symbol string) []risk.OpenPositionSummary {
	positions := m.cfg.Broker.OpenPositions("", 0)
	out := make([]risk.OpenPositionSummary, 0, len(positions))
	for _, p := range positions {
		info, ok := m.symbolInfoFor(p.Symbol)
		point, pointValue := 0.0, 0.0
		if ok {
			point = info.Point
			pointValue = info.TickValue * info.Point / info.TickSize
		}
		out = append(out, risk.OpenPositionSummary{
			Symbol:     p.Symbol,
			Side:       p.Side,
			StrategyID: p.StrategyID,
			RangeID:    p.RangeID,
			EntryPrice: p.OpenPrice,
			SLPrice:    p.SLPrice,
			VolumeLots: p.VolumeLots,
			Point:      point,
			PointValue: pointValue,
		})
	}
	return out
}

func (m *Manager) symbolInfoFor(symbol string) (domain.SymbolInfo, bool) {
	info, ok := m.cfg.SymbolInfo[symbol]
	return info, ok
}
