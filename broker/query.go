package broker

import (
	"time"

	"jax-backtest-kernel/domain"
)

// CurrentPrice returns the best price a new order on symbol/side would fill
// at right now: ask for Buy, bid for Sell.
func (b *SimulatedBroker) CurrentPrice(symbol string, side domain.Side) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tick, ok := b.currentTickBySymbol[symbol]
	if !ok {
		return 0, false
	}
	bid, ask := b.quoteLocked(tick)
	if side == domain.Buy {
		return ask, true
	}
	return bid, true
}

// CurrentTime returns the timestamp of the most recently processed tick.
func (b *SimulatedBroker) CurrentTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTime
}

// OpenPositions returns a snapshot of open positions for symbol (all
// symbols if symbol == ""), optionally filtered by magic number (ignored
// if magic == 0). CurrentPrice/Profit are computed lazily for the
// snapshot.
func (b *SimulatedBroker) OpenPositions(symbol string, magic int64) []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Position
	for _, pos := range b.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		if magic != 0 && pos.MagicNumber != magic {
			continue
		}
		out = append(out, b.withFloatingLocked(*pos))
	}
	return out
}

// PositionView returns a single position's lazily-computed snapshot.
func (b *SimulatedBroker) PositionView(ticket uint64) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[ticket]
	if !ok {
		return domain.Position{}, false
	}
	return b.withFloatingLocked(*pos), true
}

func (b *SimulatedBroker) withFloatingLocked(pos domain.Position) domain.Position {
	tick, ok := b.currentTickBySymbol[pos.Symbol]
	if !ok {
		return pos
	}
	bid, ask := b.quoteLocked(tick)
	current := bid
	if pos.Side == domain.Sell {
		current = ask
	}
	pos.CurrentPrice = current
	pos.Profit = realizedPnL(&pos, current, b.symbolInfo[pos.Symbol])
	return pos
}

// Equity returns balance plus the floating P&L of all open positions,
// computed lazily from current bid/ask.
func (b *SimulatedBroker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked()
}

func (b *SimulatedBroker) equityLocked() float64 {
	equity := b.balance
	for _, pos := range b.positions {
		equity += b.withFloatingLocked(*pos).Profit
	}
	return equity
}

// Balance returns the realized balance (excludes floating P&L).
func (b *SimulatedBroker) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// ClosedTrades returns a copy of the append-only closed-trade log.
func (b *SimulatedBroker) ClosedTrades() []domain.ClosedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ClosedTrade, len(b.closedTrades))
	copy(out, b.closedTrades)
	return out
}

// OpenTicketCount returns the number of currently open positions, used by
// RiskManager's max_positions cap.
func (b *SimulatedBroker) OpenTicketCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// CloseAllAtMid force-closes every open position at its symbol's current
// mid price, used for end-of-run liquidation and user cancellation.
func (b *SimulatedBroker) CloseAllAtMid(ts time.Time, reason domain.CloseReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tickets := make([]uint64, 0, len(b.positions))
	for t := range b.positions {
		tickets = append(tickets, t)
	}
	for _, ticket := range tickets {
		pos := b.positions[ticket]
		tick, ok := b.currentTickBySymbol[pos.Symbol]
		if !ok {
			continue
		}
		b.closePositionLocked(pos, tick.Mid(), ts, reason)
	}
}
