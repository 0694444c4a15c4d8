package broker

import (
	"jax-backtest-kernel/domain"
)

// OnTick advances the broker's notion of current time, records the tick,
// and checks every open position on gt.Symbol for SL/TP. SL is checked
// before TP: if a tick's price would satisfy both simultaneously, SL wins.
func (b *SimulatedBroker) OnTick(gt domain.GlobalTick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentTime = gt.Time
	b.currentTickSymbol = gt.Symbol
	b.currentTickBySymbol[gt.Symbol] = gt.Tick

	tickets, ok := b.positionsBySymbol[gt.Symbol]
	if !ok || len(tickets) == 0 {
		return
	}

	// Copy ticket IDs before iterating since closePositionLocked mutates
	// the map we'd otherwise be ranging over.
	ids := make([]uint64, 0, len(tickets))
	for id := range tickets {
		ids = append(ids, id)
	}

	for _, ticket := range ids {
		pos, ok := b.positions[ticket]
		if !ok {
			continue
		}
		b.checkStopsLocked(pos, gt.Tick)
	}
}

func (b *SimulatedBroker) checkStopsLocked(pos *domain.Position, tick domain.Tick) {
	bid, ask := b.quoteLocked(tick)
	switch pos.Side {
	case domain.Buy:
		if pos.SLPrice > 0 && bid <= pos.SLPrice {
			b.closePositionLocked(pos, bid, tick.Time, domain.CloseSL)
			return
		}
		if pos.TPPrice > 0 && bid >= pos.TPPrice {
			b.closePositionLocked(pos, bid, tick.Time, domain.CloseTP)
		}
	case domain.Sell:
		if pos.SLPrice > 0 && ask >= pos.SLPrice {
			b.closePositionLocked(pos, ask, tick.Time, domain.CloseSL)
			return
		}
		if pos.TPPrice > 0 && ask <= pos.TPPrice {
			b.closePositionLocked(pos, ask, tick.Time, domain.CloseTP)
		}
	}
}

// quoteLocked derives the effective bid/ask from a tick under the spread
// policy: a FixedPoints spread is re-centered on the tick's mid price,
// otherwise the tick's own quotes pass through.
func (b *SimulatedBroker) quoteLocked(tick domain.Tick) (bid, ask float64) {
	if b.spread.FixedPoints > 0 && !b.spread.FromTick {
		point := b.symbolInfo[tick.Symbol].Point
		if point <= 0 {
			point = 1
		}
		half := b.spread.FixedPoints * point / 2
		mid := tick.Mid()
		return mid - half, mid + half
	}
	return tick.Bid, tick.Ask
}
