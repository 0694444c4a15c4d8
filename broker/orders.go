package broker

import (
	"math"
	"time"

	"jax-backtest-kernel/domain"
)

// PlaceMarketOrder validates req against the symbol's SymbolInfo, derives a
// fill price with slippage, and — on success — opens a position. Rejections
// are reported, never fatal.
func (b *SimulatedBroker) PlaceMarketOrder(req domain.OrderRequest) domain.OrderResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	info, ok := b.symbolInfo[req.Symbol]
	if !ok {
		return domain.OrderResult{Reject: domain.RejectInvalidVolume, Reason: "unknown symbol " + req.Symbol}
	}

	if !validVolume(req.Volume, info) {
		return domain.OrderResult{Reject: domain.RejectInvalidVolume, Reason: "volume out of range or not a step multiple"}
	}

	tick, ok := b.currentTickBySymbol[req.Symbol]
	if !ok {
		return domain.OrderResult{Reject: domain.RejectInvalidVolume, Reason: "no tick seen yet for " + req.Symbol}
	}

	bid, ask := b.quoteLocked(tick)
	entry := ask
	if req.Side == domain.Sell {
		entry = bid
	}

	if req.SLPrice > 0 && !stopsOK(entry, req.SLPrice, info) {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "sl too close to entry"}
	}
	if req.TPPrice > 0 && !stopsOK(entry, req.TPPrice, info) {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "tp too close to entry"}
	}

	requiredMargin := req.Volume * info.ContractSize * entry / b.leverage
	if requiredMargin > b.availableMarginLocked() {
		return domain.OrderResult{Reject: domain.RejectNoMoney, Reason: "insufficient margin"}
	}

	fillPrice := applySlippage(entry, req.Side, req.Volume, b.slippage, info.Point)

	b.nextTicket++
	ticket := b.nextTicket
	pos := &domain.Position{
		Ticket:      ticket,
		Symbol:      req.Symbol,
		Side:        req.Side,
		VolumeLots:  req.Volume,
		OpenPrice:   fillPrice,
		OpenTime:    b.currentTime,
		SLPrice:     req.SLPrice,
		TPPrice:     req.TPPrice,
		MagicNumber: req.MagicNumber,
		Comment:     req.Comment,
		StrategyID:  req.StrategyID,
		RangeID:     req.RangeID,
	}
	b.positions[ticket] = pos
	if b.positionsBySymbol[req.Symbol] == nil {
		b.positionsBySymbol[req.Symbol] = make(map[uint64]struct{})
	}
	b.positionsBySymbol[req.Symbol][ticket] = struct{}{}

	return domain.OrderResult{Accepted: true, Ticket: ticket}
}

func validVolume(v float64, info domain.SymbolInfo) bool {
	if v < info.VolumeMin || v > info.VolumeMax {
		return false
	}
	if info.VolumeStep <= 0 {
		return true
	}
	steps := v / info.VolumeStep
	return math.Abs(steps-math.Round(steps)) < 1e-9
}

// stopsOK enforces the strict-inequality stops_level check: an SL/TP
// exactly stops_level*point away is still rejected.
func stopsOK(entry, stop float64, info domain.SymbolInfo) bool {
	if info.Point <= 0 {
		return true
	}
	// The tolerance keeps float noise in the price subtraction from pushing
	// a distance of exactly stops_level points over the limit.
	distPoints := math.Abs(entry-stop) / info.Point
	return distPoints-info.StopsLevel > 1e-9
}

// applySlippage worsens the fill by the policy's point distance: upward
// for a Buy, downward for a Sell.
func applySlippage(price float64, side domain.Side, volume float64, policy SlippagePolicy, point float64) float64 {
	if point <= 0 {
		point = 1
	}
	slip := policy.points(volume) * point
	if slip == 0 {
		return price
	}
	if side == domain.Buy {
		return price + slip
	}
	return price - slip
}

func (b *SimulatedBroker) availableMarginLocked() float64 {
	return b.balance
}

// ModifyPosition updates a position's SL/TP, validating the new stops
// against the symbol's stops_level just like order placement.
func (b *SimulatedBroker) ModifyPosition(ticket uint64, sl, tp float64) domain.OrderResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[ticket]
	if !ok {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "unknown ticket"}
	}
	info, ok := b.symbolInfo[pos.Symbol]
	if !ok {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "unknown symbol"}
	}
	ref := pos.OpenPrice
	if tick, ok := b.currentTickBySymbol[pos.Symbol]; ok {
		bid, ask := b.quoteLocked(tick)
		if pos.Side == domain.Buy {
			ref = bid
		} else {
			ref = ask
		}
	}
	if sl > 0 && !stopsOK(ref, sl, info) {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "sl too close to market"}
	}
	if tp > 0 && !stopsOK(ref, tp, info) {
		return domain.OrderResult{Reject: domain.RejectInvalidStops, Reason: "tp too close to market"}
	}
	pos.SLPrice = sl
	pos.TPPrice = tp
	return domain.OrderResult{Accepted: true, Ticket: ticket}
}

// MarkBreakevenApplied records that a position's stop has already been
// moved to breakeven, so TradeManager does not re-trigger the shift every
// cadence tick. A no-op for an unknown ticket.
func (b *SimulatedBroker) MarkBreakevenApplied(ticket uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[ticket]; ok {
		pos.BreakevenSet = true
	}
}

// ClosePosition force-closes ticket at the given price/time/reason, e.g.
// for manual closes or end-of-run liquidation. A non-existent ticket is a
// no-op; callers that need to know should check PositionView first.
func (b *SimulatedBroker) ClosePosition(ticket uint64, price float64, ts time.Time, reason domain.CloseReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[ticket]
	if !ok {
		b.logger.Printf("[broker] close of unknown ticket %d ignored", ticket)
		return
	}
	b.closePositionLocked(pos, price, ts, reason)
}

func (b *SimulatedBroker) closePositionLocked(pos *domain.Position, price float64, ts time.Time, reason domain.CloseReason) {
	info := b.symbolInfo[pos.Symbol]
	profit := realizedPnL(pos, price, info)
	b.balance += profit

	var confirmations []string
	if _, _, conf, err := domain.ParseComment(pos.Comment); err == nil {
		confirmations = conf
	}

	b.closedTrades = append(b.closedTrades, domain.ClosedTrade{
		Ticket:        pos.Ticket,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		VolumeLots:    pos.VolumeLots,
		OpenPrice:     pos.OpenPrice,
		OpenTime:      pos.OpenTime,
		ClosePrice:    price,
		CloseTime:     ts,
		CloseReason:   reason,
		SLPrice:       pos.SLPrice,
		TPPrice:       pos.TPPrice,
		MagicNumber:   pos.MagicNumber,
		StrategyID:    pos.StrategyID,
		RangeID:       pos.RangeID,
		Confirmations: confirmations,
		Profit:        profit,
	})

	delete(b.positions, pos.Ticket)
	if set, ok := b.positionsBySymbol[pos.Symbol]; ok {
		delete(set, pos.Ticket)
	}
}

func realizedPnL(pos *domain.Position, closePrice float64, info domain.SymbolInfo) float64 {
	if info.TickSize == 0 {
		return 0
	}
	return (closePrice - pos.OpenPrice) * pos.Side.Dir() * pos.VolumeLots * info.TickValue / info.TickSize
}
