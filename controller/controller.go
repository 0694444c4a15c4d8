// Package controller implements the single-threaded replay loop that ties
// every other package together: it pulls the globally merged tick stream,
// advances the broker and candle builders, dispatches strategies on
// timeframe transitions, runs position management on a cadence, and
// writes the trade/equity logs.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/candle"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/observability"
	"jax-backtest-kernel/orders"
	"jax-backtest-kernel/strategy"
	"jax-backtest-kernel/tickstream"
	"jax-backtest-kernel/timeframe"
	"jax-backtest-kernel/tradelog"
	"jax-backtest-kernel/trademanager"
)

// cancelCheckEvery is how often (in ticks) the replay loop polls the
// context for cancellation.
const cancelCheckEvery = 1024

// Binding associates one strategy with the timeframes (if any) that
// should wake it up, for one symbol. A strategy with no RequiredTFs and
// TickOnly == true is dispatched on every tick for that symbol.
type Binding struct {
	Strategy    strategy.Strategy
	RequiredTFs map[timeframe.Timeframe]bool
	TickOnly    bool
}

// BindingFor derives a Binding from a strategy's own declared
// RequiredTimeframes, so callers don't have to build the set by hand.
func BindingFor(s strategy.Strategy) Binding {
	tfs := s.RequiredTimeframes()
	if len(tfs) == 0 {
		return Binding{Strategy: s, TickOnly: true}
	}
	set := make(map[timeframe.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		set[tf] = true
	}
	return Binding{Strategy: s, RequiredTFs: set}
}

// Config bundles every collaborator the replay loop needs. Broker is
// always required, and Orders whenever a binding can emit a signal; a nil
// TradeManager, TradeLog, Logger, TickFilter or ProgressFunc just turns
// that feature off.
type Config struct {
	Symbols  []string // insertion/tie-break order
	Broker   *broker.SimulatedBroker
	Builders map[string]*candle.Builder // keyed by symbol
	Bindings map[string][]Binding       // keyed by symbol

	Orders       *orders.Manager
	TradeManager *trademanager.Manager
	TradeLog     *tradelog.Writer
	Logger       *observability.AsyncLogger

	// TickFilter, if set, restricts which ticks reach the broker and
	// strategies (e.g. config.TickInfo / config.TickTrade); nil means
	// every tick is processed.
	TickFilter func(domain.Tick) bool

	RunID                  string
	EquitySnapshotInterval time.Duration // 0 disables equity snapshots
	ProgressInterval       time.Duration // 0 disables progress callbacks
	ProgressFunc           func(Progress)

	// ManagementCadence is how often ManageOpenPositions runs, measured
	// against tick timestamps (not wall clock) so replay stays
	// deterministic. Defaults to one minute.
	ManagementCadence time.Duration
}

// Progress is reported periodically (wall-clock cadence) so a long run
// can be observed without waiting for completion.
type Progress struct {
	RunID          string
	LastTickTime   time.Time
	TicksProcessed uint64
	Equity         float64
	OpenPositions  int
}

// Summary is returned when a run finishes, successfully or cancelled. Per
// the "never silently produce fewer trades without a warning" rule every
// drop reason has its own counter rather than a single opaque total.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool

	TicksProcessed   uint64
	CandlesCompleted uint64

	// SignalsEmitted counts every signal strategies produced, before any
	// drop: SignalsEmitted == OrdersPlaced + SignalsDroppedRisk +
	// SignalsDroppedOther.
	SignalsEmitted      uint64
	OrdersPlaced        uint64
	SignalsDroppedRisk  uint64
	SignalsDroppedOther uint64
	TradesClosed        uint64

	FinalBalance float64
	FinalEquity  float64
}

// errCancelled unwinds tickstream.Stream's call stack without treating
// user cancellation as a hard failure.
var errCancelled = errors.New("controller: run cancelled")

// Controller owns the mutable counters and cadence bookkeeping for one
// run; it is not safe for concurrent use (the replay loop is inherently
// single-threaded, per the tick stream's strict ordering).
type Controller struct {
	cfg Config

	tickCount        uint64
	candlesCompleted uint64
	signalsEmitted   uint64
	ordersPlaced     uint64
	droppedRisk      uint64
	droppedOther     uint64

	lastManaged    time.Time
	lastSnapshot   time.Time
	lastProgressAt time.Time
	closedSeen     int
}

// New constructs a Controller ready to run once. RunID defaults to a
// fresh identifier if unset.
func New(cfg Config) *Controller {
	if cfg.RunID == "" {
		cfg.RunID = observability.NewRunID()
	}
	if cfg.ManagementCadence <= 0 {
		cfg.ManagementCadence = time.Minute
	}
	return &Controller{cfg: cfg}
}

// Run streams every tick in bySymbol through streamer in chronological
// order, dispatching strategies and managing positions as it goes, until
// the stream is exhausted or ctx is cancelled. On cancellation the same
// end-of-run path runs (force-close at mid, final summary) as on natural
// completion, per the replay contract: a cancelled run still produces a
// coherent, inspectable result rather than a half-written one.
func (c *Controller) Run(ctx context.Context, streamer *tickstream.Loader, bySymbol map[string][]tickstream.DayFile) (Summary, error) {
	started := time.Now()
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{RunID: c.cfg.RunID})
	c.logEvent(ctx, "info", "run_started", map[string]any{"symbols": c.cfg.Symbols})

	cancelled := false
	err := streamer.Stream(bySymbol, func(gt domain.GlobalTick) error {
		c.tickCount++
		if c.tickCount == 1 || c.tickCount%cancelCheckEvery == 0 {
			select {
			case <-ctx.Done():
				cancelled = true
				return errCancelled
			default:
			}
		}
		return c.onTick(ctx, gt)
	})
	if err != nil && !errors.Is(err, errCancelled) {
		return Summary{}, fmt.Errorf("controller: replay: %w", err)
	}

	c.cfg.Broker.CloseAllAtMid(c.cfg.Broker.CurrentTime(), domain.CloseEndOfRun)
	c.flushClosedTrades(ctx)

	summary := Summary{
		RunID:               c.cfg.RunID,
		StartedAt:           started,
		FinishedAt:          time.Now(),
		Cancelled:           cancelled,
		TicksProcessed:      c.tickCount,
		CandlesCompleted:    c.candlesCompleted,
		SignalsEmitted:      c.signalsEmitted,
		OrdersPlaced:        c.ordersPlaced,
		SignalsDroppedRisk:  c.droppedRisk,
		SignalsDroppedOther: c.droppedOther,
		TradesClosed:        uint64(len(c.cfg.Broker.ClosedTrades())),
		FinalBalance:        c.cfg.Broker.Balance(),
		FinalEquity:         c.cfg.Broker.Equity(),
	}
	observability.SetEquity(c.cfg.RunID, summary.FinalEquity)
	observability.ObserveReplayDuration(c.cfg.RunID, summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	c.logEvent(ctx, "info", "run_finished", map[string]any{
		"cancelled":     cancelled,
		"ticks":         summary.TicksProcessed,
		"trades_closed": summary.TradesClosed,
		"final_equity":  summary.FinalEquity,
	})
	return summary, nil
}

func (c *Controller) onTick(ctx context.Context, gt domain.GlobalTick) error {
	if c.cfg.TickFilter != nil && !c.cfg.TickFilter(gt.Tick) {
		return nil
	}

	observability.IncTicksProcessed(gt.Symbol)
	c.cfg.Broker.OnTick(gt)
	c.flushClosedTrades(ctx)

	builder := c.cfg.Builders[gt.Symbol]
	var transitioned map[timeframe.Timeframe]bool
	if builder != nil {
		price := gt.Last
		if price == 0 {
			price = gt.Mid()
		}
		var err error
		transitioned, err = builder.IngestTick(price, gt.Volume, gt.Time)
		if err != nil {
			return fmt.Errorf("controller: ingest tick for %s: %w", gt.Symbol, err)
		}
		for tf, ok := range transitioned {
			if ok {
				c.candlesCompleted++
				observability.IncCandlesCompleted(gt.Symbol, string(tf))
			}
		}
	}

	c.dispatchStrategies(ctx, gt, transitioned, builder)
	c.manageCadence(gt.Time)
	c.snapshotEquity(ctx, gt.Time)
	c.reportProgress(gt.Time)
	return nil
}

func (c *Controller) dispatchStrategies(ctx context.Context, gt domain.GlobalTick, transitioned map[timeframe.Timeframe]bool, builder *candle.Builder) {
	for _, b := range c.cfg.Bindings[gt.Symbol] {
		if !b.TickOnly && !intersects(transitioned, b.RequiredTFs) {
			continue
		}
		sctx := strategy.NewContext(gt.Symbol, c.cfg.Broker, builder)
		sig := b.Strategy.OnTick(sctx)
		if sig == nil {
			continue
		}
		c.submit(ctx, *sig)
	}
}

func (c *Controller) submit(ctx context.Context, sig domain.TradeSignal) {
	c.signalsEmitted++
	res := c.cfg.Orders.Execute(sig)
	if res.Skipped {
		switch res.Drop {
		case orders.DropRiskGate:
			c.droppedRisk++
		default:
			c.droppedOther++
		}
		observability.IncSignalDropped(string(res.Drop))
		c.logEvent(ctx, "info", "signal_dropped", map[string]any{
			"symbol": sig.Symbol, "strategy_id": sig.StrategyID, "reason": string(res.Drop), "detail": res.Detail,
		})
		return
	}
	c.ordersPlaced++
	c.logEvent(ctx, "info", "order_placed", map[string]any{
		"symbol": sig.Symbol, "strategy_id": sig.StrategyID, "ticket": res.Ticket,
	})
}

func (c *Controller) manageCadence(tickTime time.Time) {
	boundary := tickTime.Truncate(c.cfg.ManagementCadence)
	if boundary.Equal(c.lastManaged) {
		return
	}
	c.lastManaged = boundary
	if c.cfg.TradeManager != nil {
		c.cfg.TradeManager.ManageOpenPositions()
	}
}

func (c *Controller) snapshotEquity(ctx context.Context, tickTime time.Time) {
	if c.cfg.EquitySnapshotInterval <= 0 || c.cfg.TradeLog == nil {
		return
	}
	if !c.lastSnapshot.IsZero() && tickTime.Sub(c.lastSnapshot) < c.cfg.EquitySnapshotInterval {
		return
	}
	c.lastSnapshot = tickTime
	open := c.cfg.Broker.OpenPositions("", 0)
	var floating float64
	for _, p := range open {
		floating += p.Profit
	}
	point := tradelog.EquityPoint{
		Time:          tickTime,
		Balance:       c.cfg.Broker.Balance(),
		Equity:        c.cfg.Broker.Equity(),
		OpenPositions: len(open),
		FloatingPnL:   floating,
	}
	observability.SetEquity(c.cfg.RunID, point.Equity)
	if err := c.cfg.TradeLog.WriteEquityPoint(point); err != nil {
		c.logEvent(ctx, "error", "equity_write_failed", map[string]any{"err": err.Error()})
	}
}

func (c *Controller) reportProgress(tickTime time.Time) {
	if c.cfg.ProgressInterval <= 0 || c.cfg.ProgressFunc == nil {
		return
	}
	now := time.Now()
	if !c.lastProgressAt.IsZero() && now.Sub(c.lastProgressAt) < c.cfg.ProgressInterval {
		return
	}
	c.lastProgressAt = now
	c.cfg.ProgressFunc(Progress{
		RunID:          c.cfg.RunID,
		LastTickTime:   tickTime,
		TicksProcessed: c.tickCount,
		Equity:         c.cfg.Broker.Equity(),
		OpenPositions:  len(c.cfg.Broker.OpenPositions("", 0)),
	})
}

// flushClosedTrades writes any newly closed trades (including SL/TP hits
// the broker closed on its own during OnTick) to the trade log exactly
// once each.
func (c *Controller) flushClosedTrades(ctx context.Context) {
	closed := c.cfg.Broker.ClosedTrades()
	if len(closed) <= c.closedSeen {
		return
	}
	for _, t := range closed[c.closedSeen:] {
		observability.IncTradeClosed(t.Symbol, string(t.CloseReason))
		if c.cfg.TradeLog != nil {
			if err := c.cfg.TradeLog.WriteTrade(t); err != nil {
				c.logEvent(ctx, "error", "trade_write_failed", map[string]any{"err": err.Error(), "ticket": t.Ticket})
			}
		}
	}
	c.closedSeen = len(closed)
}

func (c *Controller) logEvent(ctx context.Context, level, event string, fields map[string]any) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.LogEvent(ctx, level, event, fields)
}

func intersects(transitioned map[timeframe.Timeframe]bool, required map[timeframe.Timeframe]bool) bool {
	if len(transitioned) == 0 || len(required) == 0 {
		return false
	}
	for tf := range required {
		if transitioned[tf] {
			return true
		}
	}
	return false
}
