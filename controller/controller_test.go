package controller

import (
	"context"
	"testing"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/cacheindex"
	"jax-backtest-kernel/candle"
	"jax-backtest-kernel/datacache"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/orders"
	"jax-backtest-kernel/risk"
	"jax-backtest-kernel/strategy"
	"jax-backtest-kernel/tickstream"
	"jax-backtest-kernel/timeframe"
	"jax-backtest-kernel/tradelog"
)

// buyOnceStrategy issues a single buy signal the first time it sees a
// completed M1 candle, then stays silent.
type buyOnceStrategy struct {
	fired bool
}

func (s *buyOnceStrategy) ID() string { return "buy_once" }
func (s *buyOnceStrategy) RequiredTimeframes() []timeframe.Timeframe {
	return []timeframe.Timeframe{timeframe.M1}
}
func (s *buyOnceStrategy) OnTick(ctx *strategy.Context) *domain.TradeSignal {
	if s.fired {
		return nil
	}
	price, ok := ctx.CurrentPrice(domain.Buy)
	if !ok {
		return nil
	}
	s.fired = true
	return &domain.TradeSignal{
		Symbol:          ctx.Symbol,
		Side:            domain.Buy,
		StrategyID:      s.ID(),
		SLPrice:         price - 0.0050,
		TPPrice:         price + 0.0050,
		RequestedVolume: 0.1,
	}
}

func setupCache(t *testing.T) *datacache.Cache {
	t.Helper()
	root := t.TempDir()
	idx, err := cacheindex.Open(root)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	return datacache.New(datacache.Config{Root: root, Index: idx})
}

func writeDay(t *testing.T, cache *datacache.Cache, symbol string, day time.Time, info domain.SymbolInfo) {
	t.Helper()
	var rows []datacache.Row
	base := 1.1000
	for m := 0; m < 180; m++ {
		ts := day.Add(time.Duration(m) * time.Minute)
		price := base + float64(m)*0.00001
		rows = append(rows, datacache.Row{Time: ts, Bid: price, Ask: price + 0.0002})
	}
	if err := cache.SaveDay(symbol, day, "ticks", rows, info, datacache.SourceLiveFeed); err != nil {
		t.Fatalf("save day: %v", err)
	}
}

func TestControllerRunProducesTradeAndSummary(t *testing.T) {
	cache := setupCache(t)
	day := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	symbolInfo := domain.SymbolInfo{
		Symbol: "EURUSD", Point: 0.0001, TickSize: 0.0001, TickValue: 1,
		ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.01, StopsLevel: 1,
	}
	writeDay(t, cache, "EURUSD", day, symbolInfo)

	b := broker.New(broker.Config{
		InitialBalance: 10000,
		Leverage:       100,
		Slippage:       broker.SlippagePolicy{},
		SymbolInfo:     map[string]domain.SymbolInfo{"EURUSD": symbolInfo},
	})

	builders := map[string]*candle.Builder{
		"EURUSD": candle.NewBuilder("EURUSD", []timeframe.Timeframe{timeframe.M1}),
	}

	riskMgr := risk.NewManager(risk.DefaultPolicy())
	orderMgr := orders.New(orders.Config{
		Broker:     b,
		Risk:       riskMgr,
		SymbolInfo: map[string]domain.SymbolInfo{"EURUSD": symbolInfo},
	})

	dir := t.TempDir()
	log, err := tradelog.Open(dir)
	if err != nil {
		t.Fatalf("open tradelog: %v", err)
	}
	defer log.Close()

	strat := &buyOnceStrategy{}
	bindings := map[string][]Binding{
		"EURUSD": {BindingFor(strat)},
	}

	ctrl := New(Config{
		Symbols:                []string{"EURUSD"},
		Broker:                 b,
		Builders:               builders,
		Bindings:               bindings,
		Orders:                 orderMgr,
		TradeLog:               log,
		EquitySnapshotInterval: time.Hour,
	})

	streamer := tickstream.New(tickstream.Config{Cache: cache, DatasetKey: "ticks", Symbols: []string{"EURUSD"}})
	bySymbol := map[string][]tickstream.DayFile{
		"EURUSD": {{Symbol: "EURUSD", Day: day}},
	}

	summary, err := ctrl.Run(context.Background(), streamer, bySymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TicksProcessed == 0 {
		t.Fatal("expected ticks to be processed")
	}
	if summary.SignalsEmitted != 1 {
		t.Fatalf("expected exactly one signal emitted, got %d", summary.SignalsEmitted)
	}
	if summary.OrdersPlaced != 1 {
		t.Fatalf("expected the signal to become an order, got %d placed", summary.OrdersPlaced)
	}
	if got := summary.OrdersPlaced + summary.SignalsDroppedRisk + summary.SignalsDroppedOther; got != summary.SignalsEmitted {
		t.Fatalf("placed+dropped = %d, want %d (every emitted signal accounted for)", got, summary.SignalsEmitted)
	}
	if summary.Cancelled {
		t.Fatal("run should not report cancellation")
	}
	if len(b.ClosedTrades()) == 0 {
		t.Fatal("expected the position to be force-closed at end of run")
	}
}

func TestControllerRunHonoursCancellation(t *testing.T) {
	cache := setupCache(t)
	day := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	symbolInfo := domain.SymbolInfo{Symbol: "EURUSD", Point: 0.0001, TickSize: 0.0001, TickValue: 1, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.01}
	writeDay(t, cache, "EURUSD", day, symbolInfo)

	b := broker.New(broker.Config{InitialBalance: 10000, Leverage: 100, SymbolInfo: map[string]domain.SymbolInfo{"EURUSD": symbolInfo}})
	builders := map[string]*candle.Builder{"EURUSD": candle.NewBuilder("EURUSD", []timeframe.Timeframe{timeframe.M1})}
	riskMgr := risk.NewManager(risk.DefaultPolicy())
	orderMgr := orders.New(orders.Config{Broker: b, Risk: riskMgr, SymbolInfo: map[string]domain.SymbolInfo{"EURUSD": symbolInfo}})

	ctrl := New(Config{
		Symbols:  []string{"EURUSD"},
		Broker:   b,
		Builders: builders,
		Bindings: map[string][]Binding{},
		Orders:   orderMgr,
	})

	streamer := tickstream.New(tickstream.Config{Cache: cache, DatasetKey: "ticks", Symbols: []string{"EURUSD"}})
	bySymbol := map[string][]tickstream.DayFile{"EURUSD": {{Symbol: "EURUSD", Day: day}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := ctrl.Run(ctx, streamer, bySymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Cancelled {
		t.Fatal("expected run to report cancellation")
	}
}
