package orders

import (
	"testing"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/risk"
)

func testSymbolInfo() domain.SymbolInfo {
	return domain.SymbolInfo{
		Symbol:       "EURUSD",
		Point:        0.0001,
		Digits:       5,
		TickSize:     0.00001,
		TickValue:    1,
		ContractSize: 100000,
		VolumeMin:    0.01,
		VolumeMax:    10,
		VolumeStep:   0.01,
		StopsLevel:   10,
	}
}

func newTestManager(cooldown time.Duration) (*Manager, *broker.SimulatedBroker) {
	info := testSymbolInfo()
	b := broker.New(broker.Config{
		InitialBalance: 10000,
		Leverage:       100,
		SymbolInfo:     map[string]domain.SymbolInfo{"EURUSD": info},
	})
	b.OnTick(domain.GlobalTick{Tick: domain.Tick{
		Time: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002,
	}})
	m := New(Config{
		Broker:     b,
		Risk:       risk.NewManager(risk.DefaultPolicy()),
		Cooldown:   cooldown,
		SymbolInfo: map[string]domain.SymbolInfo{"EURUSD": info},
	})
	return m, b
}

func TestExecute_AcceptedOrderUsesRiskSizedLot(t *testing.T) {
	m, _ := newTestManager(0)
	sig := domain.TradeSignal{
		Symbol:           "EURUSD",
		Side:             domain.Buy,
		SLPrice:          1.0950,
		StrategyID:       "fakeout",
		RequestedRiskPct: 0.01,
	}
	res := m.Execute(sig)
	if res.Skipped {
		t.Fatalf("expected order accepted, got skip reason %s: %s", res.Drop, res.Detail)
	}
	if res.Ticket == 0 {
		t.Error("expected non-zero ticket")
	}
}

func TestExecute_ZeroLotWhenSLEqualsEntry(t *testing.T) {
	m, b := newTestManager(0)
	price, _ := b.CurrentPrice("EURUSD", domain.Buy)
	sig := domain.TradeSignal{
		Symbol:           "EURUSD",
		Side:             domain.Buy,
		EntryHint:        price,
		SLPrice:          price, // zero distance -> SizeLot returns 0
		StrategyID:       "fakeout",
		RequestedRiskPct: 0.01,
	}
	res := m.Execute(sig)
	if !res.Skipped || res.Drop != DropZeroLot {
		t.Fatalf("expected DropZeroLot, got %+v", res)
	}
}

func TestExecute_CooldownBlocksSecondOrder(t *testing.T) {
	m, _ := newTestManager(time.Hour)
	sig := domain.TradeSignal{
		Symbol: "EURUSD", Side: domain.Buy, SLPrice: 1.0950, StrategyID: "fakeout", RequestedRiskPct: 0.01,
	}
	first := m.Execute(sig)
	if first.Skipped {
		t.Fatalf("expected first order accepted, got %+v", first)
	}
	second := m.Execute(domain.TradeSignal{
		Symbol: "EURUSD", Side: domain.Buy, SLPrice: 1.0950, StrategyID: "other", RequestedRiskPct: 0.01,
	})
	if !second.Skipped || second.Drop != DropCooldown {
		t.Fatalf("expected second order blocked by cooldown, got %+v", second)
	}
}

func TestExecute_RiskGateRejectsDuplicatePosition(t *testing.T) {
	m, _ := newTestManager(0)
	sig := domain.TradeSignal{
		Symbol: "EURUSD", Side: domain.Buy, SLPrice: 1.0950, StrategyID: "fakeout", RangeID: "r1", RequestedRiskPct: 0.01,
	}
	first := m.Execute(sig)
	if first.Skipped {
		t.Fatalf("expected first order accepted, got %+v", first)
	}
	second := m.Execute(sig) // identical key, no confirmations -> duplicate rejected
	if !second.Skipped || second.Drop != DropRiskGate {
		t.Fatalf("expected DropRiskGate on duplicate position, got %+v", second)
	}
}
