package risk

import (
	"strings"
	"testing"

	"jax-backtest-kernel/domain"
)

func TestDefaultPolicyValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.validate(); err != nil {
		t.Fatalf("default policy should validate, got %v", err)
	}
}

func TestCanOpen_RejectsDuplicatePositionSameKey(t *testing.T) {
	m := NewManager(DefaultPolicy())
	open := []OpenPositionSummary{
		{Symbol: "EURUSD", Side: domain.Buy, StrategyID: "fakeout", RangeID: "r1"},
	}
	ok, reason := m.CanOpen("EURUSD", domain.Buy, "fakeout", "r1", false, open, 10000)
	if ok {
		t.Fatal("expected rejection for duplicate position key")
	}
	if !strings.Contains(reason, "position limit") {
		t.Errorf("expected reason to contain %q, got %q", "position limit", reason)
	}
}

func TestCanOpen_AllowsWhenConfirmationsComplete(t *testing.T) {
	m := NewManager(DefaultPolicy())
	open := []OpenPositionSummary{
		{Symbol: "EURUSD", Side: domain.Buy, StrategyID: "fakeout", RangeID: "r1"},
	}
	ok, _ := m.CanOpen("EURUSD", domain.Buy, "fakeout", "r1", true, open, 10000)
	if !ok {
		t.Fatal("expected acceptance when confirmations are complete")
	}
}

func TestCanOpen_MaxPositionsCap(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxPositions = 1
	m := NewManager(policy)
	open := []OpenPositionSummary{{Symbol: "GBPUSD", Side: domain.Sell, StrategyID: "other", RangeID: ""}}
	ok, _ := m.CanOpen("EURUSD", domain.Buy, "fakeout", "r1", false, open, 10000)
	if ok {
		t.Fatal("expected rejection once max_positions is reached")
	}
}

func TestCanOpen_PortfolioRiskCap(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxPortfolioRiskPct = 0.01
	m := NewManager(policy)
	open := []OpenPositionSummary{
		{Symbol: "EURUSD", Side: domain.Buy, EntryPrice: 1.1000, SLPrice: 1.0900, VolumeLots: 1, Point: 0.0001, PointValue: 10},
	}
	ok, _ := m.CanOpen("GBPUSD", domain.Buy, "other", "", false, open, 10000)
	if ok {
		t.Fatal("expected rejection when portfolio risk cap already exceeded")
	}
}

func TestSizeLot_ClampsToVolumeMax(t *testing.T) {
	info := domain.SymbolInfo{TickSize: 0.0001, TickValue: 1, VolumeMin: 0.01, VolumeMax: 1, VolumeStep: 0.01}
	lots := SizeLot(1_000_000, 1.1000, 1.0000, 0.5, info)
	if lots != info.VolumeMax {
		t.Errorf("expected clamp to VolumeMax %v, got %v", info.VolumeMax, lots)
	}
}

func TestSizeLot_RoundsDownToStep(t *testing.T) {
	info := domain.SymbolInfo{TickSize: 0.0001, TickValue: 1, VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.1}
	lots := SizeLot(10000, 1.1000, 1.0990, 0.01, info)
	// riskAmount=100, dist=0.001 -> lots = 100*0.0001/(0.001*1) = 10, clamp to 10, step 0.1 -> 10.0
	if lots != 10 {
		t.Errorf("expected 10, got %v", lots)
	}
}

func TestSizeLot_BelowMinimumReturnsZero(t *testing.T) {
	info := domain.SymbolInfo{TickSize: 0.0001, TickValue: 1, VolumeMin: 0.5, VolumeMax: 10, VolumeStep: 0.01}
	lots := SizeLot(10, 1.1000, 1.0999, 0.01, info)
	if lots != 0 {
		t.Errorf("expected 0 when computed size is below volume_min, got %v", lots)
	}
}

func TestSizeLot_ZeroDistanceReturnsZero(t *testing.T) {
	info := domain.SymbolInfo{TickSize: 0.0001, TickValue: 1, VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.01}
	lots := SizeLot(10000, 1.1000, 1.1000, 0.01, info)
	if lots != 0 {
		t.Errorf("expected 0 for entry==sl, got %v", lots)
	}
}
