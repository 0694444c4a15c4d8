package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"jax-backtest-kernel/timeframe"
)

func validEngine() *Engine {
	e := DefaultConfig()
	e.StartDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	e.EndDate = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	e.Symbols = []string{"EURUSD", "GBPUSD"}
	e.Timeframes = []timeframe.Timeframe{timeframe.M1, timeframe.H1}
	e.CacheRoot = "/tmp/cache"
	return e
}

func TestDefaultConfigFieldsSet(t *testing.T) {
	e := DefaultConfig()
	if e.TickType != TickAll {
		t.Fatalf("expected TickAll default, got %q", e.TickType)
	}
	if e.InitialBalance != 10000 {
		t.Fatalf("expected default initial balance 10000, got %v", e.InitialBalance)
	}
	if e.Risk.MaxPositions != 10 {
		t.Fatalf("expected default max_positions 10, got %d", e.Risk.MaxPositions)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	e := DefaultConfig()
	if err := e.Validate(); err == nil {
		t.Fatal("expected validation error for empty engine")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	e := validEngine()
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadTrailingStop(t *testing.T) {
	e := validEngine()
	e.Risk.TrailingStop = "bogus"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for invalid trailing_stop")
	}
}

func TestValidateRejectsATRWithoutPeriod(t *testing.T) {
	e := validEngine()
	e.Risk.TrailingStop = "atr"
	e.Risk.ATRPeriod = 0
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for atr trailing without a period")
	}
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	e := validEngine()
	e.EndDate = e.StartDate.Add(-time.Hour)
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestLoadConfigStrictUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"symbols":["EURUSD"],"not_a_real_field":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"symbols":["EURUSD"],"cache_root":"/tmp/c"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InitialBalance != 10000 {
		t.Fatalf("expected default initial_balance to survive partial JSON, got %v", cfg.InitialBalance)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom to be set, got %q", cfg.LoadedFrom)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/cfg.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickType != TickAll {
		t.Fatalf("expected default tick type, got %q", cfg.TickType)
	}
}

func TestRiskPolicyDerivation(t *testing.T) {
	e := validEngine()
	e.Risk.MaxPositions = 5
	e.Risk.MaxPerTradeRiskPct = 0.01
	e.Risk.MaxPortfolioRiskPct = 0.1
	p := e.RiskPolicy()
	if p.MaxPositions != 5 || p.MaxPerTradeRiskPct != 0.01 || p.MaxPortfolioRiskPct != 0.1 {
		t.Fatalf("unexpected derived policy: %+v", p)
	}
}

func TestTradeManagerConfigDerivation(t *testing.T) {
	e := validEngine()
	e.Risk.TrailingStop = "atr"
	e.Risk.ATRPeriod = 14
	e.Risk.ATRMultiplier = 2
	tmCfg := e.TradeManagerConfig(nil)
	if tmCfg.ATRPeriod != 14 || tmCfg.ATRMultiplier != 2 {
		t.Fatalf("unexpected trade manager config: %+v", tmCfg)
	}
	if tmCfg.DefaultATRTimeframe != timeframe.M1 {
		t.Fatalf("expected default atr timeframe to be the first configured timeframe, got %v", tmCfg.DefaultATRTimeframe)
	}
}
