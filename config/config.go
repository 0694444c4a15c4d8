// Package config defines the engine's run configuration: the full set of
// recognised options, JSON loading with strict unknown-field rejection,
// and defaulting/validation. Follows the same Load/Default/validate trio
// as risk.Policy so partial or zero-value configs never reach the engine.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/risk"
	"jax-backtest-kernel/timeframe"
	"jax-backtest-kernel/trademanager"
)

// TickType selects which ticks a run replays.
type TickType string

const (
	TickAll   TickType = "All"
	TickInfo  TickType = "Info"  // quote-only updates, no trade print
	TickTrade TickType = "Trade" // ticks carrying a trade print (last/volume)
)

// RiskConfig is the JSON shape of the risk block; Engine.RiskPolicy and
// Engine.TradeManagerConfig turn it into a risk.Policy plus
// trademanager.Config.
type RiskConfig struct {
	MaxPositions        int     `json:"max_positions"`
	MaxPerTradeRiskPct  float64 `json:"max_per_trade_risk_pct"`
	MaxPortfolioRiskPct float64 `json:"max_portfolio_risk_pct"`
	UseBreakeven        bool    `json:"use_breakeven"`
	BreakevenTriggerRR  float64 `json:"breakeven_trigger_rr"`
	TrailingStop        string  `json:"trailing_stop"` // "", "fixed", "atr"
	TrailingPoints      float64 `json:"trailing_points"`
	ATRPeriod           int     `json:"atr_period"`
	ATRMultiplier       float64 `json:"atr_multiplier"`
}

// Engine is the complete recognised configuration for one backtest run.
type Engine struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Symbols    []string              `json:"symbols"` // ordered; defines tie-break precedence
	Timeframes []timeframe.Timeframe `json:"timeframes"`

	UseTicks bool     `json:"use_ticks"`
	TickType TickType `json:"tick_type"`

	InitialBalance float64 `json:"initial_balance"`
	Leverage       float64 `json:"leverage"`

	SpreadPolicy   broker.SpreadPolicy   `json:"spread_policy"`
	SlippagePolicy broker.SlippagePolicy `json:"slippage_policy"`

	CacheRoot         string `json:"cache_root"`
	CacheTTLDays      int    `json:"cache_ttl_days"`
	GapThresholdDays  int    `json:"gap_threshold_days"`
	ParallelFetchDays int    `json:"parallel_fetch_days"`

	Risk          RiskConfig    `json:"risk"`
	OrderCooldown time.Duration `json:"order_cooldown"`

	// StrategyAssignments maps each symbol to the IDs of the strategies
	// that should be dispatched on it, looked up in the strategy.Registry
	// the embedding program builds. A symbol absent from this map (or
	// present with an empty list) simply never dispatches — its ticks
	// still drive the broker and candle builder.
	StrategyAssignments map[string][]string `json:"strategy_assignments"`

	LogLevel               string        `json:"log_level"`
	AsyncLogging           bool          `json:"async_logging"`
	EquitySnapshotInterval time.Duration `json:"equity_snapshot_interval"`
	ProgressUpdateInterval time.Duration `json:"progress_update_interval"`

	// LoadedFrom is the file path the config was read from (empty for
	// defaults or programmatic construction).
	LoadedFrom string `json:"-"`
}

// LoadConfig reads and strictly decodes a JSON config file, then applies
// defaults. It does not call Validate; callers do that once any overrides
// are in place. An empty path yields DefaultConfig with no symbols/dates
// set — callers must still supply those before Validate passes.
func LoadConfig(path string) (*Engine, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.LoadedFrom = path
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultConfig returns an Engine with every ambient (non-domain) field
// set to a sane default; symbols/dates/timeframes are left for the caller
// to supply.
func DefaultConfig() *Engine {
	return &Engine{
		UseTicks:          true,
		TickType:          TickAll,
		InitialBalance:    10000,
		Leverage:          100,
		CacheTTLDays:      30,
		GapThresholdDays:  3,
		ParallelFetchDays: 10,
		Risk: RiskConfig{
			MaxPositions:        10,
			MaxPerTradeRiskPct:  0.02,
			MaxPortfolioRiskPct: 0.15,
		},
		LogLevel:               "info",
		AsyncLogging:           true,
		EquitySnapshotInterval: time.Minute,
		ProgressUpdateInterval: 10 * time.Second,
	}
}

// applyDefaults fills in zero-value fields that LoadConfig's decode step
// may have left unset (fields absent from the JSON file).
func (e *Engine) applyDefaults() {
	def := DefaultConfig()
	if e.TickType == "" {
		e.TickType = def.TickType
	}
	if e.InitialBalance == 0 {
		e.InitialBalance = def.InitialBalance
	}
	if e.Leverage == 0 {
		e.Leverage = def.Leverage
	}
	if e.CacheTTLDays == 0 {
		e.CacheTTLDays = def.CacheTTLDays
	}
	if e.GapThresholdDays == 0 {
		e.GapThresholdDays = def.GapThresholdDays
	}
	if e.ParallelFetchDays == 0 {
		e.ParallelFetchDays = def.ParallelFetchDays
	}
	if e.Risk.MaxPositions == 0 {
		e.Risk.MaxPositions = def.Risk.MaxPositions
	}
	if e.Risk.MaxPerTradeRiskPct == 0 {
		e.Risk.MaxPerTradeRiskPct = def.Risk.MaxPerTradeRiskPct
	}
	if e.Risk.MaxPortfolioRiskPct == 0 {
		e.Risk.MaxPortfolioRiskPct = def.Risk.MaxPortfolioRiskPct
	}
	if e.LogLevel == "" {
		e.LogLevel = def.LogLevel
	}
	if e.EquitySnapshotInterval == 0 {
		e.EquitySnapshotInterval = def.EquitySnapshotInterval
	}
	if e.ProgressUpdateInterval == 0 {
		e.ProgressUpdateInterval = def.ProgressUpdateInterval
	}
}

// Validate checks that e is complete and internally consistent, returning
// every problem found rather than stopping at the first.
func (e *Engine) Validate() error {
	var errs []string

	if len(e.Symbols) == 0 {
		errs = append(errs, "symbols must not be empty")
	}
	if len(e.Timeframes) == 0 {
		errs = append(errs, "timeframes must not be empty")
	}
	for _, tf := range e.Timeframes {
		if !tf.Valid() {
			errs = append(errs, fmt.Sprintf("invalid timeframe %q", tf))
		}
	}
	if !e.EndDate.After(e.StartDate) {
		errs = append(errs, "end_date must be after start_date")
	}
	switch e.TickType {
	case TickAll, TickInfo, TickTrade:
	default:
		errs = append(errs, fmt.Sprintf("tick_type must be one of All/Info/Trade, got %q", e.TickType))
	}
	if e.InitialBalance <= 0 {
		errs = append(errs, "initial_balance must be > 0")
	}
	if e.Leverage <= 0 {
		errs = append(errs, "leverage must be > 0")
	}
	if e.CacheRoot == "" {
		errs = append(errs, "cache_root must be set")
	}
	if e.Risk.MaxPerTradeRiskPct <= 0 || e.Risk.MaxPerTradeRiskPct > 1 {
		errs = append(errs, "risk.max_per_trade_risk_pct must be in (0,1]")
	}
	if e.Risk.MaxPortfolioRiskPct <= 0 || e.Risk.MaxPortfolioRiskPct > 1 {
		errs = append(errs, "risk.max_portfolio_risk_pct must be in (0,1]")
	}
	switch e.Risk.TrailingStop {
	case "", "fixed", "atr":
	default:
		errs = append(errs, fmt.Sprintf("risk.trailing_stop must be one of \"\"/fixed/atr, got %q", e.Risk.TrailingStop))
	}
	if e.Risk.TrailingStop == "atr" && e.Risk.ATRPeriod <= 0 {
		errs = append(errs, "risk.atr_period must be > 0 when trailing_stop is atr")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid engine configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RiskPolicy derives the risk.Policy this config implies, bypassing
// risk.LoadPolicy's file-reading path since the values already live in
// the engine config.
func (e *Engine) RiskPolicy() *risk.Policy {
	p := &risk.Policy{
		MaxPositions:        e.Risk.MaxPositions,
		MaxPerTradeRiskPct:  e.Risk.MaxPerTradeRiskPct,
		MaxPortfolioRiskPct: e.Risk.MaxPortfolioRiskPct,
		LoadedAt:            time.Now().UTC(),
	}
	return p
}

// BrokerConfig derives the SimulatedBroker construction config this
// engine config implies.
func (e *Engine) BrokerConfig(symbolInfo map[string]domain.SymbolInfo) broker.Config {
	return broker.Config{
		InitialBalance: e.InitialBalance,
		Leverage:       e.Leverage,
		Spread:         e.SpreadPolicy,
		Slippage:       e.SlippagePolicy,
		SymbolInfo:     symbolInfo,
	}
}

// TradeManagerConfig derives the breakeven/trailing configuration the
// position manager needs from the risk block's JSON-friendly shape.
func (e *Engine) TradeManagerConfig(rangeATR map[string]timeframe.Timeframe) trademanager.Config {
	mode := trademanager.TrailingNone
	switch e.Risk.TrailingStop {
	case "fixed":
		mode = trademanager.TrailingFixedPoints
	case "atr":
		mode = trademanager.TrailingATRMultiple
	}
	defaultTF := timeframe.H1
	if len(e.Timeframes) > 0 {
		defaultTF = e.Timeframes[0]
	}
	return trademanager.Config{
		UseBreakeven:        e.Risk.UseBreakeven,
		BreakevenTriggerRR:  e.Risk.BreakevenTriggerRR,
		Trailing:            mode,
		TrailingPoints:      e.Risk.TrailingPoints,
		ATRPeriod:           e.Risk.ATRPeriod,
		ATRMultiplier:       e.Risk.ATRMultiplier,
		DefaultATRTimeframe: defaultTF,
		RangeATRTimeframe:   rangeATR,
	}
}
