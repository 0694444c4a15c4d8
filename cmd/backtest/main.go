// Command backtest is the engine's CLI entrypoint: it wires cache, loader,
// broker, risk, order, trade, and candle-building packages into one
// Controller and replays a configured date range once.
//
// Exit codes: 0 success, 1 config/cache validation error, 2 insufficient
// data, 3 user cancellation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/cacheindex"
	"jax-backtest-kernel/candle"
	"jax-backtest-kernel/config"
	"jax-backtest-kernel/controller"
	"jax-backtest-kernel/datacache"
	"jax-backtest-kernel/dataloader"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/observability"
	"jax-backtest-kernel/orders"
	"jax-backtest-kernel/risk"
	"jax-backtest-kernel/runstore"
	"jax-backtest-kernel/strategy"
	"jax-backtest-kernel/tickstream"
	"jax-backtest-kernel/timeframe"
	"jax-backtest-kernel/tradelog"
	"jax-backtest-kernel/trademanager"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

// RegisterStrategies is the extension point a concrete embedding program
// overrides before calling run(): concrete strategy algorithms (fakeout,
// breakout, HFT momentum, ...) are explicitly out of the kernel's scope,
// so this binary ships with an empty registry and a config whose
// strategy_assignments are all empty replays cache/broker/candle wiring
// tick-only, with no signals emitted.
var RegisterStrategies = func(r *strategy.Registry) {}

// DataSources is the extension point for the live TickSource/CandleSource/
// ArchiveFetcher collaborators; the concrete broker adapter and archive
// downloader live in the embedding program. Left nil, the loader operates
// cache-only: a run with nothing already cached under -cache-root exits
// with an insufficient-data error.
var DataSources = func() (dataloader.TickSource, dataloader.CandleSource, dataloader.ArchiveFetcher) {
	return nil, nil, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to engine config JSON (optional; defaults otherwise)")
	cacheRoot := flag.String("cache-root", "", "override config cache_root")
	outDir := flag.String("out", "./backtest-out", "directory for trade log + equity curve output")
	dbDSN := flag.String("db-dsn", os.Getenv("BACKTEST_DB_DSN"), "optional Postgres DSN for run-summary persistence")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address (e.g. :9100)")
	runID := flag.String("run-id", "", "override the generated run id")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	if *cacheRoot != "" {
		cfg.CacheRoot = *cacheRoot
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger := observability.NewAsyncLogger(4096)
	defer logger.Close()

	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, observability.Handler()); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server failed: %v", err)
			}
		}()
		log.Printf("metrics listening on %s", *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("jax-backtest-kernel v%s (built: %s) starting run over %s..%s for %v",
		version, buildTime, cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"), cfg.Symbols)

	var store *runstore.Store
	if *dbDSN != "" {
		rsCfg := runstore.DefaultConfig()
		rsCfg.DSN = *dbDSN
		store, err = runstore.Open(ctx, rsCfg)
		if err != nil {
			log.Printf("runstore: %v (continuing without run persistence)", err)
			store = nil
		} else {
			defer store.Close()
			log.Println("run-summary persistence enabled")
		}
	}

	summary, symbolInfo, err := runBacktest(ctx, cfg, *outDir, *runID, logger)
	if err != nil {
		log.Printf("backtest: %v", err)
		if ctx.Err() != nil {
			return 3
		}
		return 2
	}

	cfgJSON, _ := json.Marshal(cfg)
	if err := store.SaveRun(context.Background(), summary, cfg.Symbols, cfgJSON); err != nil {
		log.Printf("runstore: save run: %v", err)
	}

	log.Printf("run %s finished: cancelled=%v ticks=%d candles=%d signals=%d orders=%d dropped_risk=%d dropped_other=%d trades=%d balance=%.2f equity=%.2f",
		summary.RunID, summary.Cancelled, summary.TicksProcessed, summary.CandlesCompleted, summary.SignalsEmitted,
		summary.OrdersPlaced, summary.SignalsDroppedRisk, summary.SignalsDroppedOther, summary.TradesClosed, summary.FinalBalance, summary.FinalEquity)
	log.Printf("loaded symbol info for %d symbols", len(symbolInfo))

	if summary.Cancelled {
		return 3
	}
	return 0
}

// runBacktest performs the full wiring described in DESIGN.md: cache ->
// loader -> tickstream -> broker/candle/risk/orders/trademanager ->
// controller, and returns the final summary plus the resolved per-symbol
// instrument metadata (useful to callers embedding this as a library).
func runBacktest(ctx context.Context, cfg *config.Engine, outDir, runIDOverride string, logger *observability.AsyncLogger) (controller.Summary, map[string]domain.SymbolInfo, error) {
	idx, err := cacheindex.Open(cfg.CacheRoot)
	if err != nil {
		// A corrupt index is recoverable: rescan the cache tree instead of
		// failing the run.
		logger.LogEvent(ctx, "warn", "cache_index_rebuild", map[string]any{"err": err.Error()})
		if rerr := idx.RebuildFromFilesystem(); rerr != nil {
			return controller.Summary{}, nil, fmt.Errorf("cacheindex: rebuild after corrupt index: %w", rerr)
		}
	}

	cache := datacache.New(datacache.Config{
		Root:             cfg.CacheRoot,
		Index:            idx,
		TTL:              time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
		GapThresholdDays: cfg.GapThresholdDays,
	})

	tickSource, candleSource, archive := DataSources()
	loader := dataloader.New(dataloader.Config{
		Cache:             cache,
		TickSource:        tickSource,
		CandleSource:      candleSource,
		Archive:           archive,
		ParallelFetchDays: cfg.ParallelFetchDays,
	})

	symbolInfo := make(map[string]domain.SymbolInfo, len(cfg.Symbols))
	bySymbol := make(map[string][]tickstream.DayFile, len(cfg.Symbols))
	datasetKey := "ticks"
	if !cfg.UseTicks {
		datasetKey = string(cfg.Timeframes[0])
	}

	var excluded []string
	for _, sym := range cfg.Symbols {
		res, err := loader.Load(ctx, sym, datasetKey, cfg.StartDate, cfg.EndDate)
		if err != nil {
			return controller.Summary{}, nil, fmt.Errorf("dataloader: load %s: %w", sym, err)
		}
		if len(res.Rows) == 0 {
			excluded = append(excluded, sym)
			logger.LogEvent(ctx, "warn", "symbol_excluded_insufficient_data", map[string]any{"symbol": sym})
			continue
		}
		symbolInfo[sym] = res.SymbolInfo
		bySymbol[sym] = daysInRange(sym, cfg.StartDate, cfg.EndDate)
		if len(res.DroppedDays) > 0 {
			logger.LogEvent(ctx, "warn", "days_dropped", map[string]any{"symbol": sym, "days": res.DroppedDays})
		}
	}
	if len(bySymbol) == 0 {
		return controller.Summary{}, nil, fmt.Errorf("no symbols had data available in the requested range")
	}

	brokerCfg := cfg.BrokerConfig(symbolInfo)
	brokerCfg.Logger = log.Default()
	bkr := broker.New(brokerCfg)

	registry := strategy.NewRegistry()
	RegisterStrategies(registry)
	if ids := registry.IDs(); len(ids) > 0 {
		logger.LogEvent(ctx, "info", "strategies_registered", map[string]any{"ids": ids})
	}

	builders := make(map[string]*candle.Builder, len(cfg.Symbols))
	bindings := make(map[string][]controller.Binding, len(cfg.Symbols))
	for sym := range bySymbol {
		ids := cfg.StrategyAssignments[sym]
		var symBindings []controller.Binding
		tfSet := map[string]bool{}
		for _, id := range ids {
			s, err := registry.Get(id)
			if err != nil {
				return controller.Summary{}, nil, fmt.Errorf("strategy assignment for %s: %w", sym, err)
			}
			b := controller.BindingFor(s)
			symBindings = append(symBindings, b)
			for tf := range b.RequiredTFs {
				tfSet[string(tf)] = true
			}
		}
		bindings[sym] = symBindings
		builders[sym] = candle.NewBuilder(sym, unionTimeframes(cfg.Timeframes, tfSet))
	}

	riskMgr := risk.NewManager(cfg.RiskPolicy())
	orderMgr := orders.New(orders.Config{
		Broker:     bkr,
		Risk:       riskMgr,
		Cooldown:   cfg.OrderCooldown,
		SymbolInfo: symbolInfo,
	})
	tm := trademanager.New(bkr, builders, cfg.TradeManagerConfig(nil))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return controller.Summary{}, nil, fmt.Errorf("mkdir out dir: %w", err)
	}
	tlog, err := tradelog.Open(outDir)
	if err != nil {
		return controller.Summary{}, nil, fmt.Errorf("tradelog: %w", err)
	}
	defer tlog.Close()

	runID := runIDOverride
	ctrl := controller.New(controller.Config{
		Symbols:                cfg.Symbols,
		Broker:                 bkr,
		Builders:               builders,
		Bindings:               bindings,
		Orders:                 orderMgr,
		TradeManager:           tm,
		TradeLog:               tlog,
		Logger:                 logger,
		TickFilter:             tickFilterFor(cfg.TickType),
		RunID:                  runID,
		EquitySnapshotInterval: cfg.EquitySnapshotInterval,
		ProgressInterval:       cfg.ProgressUpdateInterval,
		ProgressFunc: func(p controller.Progress) {
			logger.LogEvent(ctx, "info", "progress", map[string]any{
				"ticks": p.TicksProcessed, "equity": p.Equity, "open_positions": p.OpenPositions,
			})
		},
	})

	streamer := tickstream.New(tickstream.Config{Cache: cache, DatasetKey: datasetKey, Symbols: cfg.Symbols})
	summary, err := ctrl.Run(ctx, streamer, bySymbol)
	if err != nil {
		return controller.Summary{}, nil, err
	}
	if len(excluded) > 0 {
		logger.LogEvent(ctx, "warn", "run_excluded_symbols", map[string]any{"symbols": excluded})
	}
	return summary, symbolInfo, nil
}

func tickFilterFor(t config.TickType) func(domain.Tick) bool {
	switch t {
	case config.TickInfo:
		return func(tk domain.Tick) bool { return tk.Last == 0 }
	case config.TickTrade:
		return func(tk domain.Tick) bool { return tk.Last != 0 }
	default:
		return nil
	}
}

func daysInRange(symbol string, start, end time.Time) []tickstream.DayFile {
	var out []tickstream.DayFile
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, tickstream.DayFile{Symbol: symbol, Day: d})
	}
	return out
}

// unionTimeframes returns the configured timeframes plus any additional
// ones a symbol's bound strategies require, deduplicated — the
// per-symbol CandleBuilder only maintains state for this union, per the
// "timeframe selectivity" optimization.
func unionTimeframes(configured []timeframe.Timeframe, required map[string]bool) []timeframe.Timeframe {
	seen := make(map[timeframe.Timeframe]bool, len(configured)+len(required))
	var out []timeframe.Timeframe
	for _, tf := range configured {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	for tfStr := range required {
		tf := timeframe.Timeframe(tfStr)
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out
}
