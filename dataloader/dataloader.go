// Package dataloader orchestrates the three-tier fetch pipeline: cache,
// then the live TickSource/CandleSource, then the archive fallback, with
// tick-resampling synthesis when a requested candle timeframe has no
// native source data for a day but ticks exist.
package dataloader

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"jax-backtest-kernel/datacache"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/resilience"
	"jax-backtest-kernel/timeframe"
)

// TickSource is the abstract collaborator that can fetch one day of ticks
// for one symbol. The concrete MT5 (or any broker) adapter lives outside
// the kernel.
type TickSource interface {
	FetchTicks(ctx context.Context, symbol string, day time.Time) ([]datacache.Row, error)
}

// CandleSource is the abstract collaborator for one day of candles at a
// given timeframe.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf timeframe.Timeframe, day time.Time) ([]datacache.Row, error)
}

// ArchiveFetcher is the fallback collaborator (e.g. a broker's historical
// ZIP archive) used only when the live source has nothing for a day.
type ArchiveFetcher interface {
	FetchArchiveDay(ctx context.Context, symbol, datasetKey string, day time.Time) ([]datacache.Row, error)
}

// Config bundles a Loader's collaborators and tuning knobs.
type Config struct {
	Cache             *datacache.Cache
	TickSource        TickSource
	CandleSource      CandleSource
	Archive           ArchiveFetcher // optional
	ParallelFetchDays int            // default 10
	SymbolInfo        map[string]domain.SymbolInfo
}

// Loader orchestrates cache → source → archive → synthesis for a
// (symbol, dataset_key) range.
type Loader struct {
	cache        *datacache.Cache
	tickSource   TickSource
	candleSource CandleSource
	archive      ArchiveFetcher
	parallelism  int
	symbolInfo   map[string]domain.SymbolInfo
	breaker      *resilience.Breaker[[]datacache.Row]
}

// New constructs a Loader.
func New(cfg Config) *Loader {
	n := cfg.ParallelFetchDays
	if n <= 0 {
		n = 10
	}
	return &Loader{
		cache:        cfg.Cache,
		tickSource:   cfg.TickSource,
		candleSource: cfg.CandleSource,
		archive:      cfg.Archive,
		parallelism:  n,
		symbolInfo:   cfg.SymbolInfo,
		breaker:      resilience.New[[]datacache.Row](resilience.DefaultConfig("dataloader")),
	}
}

// Result is the outcome of loading one (symbol, dataset_key) range.
type Result struct {
	Rows            []datacache.Row
	SymbolInfo      domain.SymbolInfo
	SourceCalls     int
	SynthesizedDays int
	DroppedDays     []string
}

// Load fetches [start, end] for symbol/datasetKey: cached days come from
// the cache, and the days the cache lacks are fetched from the sources in
// parallel (bounded by ParallelFetchDays); then it re-sorts and dedups the
// merged result.
func (l *Loader) Load(ctx context.Context, symbol, datasetKey string, start, end time.Time) (Result, error) {
	rows, missingDays, info, err := l.cache.LoadPartial(symbol, datasetKey, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("dataloader: load_partial: %w", err)
	}

	var result Result
	result.Rows = rows
	if info != nil {
		result.SymbolInfo = *info
	} else if si, ok := l.symbolInfo[symbol]; ok {
		result.SymbolInfo = si
	}

	if len(missingDays) == 0 {
		sortAndDedup(&result.Rows)
		return result, nil
	}

	fetched := make([][]datacache.Row, len(missingDays))
	stillMissing := make([]bool, len(missingDays))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, day := range missingDays {
		i, day := i, day
		g.Go(func() error {
			rows, err := l.fetchOneDay(gctx, symbol, datasetKey, day)
			if err != nil {
				stillMissing[i] = true
				return nil // best effort: a day we can't fetch is dropped, not fatal
			}
			fetched[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result.SourceCalls = len(missingDays)
	for i, day := range missingDays {
		if stillMissing[i] {
			result.DroppedDays = append(result.DroppedDays, day.Format("2006-01-02"))
			continue
		}
		if err := l.cache.SaveDay(symbol, day, datasetKey, fetched[i], result.SymbolInfo, datacache.SourceLiveFeed); err != nil {
			return Result{}, fmt.Errorf("dataloader: cache save for %s: %w", day.Format("2006-01-02"), err)
		}
		result.Rows = append(result.Rows, fetched[i]...)
	}

	sortAndDedup(&result.Rows)
	return result, nil
}

func (l *Loader) fetchOneDay(ctx context.Context, symbol, datasetKey string, day time.Time) ([]datacache.Row, error) {
	rows, err := l.breaker.Execute(func() ([]datacache.Row, error) {
		if tf, isCandle := candleTimeframe(datasetKey); isCandle {
			if l.candleSource == nil {
				return nil, fmt.Errorf("dataloader: no candle source configured")
			}
			return l.candleSource.FetchCandles(ctx, symbol, tf, day)
		}
		if l.tickSource == nil {
			return nil, fmt.Errorf("dataloader: no tick source configured")
		}
		return l.tickSource.FetchTicks(ctx, symbol, day)
	})
	if err == nil && len(rows) > 0 {
		return rows, nil
	}

	if l.archive != nil {
		if archRows, archErr := l.archive.FetchArchiveDay(ctx, symbol, datasetKey, day); archErr == nil && len(archRows) > 0 {
			return archRows, nil
		}
	}

	if tf, isCandle := candleTimeframe(datasetKey); isCandle && l.tickSource != nil {
		tickRows, tickErr := l.tickSource.FetchTicks(ctx, symbol, day)
		if tickErr == nil && len(tickRows) > 0 {
			return synthesizeCandles(tickRows, tf), nil
		}
	}

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("dataloader: no data available for %s on %s", symbol, day.Format("2006-01-02"))
}

func candleTimeframe(datasetKey string) (timeframe.Timeframe, bool) {
	tf := timeframe.Timeframe(datasetKey)
	return tf, tf.Valid()
}

// synthesizeCandles resamples raw ticks into candles for tf by aligning
// each tick to its boundary and folding OHLCV, the same incremental rule
// CandleBuilder uses on the hot path.
func synthesizeCandles(ticks []datacache.Row, tf timeframe.Timeframe) []datacache.Row {
	var out []datacache.Row
	var current *datacache.Row
	var lastBoundary time.Time

	for _, t := range ticks {
		price := t.Last
		if price == 0 {
			price = (t.Bid + t.Ask) / 2
		}
		boundary, err := timeframe.AlignDown(t.Time, tf)
		if err != nil {
			continue
		}
		if current == nil || !boundary.Equal(lastBoundary) {
			if current != nil {
				out = append(out, *current)
			}
			current = &datacache.Row{Time: boundary, Open: price, High: price, Low: price, Close: price, TickVolume: t.Volume}
			lastBoundary = boundary
			continue
		}
		if price > current.High {
			current.High = price
		}
		if price < current.Low {
			current.Low = price
		}
		current.Close = price
		current.TickVolume += t.Volume
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

func sortAndDedup(rows *[]datacache.Row) {
	r := *rows
	sort.Slice(r, func(i, j int) bool { return r[i].Time.Before(r[j].Time) })
	out := r[:0]
	var last time.Time
	first := true
	for _, row := range r {
		if !first && row.Time.Equal(last) {
			continue
		}
		out = append(out, row)
		last = row.Time
		first = false
	}
	*rows = out
}
