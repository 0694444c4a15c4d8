// Package candle implements the tick-driven, multi-timeframe OHLCV
// aggregator. One Builder is kept per symbol; it maintains state only for
// the timeframes actually requested by the configured strategies.
package candle

import (
	"time"

	"jax-backtest-kernel/timeframe"
)

// Candle is one OHLCV bar for a single timeframe.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

type snapshotKey struct {
	completed int
	requested int
}

// Series is a struct-of-arrays (columnar) view over a run of candles:
// each field is one contiguous slice, so indicator code can scan a column
// without copying.
type Series struct {
	OpenTime []time.Time
	Open     []float64
	High     []float64
	Low      []float64
	Close    []float64
	Volume   []int64
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.OpenTime)
}

type tfState struct {
	tf           timeframe.Timeframe
	current      *Candle
	completed    []Candle
	lastBoundary time.Time
	cacheKey     snapshotKey
	cachedSeries *Series
}

// Builder aggregates ticks for one symbol across a fixed set of
// timeframes, decided once at construction (the "timeframe selectivity"
// optimization: no state is kept for timeframes nobody asked for).
type Builder struct {
	symbol string
	states map[timeframe.Timeframe]*tfState
}

// NewBuilder creates a Builder for symbol that maintains only the given
// timeframes.
func NewBuilder(symbol string, timeframes []timeframe.Timeframe) *Builder {
	states := make(map[timeframe.Timeframe]*tfState, len(timeframes))
	for _, tf := range timeframes {
		states[tf] = &tfState{tf: tf}
	}
	return &Builder{symbol: symbol, states: states}
}

// Timeframes returns the set of timeframes this builder maintains.
func (b *Builder) Timeframes() []timeframe.Timeframe {
	out := make([]timeframe.Timeframe, 0, len(b.states))
	for tf := range b.states {
		out = append(out, tf)
	}
	return out
}

// IngestTick folds one tick's price/volume/timestamp into every maintained
// timeframe and returns the set of timeframes that produced a newly closed
// candle — the signal that drives event-driven strategy dispatch.
func (b *Builder) IngestTick(price float64, volume int64, ts time.Time) (map[timeframe.Timeframe]bool, error) {
	transitioned := make(map[timeframe.Timeframe]bool)
	for tf, st := range b.states {
		closed, err := st.ingest(price, volume, ts)
		if err != nil {
			return nil, err
		}
		if closed {
			transitioned[tf] = true
		}
	}
	return transitioned, nil
}

func (st *tfState) ingest(price float64, volume int64, ts time.Time) (bool, error) {
	// Cheap check: if we already know the current boundary and ts hasn't
	// advanced past it, skip the align_down call entirely. W1/MN1 have no
	// fixed duration (calendar weeks/months vary), so always fall through
	// to align_down for those.
	if st.current != nil && st.tf != timeframe.W1 && st.tf != timeframe.MN1 {
		d, err := timeframe.Duration(st.tf)
		if err != nil {
			return false, err
		}
		if ts.Sub(st.lastBoundary) < d {
			st.current.High = max(st.current.High, price)
			st.current.Low = min(st.current.Low, price)
			st.current.Close = price
			st.current.Volume += volume
			return false, nil
		}
	}

	boundary, err := timeframe.AlignDown(ts, st.tf)
	if err != nil {
		return false, err
	}

	if st.current != nil && boundary.Equal(st.lastBoundary) {
		st.current.High = max(st.current.High, price)
		st.current.Low = min(st.current.Low, price)
		st.current.Close = price
		st.current.Volume += volume
		return false, nil
	}

	closed := false
	if st.current != nil {
		st.completed = append(st.completed, *st.current)
		closed = true
	}
	st.current = &Candle{
		OpenTime: boundary,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   volume,
	}
	st.lastBoundary = boundary
	return closed, nil
}

// Snapshot returns the last count completed candles for tf, in
// chronological order. Results are cached by the (completed_count,
// requested_count) key and only rebuilt when that key changes.
func (b *Builder) Snapshot(tf timeframe.Timeframe, count int) (*Series, error) {
	st, ok := b.states[tf]
	if !ok {
		return nil, &UnmaintainedTimeframeError{Symbol: b.symbol, Timeframe: tf}
	}
	return st.snapshot(count), nil
}

func (st *tfState) snapshot(count int) *Series {
	key := snapshotKey{completed: len(st.completed), requested: count}
	if st.cachedSeries != nil && st.cacheKey == key {
		return st.cachedSeries
	}

	n := count
	if n > len(st.completed) {
		n = len(st.completed)
	}
	start := len(st.completed) - n
	window := st.completed[start:]

	s := &Series{
		OpenTime: make([]time.Time, n),
		Open:     make([]float64, n),
		High:     make([]float64, n),
		Low:      make([]float64, n),
		Close:    make([]float64, n),
		Volume:   make([]int64, n),
	}
	for i, c := range window {
		s.OpenTime[i] = c.OpenTime
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}

	st.cacheKey = key
	st.cachedSeries = s
	return s
}

// UnmaintainedTimeframeError is returned when Snapshot is asked for a
// timeframe the builder was never configured to track.
type UnmaintainedTimeframeError struct {
	Symbol    string
	Timeframe timeframe.Timeframe
}

func (e *UnmaintainedTimeframeError) Error() string {
	return "candle: " + e.Symbol + " does not maintain timeframe " + string(e.Timeframe)
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
