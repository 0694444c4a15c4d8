// Package tickstream chronologically merge-streams ticks from many daily
// cache shards (across all requested symbols) using a min-heap, in a
// bounded-memory pipeline independent of total corpus size.
package tickstream

import (
	"container/heap"
	"fmt"
	"os"
	"time"

	"jax-backtest-kernel/datacache"
	"jax-backtest-kernel/domain"
)

// DefaultChunkSize is the chunk size a Loader records when Config.ChunkSize
// is unset. Stream does not split days into chunks: each reader loads one
// whole day shard at a time.
const DefaultChunkSize = 100_000

// DayFile names one (symbol, day) shard to stream from, in the dataset's
// native tick granularity.
type DayFile struct {
	Symbol string
	Day    time.Time
}

// Loader streams GlobalTicks in chronological order across every symbol's
// day shards, breaking ties by the symbols' configured insertion order.
type Loader struct {
	cache      *datacache.Cache
	datasetKey string
	chunkSize  int
	symbolSeq  map[string]uint64 // insertion-order tiebreak key
}

// Config configures a Loader.
type Config struct {
	Cache      *datacache.Cache
	DatasetKey string // typically "ticks"
	ChunkSize  int    // default DefaultChunkSize
	// Symbols defines the tie-break order: earlier entries win ties.
	Symbols []string
}

// New constructs a Loader.
func New(cfg Config) *Loader {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	seq := make(map[string]uint64, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		seq[s] = uint64(i)
	}
	return &Loader{cache: cfg.Cache, datasetKey: cfg.DatasetKey, chunkSize: chunkSize, symbolSeq: seq}
}

// reader pulls rows from one symbol's ordered list of day files, loading
// one whole day into memory at a time.
type reader struct {
	symbol     string
	seq        uint64
	days       []DayFile
	dayIdx     int
	buf        []datacache.Row
	bufIdx     int
	cache      *datacache.Cache
	datasetKey string
}

func (r *reader) fillBuffer() error {
	for r.bufIdx >= len(r.buf) {
		if r.dayIdx >= len(r.days) {
			return nil // exhausted
		}
		_, rows, err := r.cache.ReadDay(r.symbol, r.days[r.dayIdx].Day, r.datasetKey)
		r.dayIdx++
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("tickstream: read day for %s: %w", r.symbol, err)
		}
		r.buf = rows
		r.bufIdx = 0
	}
	return nil
}

func (r *reader) peek() (datacache.Row, bool, error) {
	if err := r.fillBuffer(); err != nil {
		return datacache.Row{}, false, err
	}
	if r.bufIdx >= len(r.buf) {
		return datacache.Row{}, false, nil
	}
	return r.buf[r.bufIdx], true, nil
}

func (r *reader) advance() {
	r.bufIdx++
}

// heapItem is one symbol's current head row, ordered by (Time, seq).
type heapItem struct {
	row    datacache.Row
	reader *reader
}

type minHeap []*heapItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if !h[i].row.Time.Equal(h[j].row.Time) {
		return h[i].row.Time.Before(h[j].row.Time)
	}
	return h[i].reader.seq < h[j].reader.seq
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)   { *h = append(*h, x.(*heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Stream merges dayFiles (grouped by symbol) chronologically and invokes
// emit for each resulting GlobalTick in order. emit returning an error
// stops the stream early.
func (l *Loader) Stream(bySymbol map[string][]DayFile, emit func(domain.GlobalTick) error) error {
	h := &minHeap{}
	heap.Init(h)

	var seqCounter uint64
	for symbol, days := range bySymbol {
		seq, ok := l.symbolSeq[symbol]
		if !ok {
			seq = uint64(len(l.symbolSeq)) + seqCounter
			seqCounter++
		}
		r := &reader{symbol: symbol, seq: seq, days: days, cache: l.cache, datasetKey: l.datasetKey}
		row, ok, err := r.peek()
		if err != nil {
			return err
		}
		if ok {
			heap.Push(h, &heapItem{row: row, reader: r})
		}
	}

	var globalSeq uint64
	for h.Len() > 0 {
		item := heap.Pop(h).(*heapItem)
		gt := domain.GlobalTick{
			Tick: domain.Tick{
				Time:   item.row.Time,
				Symbol: item.reader.symbol,
				Bid:    item.row.Bid,
				Ask:    item.row.Ask,
				Last:   item.row.Last,
				Volume: item.row.Volume,
			},
			SeqNo: globalSeq,
		}
		globalSeq++

		// Filter ticks with bid == ask == 0 before they reach the broker.
		if gt.Bid != 0 || gt.Ask != 0 {
			if err := emit(gt); err != nil {
				return err
			}
		}

		item.reader.advance()
		row, ok, err := item.reader.peek()
		if err != nil {
			return err
		}
		if ok {
			item.row = row
			heap.Push(h, item)
		}
	}
	return nil
}

// EstimateCount gives an advisory (not precise) row count across all day
// files, based on file size rather than decoding every shard.
func (l *Loader) EstimateCount(bySymbol map[string][]DayFile) int64 {
	const avgRowBytes = 48 // rough estimate for an uncompressed tick row
	var total int64
	for symbol, days := range bySymbol {
		for _, d := range days {
			info, err := os.Stat(l.cache.ShardPath(symbol, d.Day, l.datasetKey))
			if err != nil {
				continue
			}
			// gzip typically compresses JSON-lines tick data ~4-6x.
			total += info.Size() * 5 / avgRowBytes
		}
	}
	return total
}
