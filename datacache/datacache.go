// Package datacache reads and writes per-day shards on the tiered cache,
// embedding freshness metadata and validating coverage (gaps, staleness,
// missing days) before a range is handed to the replay loop.
//
// Shards are gzip-compressed JSON-lines with the metadata record as the
// first line, so a shard's provenance and freshness travel with the file
// itself rather than in a sidecar that can drift out of sync.
package datacache

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"jax-backtest-kernel/cacheindex"
	"jax-backtest-kernel/domain"
)

// Source identifies where a shard's data originated.
type Source string

const (
	SourceLiveFeed Source = "live_feed"
	SourceArchive  Source = "archive"
)

const cacheVersion = 1

// Metadata is embedded as the first line of every shard file. ContentHash
// is the hex sha256 of the encoded row lines, verified on read so silent
// disk corruption surfaces as CorruptShardError instead of bad replay
// data.
type Metadata struct {
	CachedAt      time.Time `json:"cached_at"`
	Source        Source    `json:"source"`
	FirstDataTime time.Time `json:"first_data_time"`
	LastDataTime  time.Time `json:"last_data_time"`
	RowCount      int       `json:"row_count"`
	CacheVersion  int       `json:"cache_version"`
	ContentHash   string    `json:"content_hash,omitempty"`
}

// Row is one cached record: either a tick or a candle, depending on
// dataset_key. Only the fields relevant to the dataset are populated, so
// the storage layer needs just one type for both shard schemas.
type Row struct {
	Time       time.Time `json:"t"`
	Bid        float64   `json:"bid,omitempty"`
	Ask        float64   `json:"ask,omitempty"`
	Last       float64   `json:"last,omitempty"`
	Open       float64   `json:"open,omitempty"`
	High       float64   `json:"high,omitempty"`
	Low        float64   `json:"low,omitempty"`
	Close      float64   `json:"close,omitempty"`
	Volume     int64     `json:"volume,omitempty"`
	TickVolume int64     `json:"tick_volume,omitempty"`
}

// Cache reads and writes day shards under root, keeping the given Index in
// sync with every write.
type Cache struct {
	root      string
	index     *cacheindex.Index
	ttl       time.Duration
	gapThresh time.Duration

	redisClient *redis.Client
	redisTTL    time.Duration
}

// Config configures a Cache.
type Config struct {
	Root             string
	Index            *cacheindex.Index
	TTL              time.Duration // freshness TTL, default 7 days
	GapThresholdDays int           // default 1

	// Redis, if set, enables a write-through hot tier in front of the
	// on-disk shards: ReadDay checks it first, SaveDay writes through to
	// it. Entirely optional — a nil Redis client makes the cache behave
	// exactly as disk-only.
	Redis    *redis.Client
	RedisTTL time.Duration // default 1 hour
}

// New constructs a Cache.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	gapDays := cfg.GapThresholdDays
	if gapDays == 0 {
		gapDays = 1
	}
	redisTTL := cfg.RedisTTL
	if redisTTL == 0 {
		redisTTL = time.Hour
	}
	return &Cache{
		root:        cfg.Root,
		index:       cfg.Index,
		ttl:         ttl,
		gapThresh:   time.Duration(gapDays) * 24 * time.Hour,
		redisClient: cfg.Redis,
		redisTTL:    redisTTL,
	}
}

func dayDir(root string, day time.Time, datasetKey string) string {
	return filepath.Join(root, day.Format("2006"), day.Format("01"), day.Format("02"), datasetKey)
}

func shardPath(root string, day time.Time, datasetKey, symbol string) string {
	return filepath.Join(dayDir(root, day, datasetKey), symbol+".jsonl.gz")
}

func symbolInfoPath(root string, day time.Time, symbol string) string {
	return filepath.Join(root, day.Format("2006"), day.Format("01"), day.Format("02"), "symbol_info", symbol+".json")
}

// ShardPath returns the on-disk path of a (symbol, day, dataset_key)
// shard, exposed for advisory file-size based estimation (e.g.
// tickstream's EstimateCount).
func (c *Cache) ShardPath(symbol string, day time.Time, datasetKey string) string {
	return shardPath(c.root, day, datasetKey, symbol)
}

// SaveDay writes rows atomically (temp file then rename), writes the
// symbol_info sidecar, and records the day in the cache index.
func (c *Cache) SaveDay(symbol string, day time.Time, datasetKey string, rows []Row, info domain.SymbolInfo, source Source) error {
	if len(rows) == 0 {
		return fmt.Errorf("datacache: SaveDay: no rows for %s/%s/%s", symbol, datasetKey, day.Format("2006-01-02"))
	}

	dir := dayDir(c.root, day, datasetKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("datacache: mkdir %q: %w", dir, err)
	}

	meta := Metadata{
		CachedAt:      time.Now().UTC(),
		Source:        source,
		FirstDataTime: rows[0].Time,
		LastDataTime:  rows[len(rows)-1].Time,
		RowCount:      len(rows),
		CacheVersion:  cacheVersion,
	}

	finalPath := shardPath(c.root, day, datasetKey, symbol)
	tmpPath := finalPath + ".tmp"
	if err := writeShard(tmpPath, meta, rows); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("datacache: rename %q -> %q: %w", tmpPath, finalPath, err)
	}

	if err := writeSymbolInfo(symbolInfoPath(c.root, day, symbol), info); err != nil {
		return err
	}

	if c.index != nil {
		if err := c.index.Add(symbol, datasetKey, day.Format("2006-01-02")); err != nil {
			return fmt.Errorf("datacache: index update: %w", err)
		}
	}

	c.writeDayRedis(symbol, day, datasetKey, meta, rows)
	return nil
}

func writeShard(path string, meta Metadata, rows []Row) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("datacache: encode row: %w", err)
		}
	}
	meta.ContentHash = fmt.Sprintf("%x", sha256.Sum256(body.Bytes()))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("datacache: create %q: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	metaEnc := json.NewEncoder(gz)
	if err := metaEnc.Encode(meta); err != nil {
		return fmt.Errorf("datacache: write metadata: %w", err)
	}
	if _, err := gz.Write(body.Bytes()); err != nil {
		return fmt.Errorf("datacache: write rows: %w", err)
	}
	return nil
}

func writeSymbolInfo(path string, info domain.SymbolInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("datacache: mkdir %q: %w", filepath.Dir(path), err)
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("datacache: marshal symbol info: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("datacache: write %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadDay reads one day's shard, returning its metadata and rows. A
// missing file is reported as a plain *os.PathError (os.IsNotExist). When
// a Redis hot tier is configured, it is consulted first; a hit skips disk
// entirely, a miss falls through to disk and then populates Redis for
// next time.
func (c *Cache) ReadDay(symbol string, day time.Time, datasetKey string) (Metadata, []Row, error) {
	if meta, rows, ok := c.readDayRedis(symbol, day, datasetKey); ok {
		return meta, rows, nil
	}

	path := shardPath(c.root, day, datasetKey, symbol)
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Metadata{}, nil, &CorruptShardError{Path: path, Err: err}
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var meta Metadata
	if !scanner.Scan() {
		return Metadata{}, nil, &CorruptShardError{Path: path, Err: fmt.Errorf("empty shard")}
	}
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return Metadata{}, nil, &CorruptShardError{Path: path, Err: err}
	}

	hasher := sha256.New()
	var rows []Row
	for scanner.Scan() {
		line := scanner.Bytes()
		hasher.Write(line)
		hasher.Write([]byte{'\n'})
		var r Row
		if err := json.Unmarshal(line, &r); err != nil {
			return Metadata{}, nil, &CorruptShardError{Path: path, Err: err}
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, nil, &CorruptShardError{Path: path, Err: err}
	}
	if meta.ContentHash != "" {
		if got := fmt.Sprintf("%x", hasher.Sum(nil)); got != meta.ContentHash {
			return Metadata{}, nil, &CorruptShardError{Path: path, Err: fmt.Errorf("content hash mismatch")}
		}
	}
	c.writeDayRedis(symbol, day, datasetKey, meta, rows)
	return meta, rows, nil
}

// CorruptShardError wraps a decode failure on a cache shard.
type CorruptShardError struct {
	Path string
	Err  error
}

func (e *CorruptShardError) Error() string {
	return fmt.Sprintf("datacache: corrupt shard %q: %v", e.Path, e.Err)
}

func (e *CorruptShardError) Unwrap() error { return e.Err }

// Validate reports whether the cached days covering [start, end] are
// usable without a refetch: a missing first day, a start gap larger than
// gap_threshold_days, any missing day in the range, or a stale first day
// all invalidate the range.
func (c *Cache) Validate(symbol, datasetKey string, start, end time.Time) (bool, string) {
	if end.Before(start) {
		return false, "no days in range"
	}

	firstMeta, _, err := c.ReadDay(symbol, start, datasetKey)
	if err != nil {
		return false, "first day uncached"
	}

	if firstMeta.FirstDataTime.Sub(start) > c.gapThresh {
		return false, "gap at start"
	}

	if time.Since(firstMeta.CachedAt) > c.ttl {
		return false, "stale"
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, _, err := c.ReadDay(symbol, d, datasetKey); err != nil {
			return false, fmt.Sprintf("missing day %s", d.Format("2006-01-02"))
		}
	}

	return true, ""
}

// LoadPartial returns whatever cached days exist in [start, end], the list
// of days still missing, and the symbol info (read from the first day that
// has a sidecar). Stale shards count as missing so a refetch refreshes
// exactly the days whose TTL expired. This is the shape that lets
// DataLoader fetch only the gaps.
func (c *Cache) LoadPartial(symbol, datasetKey string, start, end time.Time) ([]Row, []time.Time, *domain.SymbolInfo, error) {
	if end.Before(start) {
		return nil, nil, nil, nil
	}

	var merged []Row
	var missing []time.Time
	var info *domain.SymbolInfo

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		meta, rows, err := c.ReadDay(symbol, d, datasetKey)
		if err != nil || time.Since(meta.CachedAt) > c.ttl {
			missing = append(missing, d)
			continue
		}
		merged = append(merged, rows...)

		if info == nil {
			if loaded, err := readSymbolInfo(symbolInfoPath(c.root, d, symbol)); err == nil {
				info = loaded
			}
		}
	}
	return merged, missing, info, nil
}

func readSymbolInfo(path string) (*domain.SymbolInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info domain.SymbolInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
