package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jax-backtest-kernel/observability"
)

// redisRecord is the gzip-free wire shape cached in Redis: the on-disk
// shard is already gzip+JSONL for cold storage, but Redis values are
// cheaper to keep as a single JSON blob than a multi-line stream, so the
// hot tier uses its own encoding rather than reusing writeShard's format.
type redisRecord struct {
	Meta Metadata `json:"meta"`
	Rows []Row    `json:"rows"`
}

func redisKey(symbol string, day time.Time, datasetKey string) string {
	return fmt.Sprintf("datacache:%s:%s:%s", datasetKey, symbol, day.Format("2006-01-02"))
}

// readDayRedis attempts the hot tier before falling through to disk. Any
// Get failure, redis.Nil included, is a miss, not an error.
func (c *Cache) readDayRedis(symbol string, day time.Time, datasetKey string) (Metadata, []Row, bool) {
	if c.redisClient == nil {
		return Metadata{}, nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.redisClient.Get(ctx, redisKey(symbol, day, datasetKey)).Bytes()
	if err != nil {
		observability.IncCacheRequest("redis", "miss")
		return Metadata{}, nil, false
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		observability.IncCacheRequest("redis", "miss")
		return Metadata{}, nil, false
	}
	observability.IncCacheRequest("redis", "hit")
	return rec.Meta, rec.Rows, true
}

// writeDayRedis write-throughs a day's shard to the hot tier. Failures are
// swallowed: Redis is an optional accelerator, never a source of truth,
// so a write failure here must not fail the caller's disk-backed
// operation.
func (c *Cache) writeDayRedis(symbol string, day time.Time, datasetKey string, meta Metadata, rows []Row) {
	if c.redisClient == nil {
		return
	}
	data, err := json.Marshal(redisRecord{Meta: meta, Rows: rows})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.redisClient.Set(ctx, redisKey(symbol, day, datasetKey), data, c.redisTTL).Err()
}
