package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

// RowCache stores fetched raw row sets keyed by query parameters. An entry is
// valid until the first local noon after it was written, and never longer
// than the configured TTL, whichever boundary is hit first. The cache is
// best-effort: failures degrade to a miss or a dropped write, never an error
// surfaced to the caller.
type RowCache struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	maxEntries    int
	evictionBatch int
	loc           *time.Location
	now           func() time.Time
}

type envelope struct {
	Data      []models.RawRow `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

func New(client *redis.Client, prefix string, ttl time.Duration, maxEntries, evictionBatch int, loc *time.Location) *RowCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if evictionBatch <= 0 {
		evictionBatch = 5
	}
	if prefix == "" {
		prefix = "trend"
	}
	return &RowCache{
		client:        client,
		prefix:        prefix,
		ttl:           ttl,
		maxEntries:    maxEntries,
		evictionBatch: evictionBatch,
		loc:           timeutil.EnsureLocation(loc),
		now:           time.Now,
	}
}

// Key builds the canonical cache key for a query.
func (c *RowCache) Key(category models.Category, startKey, endKey string) string {
	return fmt.Sprintf("%s:%s_%s_%s", c.prefix, category, startKey, endKey)
}

// Get returns the cached rows for the key, or (nil, false) on a miss.
// Expired and corrupted entries are deleted on the way out.
func (c *RowCache) Get(ctx context.Context, key string) ([]models.RawRow, bool) {
	if c == nil || c.client == nil || key == "" {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Corrupt entry: treat as a miss and drop it.
		c.client.Del(ctx, key)
		return nil, false
	}
	if c.expired(env.Timestamp) {
		c.client.Del(ctx, key)
		return nil, false
	}
	return env.Data, true
}

// Set writes the rows under the key, superseding any prior entry. On a write
// failure or when the entry budget is exceeded, the oldest entries for this
// cache's prefix are evicted and the write retried once; a second failure is
// dropped silently.
func (c *RowCache) Set(ctx context.Context, key string, rows []models.RawRow) {
	if c == nil || c.client == nil || key == "" {
		return
	}
	env := envelope{Data: rows, Timestamp: c.now().UnixMilli()}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}

	overBudget := false
	if c.maxEntries > 0 {
		if keys, err := c.prefixKeys(ctx); err == nil && len(keys) >= c.maxEntries {
			overBudget = true
		}
	}
	if !overBudget {
		if err := c.client.Set(ctx, key, payload, 0).Err(); err == nil {
			return
		}
	}

	c.evictOldest(ctx, c.evictionBatch)
	if err := c.client.Set(ctx, key, payload, 0).Err(); err != nil {
		slog.Debug("row cache write dropped", "key", key, "error", err)
	}
}

// EvictExpired removes every entry whose timestamp is at or before the last
// noon boundary, or older than the TTL. Called opportunistically on startup.
func (c *RowCache) EvictExpired(ctx context.Context) int {
	if c == nil || c.client == nil {
		return 0
	}
	keys, err := c.prefixKeys(ctx)
	if err != nil {
		return 0
	}
	removed := 0
	for _, key := range keys {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || c.expired(env.Timestamp) {
			if c.client.Del(ctx, key).Err() == nil {
				removed++
			}
		}
	}
	return removed
}

// expired applies the noon-boundary rule and the secondary TTL. The entry's
// valid window ends at the first noon after it was written; timestamps at or
// before the previous noon are already beyond that window.
func (c *RowCache) expired(tsMillis int64) bool {
	if tsMillis <= 0 {
		return true
	}
	now := c.now().In(c.loc)
	lastNoon := timeutil.LastNoon(now, c.loc)
	ts := time.UnixMilli(tsMillis).In(c.loc)
	if !ts.After(lastNoon) {
		return true
	}
	return now.Sub(ts) > c.ttl
}

func (c *RowCache) prefixKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *RowCache) evictOldest(ctx context.Context, n int) {
	keys, err := c.prefixKeys(ctx)
	if err != nil || len(keys) == 0 {
		return
	}
	type stamped struct {
		key string
		ts  int64
	}
	entries := make([]stamped, 0, len(keys))
	for _, key := range keys {
		var ts int64
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			var env envelope
			if json.Unmarshal(raw, &env) == nil {
				ts = env.Timestamp
			}
		}
		entries = append(entries, stamped{key: key, ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		c.client.Del(ctx, e.key)
	}
}
