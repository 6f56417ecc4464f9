package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/marketlens/trend_reports/internal/models"
)

func newTestCache(t *testing.T) (*RowCache, *miniredis.Miniredis, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	rc := New(client, "trend", time.Hour, 30, 5, time.UTC)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return rc, server, cleanup
}

func sampleRows() []models.RawRow {
	return []models.RawRow{
		{Date: "2024-01-01", EntityName: "A", Category: models.CategoryProducts, Spend: 10, Sales: 50},
		{Date: "2024-01-02", EntityName: "A", Category: models.CategoryProducts, Spend: 20},
	}
}

func TestRowCacheRoundTrip(t *testing.T) {
	rc, _, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	key := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-02")
	if key != "trend:products_2024-01-01_2024-01-02" {
		t.Fatalf("unexpected key %s", key)
	}

	if _, ok := rc.Get(ctx, key); ok {
		t.Fatal("expected miss on empty cache")
	}

	rc.Set(ctx, key, sampleRows())
	rows, ok := rc.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(rows) != 2 || rows[0].EntityName != "A" || rows[0].Spend != 10 {
		t.Fatalf("unexpected cached rows %+v", rows)
	}
}

func TestRowCacheTTLExpiry(t *testing.T) {
	rc, _, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	key := rc.Key(models.CategoryCampaigns, "2024-01-01", "2024-01-02")

	// Anchor the clock so the noon boundary is not in play: write at 13:00,
	// read at 14:30 the same day. Only the 1h TTL can invalidate.
	base := time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)
	rc.now = func() time.Time { return base }
	rc.Set(ctx, key, sampleRows())

	rc.now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, ok := rc.Get(ctx, key); !ok {
		t.Fatal("entry should be valid within TTL")
	}

	rc.now = func() time.Time { return base.Add(90 * time.Minute) }
	if _, ok := rc.Get(ctx, key); ok {
		t.Fatal("entry should expire after TTL")
	}
}

func TestRowCacheNoonBoundary(t *testing.T) {
	rc, _, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	key := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-01")

	// Written at 11:30; the valid window ends at the same day's noon even
	// though the 1h TTL has not elapsed by 12:01.
	written := time.Date(2024, 5, 10, 11, 30, 0, 0, time.UTC)
	rc.now = func() time.Time { return written }
	rc.Set(ctx, key, sampleRows())

	rc.now = func() time.Time { return time.Date(2024, 5, 10, 11, 59, 0, 0, time.UTC) }
	if _, ok := rc.Get(ctx, key); !ok {
		t.Fatal("entry should be valid just before noon")
	}

	rc.now = func() time.Time { return time.Date(2024, 5, 10, 12, 1, 0, 0, time.UTC) }
	if _, ok := rc.Get(ctx, key); ok {
		t.Fatal("entry written before noon should be invalid after noon")
	}
}

func TestRowCacheCorruptEntryIsMissAndDeleted(t *testing.T) {
	rc, server, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	key := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-02")
	server.Set(key, "{not json")

	if _, ok := rc.Get(ctx, key); ok {
		t.Fatal("corrupt entry must read as a miss")
	}
	if server.Exists(key) {
		t.Fatal("corrupt entry must be deleted")
	}
}

func TestRowCacheEvictsOldestWhenOverBudget(t *testing.T) {
	rc, server, cleanup := newTestCache(t)
	defer cleanup()
	rc.maxEntries = 3
	rc.evictionBatch = 2

	ctx := context.Background()
	base := time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rc.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		key := rc.Key(models.CategoryProducts, "2024-01-01", time.Date(2024, 1, 2+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
		rc.Set(ctx, key, sampleRows())
	}

	oldest := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-02")
	if !server.Exists(oldest) {
		t.Fatal("precondition: oldest entry present")
	}

	rc.now = func() time.Time { return base.Add(10 * time.Minute) }
	newest := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-09")
	rc.Set(ctx, newest, sampleRows())

	if server.Exists(oldest) {
		t.Fatal("oldest entry should have been evicted")
	}
	if !server.Exists(newest) {
		t.Fatal("new entry should be written after eviction")
	}
}

func TestRowCacheEvictExpired(t *testing.T) {
	rc, server, cleanup := newTestCache(t)
	defer cleanup()

	ctx := context.Background()
	fresh := rc.Key(models.CategoryProducts, "2024-01-01", "2024-01-02")
	stale := rc.Key(models.CategoryProducts, "2023-12-01", "2023-12-02")

	base := time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)
	rc.now = func() time.Time { return base.Add(-26 * time.Hour) }
	rc.Set(ctx, stale, sampleRows())
	rc.now = func() time.Time { return base }
	rc.Set(ctx, fresh, sampleRows())

	removed := rc.EvictExpired(ctx)
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if server.Exists(stale) {
		t.Fatal("stale entry should be removed")
	}
	if !server.Exists(fresh) {
		t.Fatal("fresh entry should survive")
	}
}
