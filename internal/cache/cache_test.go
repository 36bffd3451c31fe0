package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func sampleResult() *domain.FileResult {
	return &domain.FileResult{
		Report: &domain.Report{
			SuspiciousAccounts: []domain.SuspiciousAccount{},
			FraudRings: []domain.FraudRing{{
				RingID:         "RING_001",
				PatternType:    "cycle",
				MemberAccounts: []string{"A", "B", "C"},
				RiskScore:      91.49,
			}},
			Summary: domain.Summary{TotalAccountsAnalyzed: 3, FraudRingsDetected: 1},
		},
		Summary: []domain.RingSummaryRow{{RingID: "RING_001", MemberCount: 3}},
		SavedTo: "/download/sample_analysis.json",
	}
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := NewLRUCache(10)
		c.now = clock.now

		_ = c.Set(ctx, "expiring", []byte("temp"), time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.t = clock.t.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("ResultRoundTrip", func(t *testing.T) {
		if err := cache.SetResult(ctx, "abc123", sampleResult(), time.Hour); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}

		got, err := cache.GetResult(ctx, "abc123")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached result")
		}
		if got.SavedTo != "/download/sample_analysis.json" {
			t.Errorf("unexpected saved_to %s", got.SavedTo)
		}
		if len(got.Report.FraudRings) != 1 || got.Report.FraudRings[0].RiskScore != 91.49 {
			t.Errorf("unexpected rings %+v", got.Report.FraudRings)
		}
	})

	t.Run("ResultMiss", func(t *testing.T) {
		got, err := cache.GetResult(ctx, "unknown")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil on miss; got %v, %v", got, err)
		}
	})

	t.Run("CorruptResult", func(t *testing.T) {
		_ = cache.Set(ctx, resultPrefix+"broken", []byte("{not json"), time.Minute)
		if _, err := cache.GetResult(ctx, "broken"); err == nil {
			t.Error("expected decode error for corrupt entry")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c domain.Cache = Noop{}

	if err := c.SetResult(ctx, "d", sampleResult(), time.Hour); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}
	got, err := c.GetResult(ctx, "d")
	if err != nil || got != nil {
		t.Errorf("noop cache must always miss, got %v, %v", got, err)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := cache.(Noop); !ok {
			t.Error("expected Noop for none type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
