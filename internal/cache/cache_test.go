package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLRUCacheBasic(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "stats", []byte(`{"totalCases":3}`), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "stats")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != `{"totalCases":3}` {
			t.Errorf("unexpected value: %s", val)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		val, err := c.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %s", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "doomed", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "doomed")
		if val != nil {
			t.Errorf("expected nil after delete")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		c.Set(ctx, "k", []byte("v1"), time.Minute)
		c.Set(ctx, "k", []byte("v2"), time.Minute)
		val, _ := c.Get(ctx, "k")
		if string(val) != "v2" {
			t.Errorf("expected v2, got %s", val)
		}
	})
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "ephemeral", []byte("x"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected expired entry to miss")
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("x"), time.Minute)
	}

	size, capacity := c.Stats()
	if size != 3 {
		t.Errorf("expected size 3, got %d", size)
	}
	if capacity != 3 {
		t.Errorf("expected capacity 3, got %d", capacity)
	}

	// Oldest entries evicted
	val, _ := c.Get(ctx, "key-0")
	if val != nil {
		t.Errorf("expected key-0 to be evicted")
	}
	val, _ = c.Get(ctx, "key-4")
	if val == nil {
		t.Errorf("expected key-4 to be present")
	}
}

func TestNewCacheFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
