package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_ImplementsStore(_ *testing.T) {
	var _ Store = (*Memory)(nil)
}

func TestMemory_SetAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)

	if err := m.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if string(got) != "value1" {
		t.Errorf("expected value1, got %s", got)
	}
}

func TestMemory_Miss(t *testing.T) {
	m := NewMemory(10, time.Minute)
	if _, err := m.Get(context.Background(), "missing"); err != ErrMiss {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestMemory_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)
	_ = m.Set(ctx, "key1", []byte("v"), 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "key1"); err != ErrMiss {
		t.Errorf("expected miss after TTL, got %v", err)
	}
}

func TestMemory_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 10*time.Millisecond)
	_ = m.Set(ctx, "key1", []byte("v"), 0) // falls back to default

	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "key1"); err != ErrMiss {
		t.Errorf("expected miss after default TTL, got %v", err)
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Minute)
	_ = m.Set(ctx, "a", []byte("a"), 0)
	_ = m.Set(ctx, "b", []byte("b"), 0)
	_ = m.Set(ctx, "c", []byte("c"), 0) // should evict "a"

	if _, err := m.Get(ctx, "a"); err != ErrMiss {
		t.Error("expected 'a' to be evicted")
	}
	if _, err := m.Get(ctx, "b"); err != nil {
		t.Error("expected 'b' to be present")
	}
	if _, err := m.Get(ctx, "c"); err != nil {
		t.Error("expected 'c' to be present")
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)
	_ = m.Set(ctx, "key1", []byte("v"), 0)

	if err := m.Delete(ctx, "key1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "key1"); err != ErrMiss {
		t.Error("expected miss after delete")
	}
	// Deleting again must not error.
	if err := m.Delete(ctx, "key1"); err != nil {
		t.Errorf("delete absent key: %v", err)
	}
}

func TestMemory_Overwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)
	_ = m.Set(ctx, "key1", []byte("old"), 0)
	_ = m.Set(ctx, "key1", []byte("new"), 0)

	got, err := m.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("expected new, got %s", got)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", m.Len())
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				_ = m.Set(ctx, key, []byte{byte(j)}, 0)
				_, _ = m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
