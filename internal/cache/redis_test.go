package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	r, err := NewRedis(context.Background(), "redis://"+mr.Addr(), "gw", time.Minute)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_ImplementsStore(_ *testing.T) {
	var _ Store = (*Redis)(nil)
}

func TestRedis_SetAndGet(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	if err := r.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := r.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if string(got) != "value1" {
		t.Errorf("expected value1, got %s", got)
	}
}

func TestRedis_Miss(t *testing.T) {
	r, _ := newTestRedis(t)
	if _, err := r.Get(context.Background(), "missing"); err != ErrMiss {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestRedis_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_ = r.Set(ctx, "key1", []byte("v"), 5*time.Second)
	mr.FastForward(10 * time.Second)

	if _, err := r.Get(ctx, "key1"); err != ErrMiss {
		t.Errorf("expected miss after TTL, got %v", err)
	}
}

func TestRedis_Delete(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	_ = r.Set(ctx, "key1", []byte("v"), 0)
	if err := r.Delete(ctx, "key1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, "key1"); err != ErrMiss {
		t.Error("expected miss after delete")
	}
}

func TestRedis_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_ = r.Set(ctx, "key1", []byte("v"), 0)
	if !mr.Exists("gw:key1") {
		t.Error("expected prefixed key gw:key1 in redis")
	}
}

func TestRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not-a-url", "", time.Minute); err == nil {
		t.Error("expected error for invalid url")
	}
}
