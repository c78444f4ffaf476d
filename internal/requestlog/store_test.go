package requestlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entries := []Entry{
		{TraceID: "t1", ClientKey: "1.2.3.4", Method: "GET", Path: "/api/products", Capability: "catalog", Status: 200, DurationMs: 12},
		{TraceID: "t2", ClientKey: "1.2.3.4", Method: "POST", Path: "/api/orders", Capability: "orders", Status: 201, DurationMs: 80},
		{TraceID: "t3", ClientKey: "5.6.7.8", Method: "GET", Path: "/api/orders/9", Capability: "orders", Status: 503, DurationMs: 3, ErrorCode: "capability_unavailable"},
	}
	for _, e := range entries {
		if err := s.Write(ctx, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	result, err := s.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 3 || len(result.Entries) != 3 {
		t.Fatalf("total = %d, entries = %d, want 3/3", result.Total, len(result.Entries))
	}
	// Newest first.
	if result.Entries[0].TraceID != "t3" {
		t.Errorf("first entry trace = %s, want t3", result.Entries[0].TraceID)
	}
	if result.Entries[0].ErrorCode != "capability_unavailable" {
		t.Errorf("error code = %q", result.Entries[0].ErrorCode)
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_ = s.Write(ctx, Entry{Method: "GET", Path: "/a", Capability: "catalog", Status: 200})
	_ = s.Write(ctx, Entry{Method: "GET", Path: "/b", Capability: "orders", Status: 200})
	_ = s.Write(ctx, Entry{Method: "GET", Path: "/c", Capability: "orders", Status: 503})

	result, err := s.List(ctx, Query{Capability: "orders"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("orders total = %d, want 2", result.Total)
	}

	result, err = s.List(ctx, Query{Capability: "orders", Status: 503})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 1 || result.Entries[0].Path != "/c" {
		t.Errorf("filtered result = %+v", result)
	}
}

func TestList_Paging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_ = s.Write(ctx, Entry{Method: "GET", Path: "/p", Capability: "catalog", Status: 200})
	}

	result, err := s.List(ctx, Query{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 5 || len(result.Entries) != 2 {
		t.Errorf("total = %d, page = %d, want 5/2", result.Total, len(result.Entries))
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour).UTC()
	_ = s.Write(ctx, Entry{Method: "GET", Path: "/old", Status: 200, CreatedAt: old})
	_ = s.Write(ctx, Entry{Method: "GET", Path: "/new", Status: 200})

	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	result, _ := s.List(ctx, Query{})
	if result.Total != 1 || result.Entries[0].Path != "/new" {
		t.Errorf("unexpected remainder: %+v", result)
	}
}
