package capabilities

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestForward_PassesThroughVerbatim(t *testing.T) {
	var gotPath, gotQuery, gotHost, gotHeader string
	var gotBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHost = r.Host
		gotHeader = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer backend.Close()

	capability, _ := New("orders", backend.URL)
	d := NewDispatcher(5 * time.Second)

	header := http.Header{}
	header.Set("X-Custom", "yes")
	header.Set("Connection", "keep-alive") // hop-by-hop, must be dropped

	res, err := d.Forward(context.Background(), capability, http.MethodPost, "/orders", "limit=5", header, []byte(`{"sku":"a-1"}`))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Status != http.StatusCreated {
		t.Errorf("status = %d, want 201", res.Status)
	}
	if string(res.Body) != `{"id":42}` {
		t.Errorf("body = %s", res.Body)
	}
	if res.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", res.Header.Get("Content-Type"))
	}
	if gotPath != "/orders" || gotQuery != "limit=5" {
		t.Errorf("backend saw %s?%s", gotPath, gotQuery)
	}
	if gotHeader != "yes" {
		t.Error("custom header was not forwarded")
	}
	if string(gotBody) != `{"sku":"a-1"}` {
		t.Errorf("backend body = %s", gotBody)
	}
	// The backend must see its own host, not the gateway's.
	if gotHost == "gateway.example.com" {
		t.Error("gateway host leaked to the backend")
	}
}

func TestForward_BackendErrorBodyIsNotReclassified(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"voucher expired"}`))
	}))
	defer backend.Close()

	capability, _ := New("orders", backend.URL)
	res, err := NewDispatcher(0).Forward(context.Background(), capability, http.MethodGet, "/x", "", nil, nil)
	if err != nil {
		t.Fatalf("a backend 400 is a dispatch success, got %v", err)
	}
	if res.Status != http.StatusBadRequest || string(res.Body) != `{"error":"voucher expired"}` {
		t.Errorf("got %d %s", res.Status, res.Body)
	}
}

func TestForward_Unreachable(t *testing.T) {
	// Grab a port and close it so the connection is refused.
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := backend.URL
	backend.Close()

	capability, _ := New("orders", addr)
	_, err := NewDispatcher(5 * time.Second).Forward(context.Background(), capability, http.MethodGet, "/orders", "", nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %T", err)
	}
	if de.Kind != KindUnreachable {
		t.Errorf("kind = %d, want KindUnreachable", de.Kind)
	}
	if de.Capability != "orders" {
		t.Errorf("capability = %q, want orders", de.Capability)
	}
}

func TestForward_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()

	capability, _ := New("orders", backend.URL)
	_, err := NewDispatcher(30 * time.Millisecond).Forward(context.Background(), capability, http.MethodGet, "/slow", "", nil, nil)

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Kind != KindTimeout {
		t.Errorf("kind = %d, want KindTimeout", de.Kind)
	}
}

func TestForward_ClientCanceled(t *testing.T) {
	started := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	capability, _ := New("orders", backend.URL)
	_, err := NewDispatcher(5 * time.Second).Forward(ctx, capability, http.MethodGet, "/slow", "", nil, nil)

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Kind != KindCanceled {
		t.Errorf("kind = %d, want KindCanceled", de.Kind)
	}
}
