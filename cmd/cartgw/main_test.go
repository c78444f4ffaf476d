package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	edgegateway "github.com/cartwheel-labs/edge-gateway"
	"github.com/cartwheel-labs/edge-gateway/internal/admin"
)

func testGateway(t *testing.T, backendURL string) *edgegateway.Gateway {
	t.Helper()
	cfg := edgegateway.Config{
		Capabilities: map[string]string{"catalog": backendURL},
		Routes: []edgegateway.RouteConfig{
			{Prefix: "/api/products", Capability: "catalog", RewriteBase: "/products"},
		},
		RateLimit: edgegateway.RateLimitConfig{Window: edgegateway.Duration(time.Minute), Max: 1000},
		Auth:      edgegateway.AuthConfig{Secret: "test-secret"},
	}
	gw, err := edgegateway.New(cfg)
	if err != nil {
		t.Fatalf("building gateway: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestRouter_Health(t *testing.T) {
	r := newRouter(testGateway(t, "http://localhost:1"), admin.NewKeyStore(), nil, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status       string   `json:"status"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if len(body.Capabilities) != 1 || body.Capabilities[0] != "catalog" {
		t.Errorf("capabilities = %v, want [catalog]", body.Capabilities)
	}

	// /healthz stays as an alias for monitors configured against it.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	r := newRouter(testGateway(t, "http://localhost:1"), admin.NewKeyStore(), nil, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_ProxyErrorEnvelope(t *testing.T) {
	r := newRouter(testGateway(t, "http://localhost:1"), admin.NewKeyStore(), nil, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Error != "route_not_found" {
		t.Errorf("error code = %q, want route_not_found", env.Error)
	}
}

func TestRouter_AdminRequiresKey(t *testing.T) {
	keys := admin.NewKeyStore()
	r := newRouter(testGateway(t, "http://localhost:1"), keys, nil, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without key: status = %d, want 401", rec.Code)
	}

	key, err := keys.Create("test", []string{admin.ScopeAdmin}, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+key.Key)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with key: status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	var snap admin.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Capabilities) != 1 || snap.Capabilities[0].Name != "catalog" {
		t.Errorf("capabilities = %+v", snap.Capabilities)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newRouter(testGateway(t, "http://localhost:1"), admin.NewKeyStore(), nil, []string{"https://shop.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unlisted origins get no CORS grant.
	req = httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}

	// Same-origin traffic (no Origin header) picks up no CORS headers.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("same-origin Allow-Origin = %q, want empty", got)
	}
}
