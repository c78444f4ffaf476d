package edgegateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeTempConfig(t, "gateway.yaml", `
capabilities:
  catalog: http://catalog:5002
  orders: http://orders:5004
routes:
  - prefix: /api/products
    capability: catalog
    rewrite_base: /products
    cache_ttl: 90s
  - prefix: /api/orders
    capability: orders
    requires_auth: true
    requires_role: admin
rate_limit:
  window: 1m
  max: 10
upstream_timeout: 5s
dev: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if len(cfg.Routes) != 2 {
		t.Fatalf("routes = %d, want 2 (file table replaces defaults)", len(cfg.Routes))
	}
	if cfg.Routes[0].CacheTTL.Std() != 90*time.Second {
		t.Errorf("cache_ttl = %v, want 90s", cfg.Routes[0].CacheTTL.Std())
	}
	if cfg.Routes[1].RequiresRole != "admin" {
		t.Errorf("requires_role = %q, want admin", cfg.Routes[1].RequiresRole)
	}
	if cfg.RateLimit.Window.Std() != time.Minute || cfg.RateLimit.Max != 10 {
		t.Errorf("rate limit = %v/%d, want 1m/10", cfg.RateLimit.Window.Std(), cfg.RateLimit.Max)
	}
	if cfg.UpstreamTimeout.Std() != 5*time.Second {
		t.Errorf("upstream_timeout = %v, want 5s", cfg.UpstreamTimeout.Std())
	}
	if !cfg.Dev {
		t.Error("dev flag not applied")
	}
	// Defaults survive for fields the file does not set.
	if cfg.Auth.CredentialTTL.Std() != DefaultCredentialTTL {
		t.Errorf("credential TTL = %v, want default", cfg.Auth.CredentialTTL.Std())
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeTempConfig(t, "gateway.json", `{
  "capabilities": {"catalog": "http://catalog:5002"},
  "routes": [{"prefix": "/api/products", "capability": "catalog"}],
  "rate_limit": {"window": "30s", "max": 5}
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RateLimit.Window.Std() != 30*time.Second {
		t.Errorf("window = %v, want 30s", cfg.RateLimit.Window.Std())
	}
}

func TestLoadConfig_SchemaRejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "gateway.yaml", `
capabilities:
  catalog: http://catalog:5002
rate_limiting:
  max: 10
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema error for unknown top-level field")
	}
}

func TestLoadConfig_SchemaRejectsBadPrefix(t *testing.T) {
	path := writeTempConfig(t, "gateway.yaml", `
capabilities:
  catalog: http://catalog:5002
routes:
  - prefix: api/products
    capability: catalog
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema error for prefix without leading slash")
	}
}

func TestValidate_UnknownCapability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routes = append(cfg.Routes, RouteConfig{Prefix: "/api/misc", Capability: "nonexistent"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown capability reference")
	}
}

func TestValidate_DuplicatePrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routes = append(cfg.Routes, RouteConfig{Prefix: "/api/products", Capability: "catalog"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate prefix")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_MAX", "42")
	t.Setenv("RESPONSE_CACHE_TTL", "45s")
	t.Setenv("CATALOG_SERVICE_URL", "http://catalog.internal:8080")
	t.Setenv("CORS_ORIGINS", "https://shop.example.com, https://admin.example.com")
	t.Setenv("GATEWAY_DEV", "true")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Auth.Secret != "env-secret" {
		t.Errorf("secret = %q", cfg.Auth.Secret)
	}
	if cfg.RateLimit.Window.Std() != 2*time.Minute || cfg.RateLimit.Max != 42 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimit.Window.Std(), cfg.RateLimit.Max)
	}
	if cfg.Cache.ResponseTTL.Std() != 45*time.Second {
		t.Errorf("response TTL = %v", cfg.Cache.ResponseTTL.Std())
	}
	if cfg.Capabilities["catalog"] != "http://catalog.internal:8080" {
		t.Errorf("catalog URL = %q", cfg.Capabilities["catalog"])
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://shop.example.com" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
	if !cfg.Dev {
		t.Error("dev flag not applied")
	}
}

func TestApplyEnv_RejectsMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "lots")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("expected error for non-numeric RATE_LIMIT_MAX")
	}
}
