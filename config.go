// Package edgegateway provides the edge gateway for the Cartwheel
// storefront: a single HTTP entry point that rate-limits clients,
// authenticates bearer credentials with a caching layer, routes requests by
// path prefix to backend capability domains, transparently caches
// idempotent GET responses, and normalises upstream failures into a stable
// client error contract.
//
// The Gateway type is the main entry point: create one with New (or
// NewWithStores to supply Redis-backed caches) and mount it as an
// http.Handler. Configuration can be loaded from a YAML or JSON file using
// [LoadConfig] and overlaid with environment variables via [ApplyEnv].
package edgegateway

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "15m" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the configuration for the edge gateway.
type Config struct {
	// Capabilities maps each backend domain name to its base URL.
	Capabilities map[string]string `json:"capabilities" yaml:"capabilities"`
	// Routes is the prefix-based route table; longest prefix wins.
	Routes []RouteConfig `json:"routes" yaml:"routes"`
	// RateLimit bounds requests per client within a fixed window.
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	// Auth configures credential verification and caching.
	Auth AuthConfig `json:"auth" yaml:"auth"`
	// Cache configures the GET response cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`
	// UpstreamTimeout bounds each forwarding call.
	UpstreamTimeout Duration `json:"upstream_timeout,omitempty" yaml:"upstream_timeout,omitempty"`
	// Breaker configures the per-capability circuit breaker.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	// CORSOrigins lists the allowed cross-origin origins. Empty allows any.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	// Dev exposes internal error detail to clients. Never set in production.
	Dev bool `json:"dev,omitempty" yaml:"dev,omitempty"`
}

// RouteConfig is one entry of the configured route table.
type RouteConfig struct {
	Prefix       string   `json:"prefix" yaml:"prefix"`
	Capability   string   `json:"capability" yaml:"capability"`
	RewriteBase  string   `json:"rewrite_base,omitempty" yaml:"rewrite_base,omitempty"`
	RequiresAuth bool     `json:"requires_auth,omitempty" yaml:"requires_auth,omitempty"`
	RequiresRole string   `json:"requires_role,omitempty" yaml:"requires_role,omitempty"`
	CacheTTL     Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

// RateLimitConfig bounds requests per client key per fixed window.
type RateLimitConfig struct {
	Window Duration `json:"window,omitempty" yaml:"window,omitempty"`
	Max    int      `json:"max,omitempty" yaml:"max,omitempty"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	// Secret is the HS256 signing secret shared with the auth capability.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	// CredentialTTL bounds how long a verified identity may be cached.
	CredentialTTL Duration `json:"credential_ttl,omitempty" yaml:"credential_ttl,omitempty"`
}

// CacheConfig configures the GET response cache.
type CacheConfig struct {
	// ResponseTTL is the default TTL for cached GET responses; individual
	// routes may override it.
	ResponseTTL Duration `json:"response_ttl,omitempty" yaml:"response_ttl,omitempty"`
	// Capacity bounds the in-memory stores (entries per store).
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// BreakerConfig configures the per-capability circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int      `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	OpenTimeout      Duration `json:"open_timeout,omitempty" yaml:"open_timeout,omitempty"`
}

// Default configuration values. Absent config falls back to these.
const (
	DefaultRateLimitWindow = 15 * time.Minute
	DefaultRateLimitMax    = 100
	DefaultCredentialTTL   = time.Hour
	DefaultResponseTTL     = 5 * time.Minute
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultCacheCapacity   = 4096
)

// DefaultConfig returns the storefront gateway defaults: every capability on
// localhost and the standard /api route table.
func DefaultConfig() Config {
	return Config{
		Capabilities: map[string]string{
			"auth":           "http://localhost:5001",
			"catalog":        "http://localhost:5002",
			"cart":           "http://localhost:5003",
			"orders":         "http://localhost:5004",
			"payments":       "http://localhost:5005",
			"administration": "http://localhost:5006",
			"notifications":  "http://localhost:5007",
		},
		Routes: []RouteConfig{
			{Prefix: "/api/auth", Capability: "auth", RewriteBase: "/auth"},
			{Prefix: "/api/products", Capability: "catalog", RewriteBase: "/products"},
			{Prefix: "/api/vouchers", Capability: "catalog", RewriteBase: "/vouchers"},
			{Prefix: "/api/cart", Capability: "cart", RewriteBase: "/cart", RequiresAuth: true},
			{Prefix: "/api/orders", Capability: "orders", RewriteBase: "/orders", RequiresAuth: true},
			{Prefix: "/api/payments", Capability: "payments", RewriteBase: "/payments", RequiresAuth: true},
			{Prefix: "/api/webhooks", Capability: "payments", RewriteBase: "/webhooks"},
			{Prefix: "/api/notifications", Capability: "notifications", RewriteBase: "/notifications", RequiresAuth: true},
			{Prefix: "/api/admin/orders", Capability: "orders", RewriteBase: "/admin/orders", RequiresAuth: true, RequiresRole: "admin"},
			{Prefix: "/api/admin", Capability: "administration", RewriteBase: "/admin", RequiresAuth: true, RequiresRole: "admin"},
		},
		RateLimit: RateLimitConfig{
			Window: Duration(DefaultRateLimitWindow),
			Max:    DefaultRateLimitMax,
		},
		Auth: AuthConfig{
			Secret:        "dev-secret-change-me",
			CredentialTTL: Duration(DefaultCredentialTTL),
		},
		Cache: CacheConfig{
			ResponseTTL: Duration(DefaultResponseTTL),
			Capacity:    DefaultCacheCapacity,
		},
		UpstreamTimeout: Duration(DefaultUpstreamTimeout),
	}
}
