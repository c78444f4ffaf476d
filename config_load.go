package edgegateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// configSchema constrains the shape of a config file before it is decoded
// into Config. Semantic rules (route/capability cross references, positive
// limits) are enforced separately by Validate.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "capabilities": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    },
    "routes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["prefix", "capability"],
        "properties": {
          "prefix": {"type": "string", "pattern": "^/"},
          "capability": {"type": "string", "minLength": 1},
          "rewrite_base": {"type": "string"},
          "requires_auth": {"type": "boolean"},
          "requires_role": {"type": "string"},
          "cache_ttl": {"type": "string"}
        },
        "additionalProperties": false
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "window": {"type": "string"},
        "max": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "auth": {
      "type": "object",
      "properties": {
        "secret": {"type": "string"},
        "credential_ttl": {"type": "string"}
      },
      "additionalProperties": false
    },
    "cache": {
      "type": "object",
      "properties": {
        "response_ttl": {"type": "string"},
        "capacity": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "breaker": {
      "type": "object",
      "properties": {
        "failure_threshold": {"type": "integer", "minimum": 1},
        "success_threshold": {"type": "integer", "minimum": 1},
        "open_timeout": {"type": "string"}
      },
      "additionalProperties": false
    },
    "upstream_timeout": {"type": "string"},
    "cors_origins": {"type": "array", "items": {"type": "string"}},
    "dev": {"type": "boolean"}
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// LoadConfig reads a YAML or JSON config file, checks it against the config
// schema and decodes it on top of DefaultConfig. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var doc interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return cfg, fmt.Errorf("config schema: %w", err)
	}

	// Declared route tables and capability maps replace the defaults rather
	// than merging into them: a file that declares either owns it entirely.
	var declared struct {
		Capabilities map[string]string `yaml:"capabilities" json:"capabilities"`
		Routes       []RouteConfig     `yaml:"routes" json:"routes"`
	}
	if err := yaml.Unmarshal(data, &declared); err == nil {
		if declared.Capabilities != nil {
			cfg.Capabilities = nil
		}
		if declared.Routes != nil {
			cfg.Routes = nil
		}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks semantic rules the schema cannot express.
func (c Config) Validate() error {
	if len(c.Capabilities) == 0 {
		return fmt.Errorf("config: no capabilities declared")
	}
	for name, base := range c.Capabilities {
		if name == "" {
			return fmt.Errorf("config: capability with empty name")
		}
		if base == "" {
			return fmt.Errorf("config: capability %q has no base URL", name)
		}
	}
	seen := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("config: route prefix %q must start with /", r.Prefix)
		}
		if seen[r.Prefix] {
			return fmt.Errorf("config: duplicate route prefix %q", r.Prefix)
		}
		seen[r.Prefix] = true
		if _, ok := c.Capabilities[r.Capability]; !ok {
			return fmt.Errorf("config: route %q references unknown capability %q", r.Prefix, r.Capability)
		}
		if r.CacheTTL < 0 {
			return fmt.Errorf("config: route %q has negative cache_ttl", r.Prefix)
		}
	}
	if c.RateLimit.Window < 0 {
		return fmt.Errorf("config: negative rate limit window")
	}
	if c.RateLimit.Max < 0 {
		return fmt.Errorf("config: negative rate limit max")
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("config: negative upstream timeout")
	}
	return nil
}

// ApplyEnv overlays environment variables onto the config. Each variable is
// optional; malformed values are reported rather than silently ignored.
func (c *Config) ApplyEnv() error {
	for name, fn := range map[string]func(string) error{
		"JWT_SECRET": func(v string) error {
			c.Auth.Secret = v
			return nil
		},
		"CREDENTIAL_CACHE_TTL": func(v string) error {
			return parseEnvDuration(v, &c.Auth.CredentialTTL)
		},
		"RATE_LIMIT_WINDOW": func(v string) error {
			return parseEnvDuration(v, &c.RateLimit.Window)
		},
		"RATE_LIMIT_MAX": func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("must be a positive integer")
			}
			c.RateLimit.Max = n
			return nil
		},
		"RESPONSE_CACHE_TTL": func(v string) error {
			return parseEnvDuration(v, &c.Cache.ResponseTTL)
		},
		"UPSTREAM_TIMEOUT": func(v string) error {
			return parseEnvDuration(v, &c.UpstreamTimeout)
		},
		"CORS_ORIGINS": func(v string) error {
			c.CORSOrigins = splitCommaList(v)
			return nil
		},
		"GATEWAY_DEV": func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("must be a boolean")
			}
			c.Dev = b
			return nil
		},
	} {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := fn(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	// Capability base URLs follow the <NAME>_SERVICE_URL convention.
	for name := range c.Capabilities {
		env := strings.ToUpper(name) + "_SERVICE_URL"
		if v := os.Getenv(env); v != "" {
			c.Capabilities[name] = v
		}
	}
	return nil
}

func parseEnvDuration(v string, dst *Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fmt.Errorf("must be a non-negative duration like 30s or 15m")
	}
	*dst = Duration(d)
	return nil
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
