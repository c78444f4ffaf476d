// Package capabilities models the named backend domains behind the gateway
// (catalog, orders, payments, ...) and the dispatcher that forwards client
// requests to them.
//
// A capability is opaque to the gateway: a base URL plus a name. The
// dispatcher performs exactly one forwarding attempt per request and
// classifies the outcome; retry policy, if any, belongs to the caller.
package capabilities

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Capability is one backend domain reachable at a base URL.
type Capability struct {
	name    string
	baseURL string
}

// New creates a Capability after validating the base URL.
func New(name, baseURL string) (*Capability, error) {
	if name == "" {
		return nil, fmt.Errorf("capability name is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("capability %s: invalid base URL %q", name, baseURL)
	}
	return &Capability{name: name, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Name returns the capability's domain name.
func (c *Capability) Name() string { return c.name }

// BaseURL returns the capability's root URL (no trailing slash).
func (c *Capability) BaseURL() string { return c.baseURL }

// Registry manages the configured capabilities for lookup by name.
type Registry struct {
	capabilities map[string]*Capability
}

// NewRegistry creates a new empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]*Capability),
	}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c *Capability) {
	r.capabilities[c.Name()] = c
}

// Get returns a capability by name and whether it was found.
func (r *Registry) Get(name string) (*Capability, bool) {
	c, ok := r.capabilities[name]
	return c, ok
}

// List returns the names of all registered capabilities, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
