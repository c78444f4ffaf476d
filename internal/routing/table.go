// Package routing maps inbound request paths to backend capability domains.
// The table is built once at startup and looked up read-only per request;
// matching is prefix-based with longest-prefix-wins so that
// /api/admin/orders can resolve to a more specific capability than the
// general /api/admin catch-all.
package routing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry is one immutable route table record.
type Entry struct {
	// Prefix is matched against the start of the inbound path, on a path
	// segment boundary.
	Prefix string
	// Capability names the backend domain that serves this prefix.
	Capability string
	// RewriteBase, when set, is prepended to the remainder of the path
	// after Prefix is stripped.
	RewriteBase string
	// RequiresAuth demands a verified bearer credential.
	RequiresAuth bool
	// RequiresRole, when set, additionally demands this exact role claim.
	RequiresRole string
	// CacheTTL overrides the gateway's default response-cache TTL for GET
	// requests on this route. Zero means use the default.
	CacheTTL time.Duration
}

// Match is the result of resolving a path against the table.
type Match struct {
	Entry *Entry
	// ForwardPath is the exact path the backend expects: Prefix stripped,
	// RewriteBase prepended.
	ForwardPath string
}

// Table holds route entries sorted by descending prefix length.
type Table struct {
	entries []Entry
}

// NewTable builds a Table from entries. Prefixes must be non-empty, start
// with "/", and be unique.
func NewTable(entries []Entry) (*Table, error) {
	seen := make(map[string]struct{}, len(entries))
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)

	for _, e := range sorted {
		if e.Prefix == "" || !strings.HasPrefix(e.Prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must start with /", e.Prefix)
		}
		if e.Capability == "" {
			return nil, fmt.Errorf("route %q has no capability", e.Prefix)
		}
		if _, dup := seen[e.Prefix]; dup {
			return nil, fmt.Errorf("duplicate route prefix %q", e.Prefix)
		}
		seen[e.Prefix] = struct{}{}
	}

	// Longest prefix first; ties broken lexicographically for determinism.
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Prefix) != len(sorted[j].Prefix) {
			return len(sorted[i].Prefix) > len(sorted[j].Prefix)
		}
		return sorted[i].Prefix < sorted[j].Prefix
	})

	return &Table{entries: sorted}, nil
}

// Resolve returns the most specific route matching path, along with the
// rewritten forward path, or false when no entry matches.
func (t *Table) Resolve(path string) (Match, bool) {
	for i := range t.entries {
		e := &t.entries[i]
		rest, ok := matchPrefix(path, e.Prefix)
		if !ok {
			continue
		}
		forward := e.RewriteBase + rest
		if forward == "" {
			forward = "/"
		}
		return Match{Entry: e, ForwardPath: forward}, true
	}
	return Match{}, false
}

// Entries returns a copy of the table in match order, for the admin API.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// matchPrefix reports whether path falls under prefix on a segment
// boundary, returning the unmatched remainder. "/api/products" matches
// "/api/products" and "/api/products/5" but not "/api/productsales".
func matchPrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}
