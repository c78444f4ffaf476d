// Package cache provides the time-bounded key/value stores shared by the
// credential cache and the response cache. The default in-process
// implementation is Memory; Redis offers the same contract backed by a
// networked cache.
//
// Expiry is silent: a Get after the entry's TTL behaves exactly like a
// miss. Delete is the only explicit invalidation, used for credential
// revocation; the response cache relies on TTL alone.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a TTL key/value store safe for concurrent use. Implementations
// tolerate last-writer-wins races; callers must not rely on read-modify-write
// atomicity across Get and Set.
type Store interface {
	// Get returns the value for key, or ErrMiss if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A ttl <= 0 falls back to the
	// store's default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Len returns the number of live entries, or -1 when the backend
	// cannot report it cheaply.
	Len() int

	// Close releases backend resources.
	Close() error
}
