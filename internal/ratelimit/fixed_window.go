// Package ratelimit provides a simple in-memory fixed-window rate limiter.
// Requests are counted in non-overlapping buckets of a fixed length; the
// counter resets at each bucket boundary. Bursting at window boundaries is
// an accepted tradeoff of the policy.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Decision reports whether a request is permitted and, when it is not, how
// long the client should wait before the window resets.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds,
// never negative.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter counts requests for a single client key within a fixed window.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	max         int
	windowStart time.Time
	count       int
}

// New creates a Limiter permitting max requests per window. Defaults are
// applied for zero/negative values: window=15m, max=100.
func New(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if max <= 0 {
		max = 100
	}
	return &Limiter{window: window, max: max}
}

// Allow counts one request and decides whether it may proceed.
func (l *Limiter) Allow() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	l.count++
	if l.count > l.max {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.windowStart.Add(l.window).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: l.max - l.count}
}

// Store maintains per-key Limiter instances sharing the same window and max.
type Store struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	window   time.Duration
	max      int
}

// NewStore creates a Store whose per-key limiters share window and max.
func NewStore(window time.Duration, max int) *Store {
	return &Store{
		limiters: make(map[string]*Limiter),
		window:   window,
		max:      max,
	}
}

// Allow checks (and creates if needed) the limiter for key.
func (s *Store) Allow(key string) Decision {
	// Fast path — limiter already exists.
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l.Allow()
	}

	// Slow path — create new limiter.
	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok = s.limiters[key]; ok {
		return l.Allow()
	}
	l = New(s.window, s.max)
	s.limiters[key] = l
	return l.Allow()
}

// Len returns the number of tracked client keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Sweep discards limiters whose window has long elapsed, bounding memory
// for one-off clients. Callers run it periodically from a background
// goroutine.
func (s *Store) Sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, l := range s.limiters {
		l.mu.Lock()
		stale := !l.windowStart.IsZero() && now.Sub(l.windowStart) >= 2*l.window
		l.mu.Unlock()
		if stale {
			delete(s.limiters, key)
		}
	}
}
