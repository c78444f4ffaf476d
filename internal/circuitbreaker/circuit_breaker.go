// Package circuitbreaker keeps a failing capability backend from being
// hammered while it is down. The gateway holds one Breaker per capability;
// the dispatch stage asks Allow before forwarding and records the outcome
// afterwards.
//
// A breaker is closed while the backend behaves. A run of consecutive
// failures trips it open, rejecting calls outright. After a cool-off it
// admits probe traffic (half-open): enough consecutive successes close it
// again, any failure trips it straight back open.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker's position. The numeric values feed the
// gateway_circuit_breaker_state gauge directly.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards the dispatch path to one capability.
type Breaker struct {
	capability   string
	failureLimit int
	successLimit int
	coolOff      time.Duration

	mu        sync.Mutex
	tripped   bool
	trippedAt time.Time
	failures  int // consecutive failures while closed
	successes int // consecutive probe successes while half-open
}

// New creates a Breaker for the named capability. Zero or negative knobs
// take the defaults: trip after 5 consecutive failures, close after 1
// probe success, cool off for 30s.
func New(capability string, failureLimit, successLimit int, coolOff time.Duration) *Breaker {
	if failureLimit <= 0 {
		failureLimit = 5
	}
	if successLimit <= 0 {
		successLimit = 1
	}
	if coolOff <= 0 {
		coolOff = 30 * time.Second
	}
	return &Breaker{
		capability:   capability,
		failureLimit: failureLimit,
		successLimit: successLimit,
		coolOff:      coolOff,
	}
}

// Capability returns the name of the backend this breaker guards.
func (b *Breaker) Capability() string { return b.capability }

// State reports the breaker's current position. A tripped breaker whose
// cool-off has elapsed reads as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(time.Now())
}

// state must be called with b.mu held.
func (b *Breaker) state(now time.Time) State {
	switch {
	case !b.tripped:
		return StateClosed
	case now.Sub(b.trippedAt) >= b.coolOff:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Allow reports whether a dispatch to the capability may proceed. Closed
// and half-open admit traffic; open rejects it without an upstream call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(time.Now()) != StateOpen
}

// RecordSuccess notes a completed upstream call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state(time.Now()) {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successLimit {
			b.tripped = false
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed upstream call, tripping the breaker when
// the failure run reaches the limit or when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.state(now) {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureLimit {
			b.trip(now)
		}
	case StateHalfOpen:
		b.trip(now)
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip(now time.Time) {
	b.tripped = true
	b.trippedAt = now
	b.successes = 0
}
