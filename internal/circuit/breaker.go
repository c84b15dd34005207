// Package circuit provides a small circuit breaker used to gate access to
// flaky backing stores.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the probe interval elapses.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
	StateHalfOpen
)

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

// Breaker trips on the first failure and, once probeInterval has passed,
// admits one probe at a time until a success closes it again. It is
// deliberately eager to open: a cache tier is optional, so there is no
// value in letting more requests hit a backend that just failed.
type Breaker struct {
	probeInterval time.Duration
	nowFn         func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.nowFn = fn }
}

// New returns a closed breaker that waits probeInterval between probes.
func New(probeInterval time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		probeInterval: probeInterval,
		nowFn:         time.Now,
		state:         StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a request may proceed. When the breaker is open and
// the probe interval has elapsed it moves to half-open and admits the
// caller as the probe; concurrent callers are rejected until the probe
// reports back via Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) < b.probeInterval {
			return false
		}
		b.state = StateHalfOpen
		return true
	default: // half-open, a probe is already in flight
		return false
	}
}

// Success closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
}

// Failure opens the breaker and restarts the probe timer.
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.state = StateOpen
	b.openedAt = b.nowFn()
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Tripped reports whether the breaker is not closed.
func (b *Breaker) Tripped() bool {
	return b.State() != StateClosed
}
