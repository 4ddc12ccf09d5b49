// Package breaker implements a three-state circuit breaker used to isolate
// failing retrieval providers.
//
//	Closed   — normal operation; all calls pass through.
//	Open     — the provider is failing; calls are rejected immediately.
//	HalfOpen — recovery probing; successes close the breaker again.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call synthetically.
var ErrOpen = errors.New("breaker: open")

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds breaker tuning. Zero values fall back to the defaults:
// 5 consecutive failures to trip, 30s recovery, 3 half-open successes to
// close. IsFailure decides which errors count toward tripping; when nil,
// every non-nil error counts.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	IsFailure        func(error) bool
}

func (c *Config) failureThreshold() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return 5
}

func (c *Config) recoveryTimeout() time.Duration {
	if c.RecoveryTimeout > 0 {
		return c.RecoveryTimeout
	}
	return 30 * time.Second
}

func (c *Config) halfOpenMaxCalls() int {
	if c.HalfOpenMaxCalls > 0 {
		return c.HalfOpenMaxCalls
	}
	return 3
}

// Breaker is safe for concurrent use. State transitions and counters are
// serialized under the mutex; the wrapped call runs outside the lock.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state       State
	failures    int
	halfOpenOKs int
	openedAt    time.Time
}

// New creates a Closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg}
}

// Do runs fn through the breaker. When the breaker is Open and the recovery
// timeout has not elapsed, fn is not invoked and ErrOpen is returned.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.openedAt) < b.cfg.recoveryTimeout() {
			return ErrOpen
		}
		b.state = HalfOpen
		b.halfOpenOKs = 0
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counted := err != nil && b.isFailure(err)

	switch b.state {
	case Closed:
		if counted {
			b.failures++
			if b.failures >= b.cfg.failureThreshold() {
				b.trip()
			}
			return
		}
		if err == nil {
			b.failures = 0
		}

	case HalfOpen:
		if counted {
			// One failed probe sends the breaker straight back to Open.
			b.trip()
			return
		}
		if err == nil {
			b.halfOpenOKs++
			if b.halfOpenOKs >= b.cfg.halfOpenMaxCalls() {
				b.state = Closed
				b.failures = 0
			}
		}
	}
}

// trip moves to Open. Caller must hold the mutex.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenOKs = 0
}

func (b *Breaker) isFailure(err error) bool {
	if b.cfg.IsFailure == nil {
		return true
	}
	return b.cfg.IsFailure(err)
}

// State returns the current state, applying the Open → HalfOpen timer so
// metrics see the same state a call would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.recoveryTimeout() {
		return HalfOpen
	}
	return b.state
}

// Reset forces Closed with zero counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.halfOpenOKs = 0
}
