// Package breaker provides a small, thread-safe circuit breaker used to stop
// hammering a failing remote cache tier.
//
// States:
//   - Closed: calls flow normally; consecutive failures are counted.
//   - Open: calls are rejected; after OpenTimeout the breaker moves to HalfOpen.
//   - HalfOpen: trial calls are let through; enough consecutive successes close
//     the breaker, any failure opens it again.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is the current breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("breaker: circuit open")

// Config holds the breaker parameters. Zero fields fall back to
// DefaultConfig values.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trip the
	// breaker.
	FailureThreshold int

	// OpenTimeout is how long the breaker rejects calls before probing.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of consecutive successful trial calls
	// needed to close the breaker.
	HalfOpenMaxSuccess int
}

// DefaultConfig trips after five failures and retries after five seconds.
var DefaultConfig = Config{
	FailureThreshold:   5,
	OpenTimeout:        5 * time.Second,
	HalfOpenMaxSuccess: 1,
}

// Breaker is a circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
	nowFunc   func() time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig.OpenTimeout
	}
	if cfg.HalfOpenMaxSuccess <= 0 {
		cfg.HalfOpenMaxSuccess = DefaultConfig.HalfOpenMaxSuccess
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// State returns the current state. An Open breaker whose timeout elapsed
// reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Allow reports whether a call may proceed now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.HalfOpenMaxSuccess
	default:
		return false
	}
}

// Record feeds the outcome of a call into the breaker. A nil err is a success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	if err == nil {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.HalfOpenMaxSuccess {
				b.state = Closed
				b.failures = 0
				b.successes = 0
			}
		}
		return
	}

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case HalfOpen:
		b.openLocked()
	}
}

// Do runs fn when the breaker allows it and records the result. It returns
// ErrOpen without calling fn otherwise.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	b.Record(err)
	return err
}

func (b *Breaker) advanceLocked() {
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) openLocked() {
	b.state = Open
	b.openedAt = b.nowFunc()
	b.successes = 0
}
