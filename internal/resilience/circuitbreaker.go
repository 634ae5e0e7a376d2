// Package resilience keeps slow or failing dependencies from stalling the
// caption pipeline.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] orders several instances of one provider type, each behind
// its own breaker. [TranslateFallback] and [LLMFallback] apply that to the
// translation and cleanup backends, and [Reconnector] re-establishes a dropped
// voice connection with exponential backoff.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again,
	// and the cap on concurrent probes. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// no locks held.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
//
// Errors wrapping [context.Canceled] are passed through without being
// counted: a caller giving up says nothing about the dependency's health.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probes        int
	probeSuccess  int
	totalRejected int64
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker is open or the half-open probe budget
// is used up, in which case it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, trans, ok := cb.admit()
	cb.notify(trans)
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.notify(cb.record(probe, err))
	return err
}

type transition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probe bool, trans *transition, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.totalRejected++
			return false, nil, false
		}
		trans = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			cb.totalRejected++
			return false, trans, false
		}
		cb.probes++
		return true, trans, true
	}
	return false, trans, true
}

func (cb *CircuitBreaker) record(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && errors.Is(err, context.Canceled) {
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
		return nil
	}

	if !probe {
		if cb.state != StateClosed {
			// A call admitted while closed finished after the breaker moved on.
			return nil
		}
		if err == nil {
			cb.failures = 0
			return nil
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures)
			return cb.setState(StateOpen)
		}
		return nil
	}

	if cb.state != StateHalfOpen {
		return nil
	}
	if err != nil {
		slog.Warn("circuit breaker probe failed, re-opening", "name", cb.name, "err", err)
		return cb.setState(StateOpen)
	}
	cb.probeSuccess++
	if cb.probeSuccess >= cb.halfOpenMax {
		slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		return cb.setState(StateClosed)
	}
	return nil
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) *transition {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.probes, cb.probeSuccess = 0, 0
	case StateHalfOpen:
		cb.probes, cb.probeSuccess = 0, 0
	case StateClosed:
		cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
	}
	if from == to {
		return nil
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(cb.name, t.from, t.to)
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Rejected returns how many calls were refused with [ErrCircuitOpen].
func (cb *CircuitBreaker) Rejected() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalRejected
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", cb.name)
	cb.notify(t)
}
