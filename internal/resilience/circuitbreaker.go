// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that protects callers from cascading failures.
// [FallbackGroup] composes multiple instances of any provider type with per-entry
// circuit breakers so that a failing primary is automatically bypassed in favour
// of healthy fallbacks. The typed wrappers ([LLMFallback], [TTSFallback],
// [STTFallback], [ImageFallback], [MusicFallback]) implement the corresponding
// provider interfaces, so failover chains built from the configured fallback
// lists plug into the engine exactly like a single provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// rejecting calls: either the cooldown since it opened has not elapsed, or the
// half-open probe budget is already spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker]'s operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. All probes
	// succeeding closes the breaker; one failing reopens it.
	StateHalfOpen
)

// String returns the state's name.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive failures trip a closed breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget per half-open round: the number of
	// probe calls admitted, and the number of successes needed to close.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name     string
	trip     int
	cooldown time.Duration
	probeMax int

	mu        sync.Mutex
	state     State
	fails     int       // consecutive failures while closed
	openedAt  time.Time // when the breaker last opened
	probes    int       // probes admitted this half-open round
	probeWins int       // probes that succeeded this round
}

// NewCircuitBreaker creates a breaker from cfg, substituting defaults for
// zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     cfg.Name,
		trip:     cfg.MaxFailures,
		cooldown: cfg.ResetTimeout,
		probeMax: cfg.HalfOpenMax,
	}
	if cb.trip <= 0 {
		cb.trip = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.probeMax <= 0 {
		cb.probeMax = 3
	}
	return cb
}

// Execute runs fn unless the breaker rejects the call, and feeds the result
// back into the breaker's accounting. The error from fn is returned as-is so
// callers can still inspect it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, probe)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe. It performs the open → half-open transition lazily, on the
// first call after the cooldown.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker probing", "name", cb.name, "budget", cb.probeMax)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.probeMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle folds a finished call into the breaker state.
func (cb *CircuitBreaker) settle(callErr error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case callErr == nil && probe:
		// A concurrent probe may have reopened the breaker while this one
		// was in flight; its success must not close a fresh open round.
		if cb.state != StateHalfOpen {
			return
		}
		cb.probeWins++
		if cb.probeWins >= cb.probeMax {
			cb.state = StateClosed
			cb.fails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}

	case callErr == nil:
		cb.fails = 0

	case probe:
		// One failed probe ends the whole round.
		cb.state = StateOpen
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker reopened by failed probe", "name", cb.name)

	default:
		cb.fails++
		if cb.state == StateClosed && cb.fails >= cb.trip {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			slog.Warn("circuit breaker opened", "name", cb.name, "failures", cb.fails)
		}
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports half-open even though the transition itself happens on the
// next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all accounting.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.fails = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
