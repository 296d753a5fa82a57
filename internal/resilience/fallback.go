package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when a [FallbackGroup] exhausts its chain without a
// single successful call.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup]. The CircuitBreaker settings
// apply to every entry in the chain; each entry still gets its own breaker so
// one provider's failures never poison another's accounting.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// member is one provider in a failover chain together with its breaker.
type member[T any] struct {
	name     string
	provider T
	breaker  *CircuitBreaker
}

// FallbackGroup is an ordered failover chain over instances of one provider
// type. Calls go to the first entry whose breaker admits them; on failure the
// chain advances to the next entry.
//
// Safe for concurrent use once assembled. AddFallback is not synchronized, so
// build the chain before sharing the group.
type FallbackGroup[T any] struct {
	chain      []member[T]
	cbTemplate CircuitBreakerConfig
}

// NewFallbackGroup builds a chain whose first entry is primary. Register
// further entries with [FallbackGroup.AddFallback]; they are tried in
// registration order.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cbTemplate: cfg.CircuitBreaker}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends provider to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, provider T) {
	cbCfg := fg.cbTemplate
	cbCfg.Name = name
	fg.chain = append(fg.chain, member[T]{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Names lists the chain's entries in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(fg.chain))
	for _, m := range fg.chain {
		names = append(names, m.name)
	}
	return names
}

// Execute runs fn against the chain until one entry succeeds. Entries whose
// breaker is open are skipped. If nothing succeeds the returned error wraps
// [ErrAllFailed] together with the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(p T) (struct{}, error) {
		return struct{}{}, fn(p)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a free function because methods cannot introduce type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		m := &fg.chain[i]
		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.provider)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider circuit open, skipping", "provider", m.name)
			continue
		}
		slog.Warn("provider call failed, trying next in chain",
			"provider", m.name, "error", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
