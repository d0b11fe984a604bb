package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] served a call.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breakers of a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker; Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of one provider type.
// A call goes to the first entry whose breaker admits it and that succeeds.
//
// Register entries before sharing the group.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry after the existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Status reports every entry's breaker in order.
func (fg *FallbackGroup[T]) Status() []BreakerStatus {
	out := make([]BreakerStatus, 0, len(fg.entries))
	for i := range fg.entries {
		out = append(out, fg.entries[i].breaker.Status())
	}
	return out
}

// Execute calls fn with each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	result, _, err := executeNamed(fg, fn)
	return result, err
}

// executeNamed also reports which entry served the call. A cancelled or
// expired context ends the walk: every later entry would fail the same way.
func executeNamed[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Warn("resilience: fallback provider served request",
					"requested", fg.entries[0].name, "serving", entry.name, "reason", lastErr)
			}
			return result, entry.name, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return zero, "", err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider with open circuit", "provider", entry.name)
		default:
			slog.Warn("resilience: provider failed", "provider", entry.name, "err", err)
		}
		lastErr = err
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
