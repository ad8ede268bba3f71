package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup]. The breaker Name is overwritten with the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and zero or more fallbacks of the
// same type. Execute tries them in registration order, skipping entries whose
// breaker is open.
//
// Register all entries before the first Execute; AddFallback is not safe to
// call concurrently with Execute.
type FallbackGroup[T any] struct {
	entries   []fallbackEntry[T]
	cfg       FallbackConfig
	isFailure func(error) bool
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, isFailure: cfg.CircuitBreaker.IsFailure}
	if fg.isFailure == nil {
		fg.isFailure = func(err error) bool { return err != nil }
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Breaker returns the breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute calls fn with each entry until one returns nil and reports the
// name of the entry that succeeded. An error the breaker config does not
// classify as a failure stops the walk and is returned unchanged. If every
// entry fails, the error wraps [ErrAllFailed] and the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) (string, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return entry.name, nil
		}
		if !errors.Is(err, ErrCircuitOpen) && !fg.isFailure(err) {
			return entry.name, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", entry.name)
		} else {
			slog.Warn("resilience: backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
