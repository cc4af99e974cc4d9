package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] could serve a
// call, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// permanentError marks a failure that must not be retried on another entry.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that a [FallbackGroup] records it against the
// current entry's breaker and returns it without trying the remaining
// entries. Use it once a call has produced output a retry would duplicate.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// FallbackConfig is the breaker template applied to every entry of a
// [FallbackGroup]. The Name field is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and optional fallbacks of one provider type,
// each behind its own [CircuitBreaker]. Calls go to the first entry whose
// breaker admits them and move on while entries fail.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{value: value, breaker: NewCircuitBreaker(cb)})
}

// Execute runs fn against the entries in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
// When every entry fails, the error wraps [ErrAllFailed] and the last entry
// failure.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range fg.entries {
		var result R
		err := e.breaker.Execute(func() error {
			var err error
			result, err = fn(e.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider with open circuit", "provider", e.breaker.Name())
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		slog.Warn("provider failed, trying next", "provider", e.breaker.Name(), "err", err)
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// BreakerState is the state of one entry's breaker.
type BreakerState struct {
	Name  string
	State State
}

// States reports the breaker state of every entry in call order.
func (fg *FallbackGroup[T]) States() []BreakerState {
	out := make([]BreakerState, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = BreakerState{Name: e.breaker.Name(), State: e.breaker.State()}
	}
	return out
}

// Check returns an error wrapping [ErrAllFailed] while every entry's breaker
// is open, which means the next call would be rejected without being tried.
// It has the signature of a readiness probe.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	var open []string
	for _, s := range fg.States() {
		if s.State != StateOpen {
			return nil
		}
		open = append(open, s.Name)
	}
	return fmt.Errorf("%w: circuits open for %s", ErrAllFailed, strings.Join(open, ", "))
}
