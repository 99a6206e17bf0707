package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackends is returned when every entry in a [Chain] either failed or
// had an open breaker.
var ErrAllBackends = errors.New("resilience: all backends failed")

// ChainConfig configures the per-entry breaker created for each backend in a
// [Chain].
type ChainConfig struct {
	Breaker BreakerConfig
}

// link pairs a backend with its dedicated breaker.
type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain walks a primary and zero or more fallback backends of the same type
// in registration order, skipping entries whose breaker is open.
//
// Register all backends before the first call; calls themselves are safe for
// concurrent use.
type Chain[T any] struct {
	links []link[T]
	cfg   ChainConfig
}

// NewChain creates a [Chain] with primary as its first backend.
func NewChain[T any](name string, primary T, cfg ChainConfig) *Chain[T] {
	bc := cfg.Breaker
	bc.Name = name
	return &Chain[T]{
		links: []link[T]{{name: name, backend: primary, breaker: NewBreaker(bc)}},
		cfg:   cfg,
	}
}

// Add appends a fallback backend, tried after everything registered before it.
func (c *Chain[T]) Add(name string, backend T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewBreaker(bc)})
}

// Do tries fn against each backend in order until one succeeds. Entries with
// an open breaker are skipped. When every entry fails the last error is
// wrapped in [ErrAllBackends].
func (c *Chain[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range c.links {
		l := &c.links[i]
		err := l.breaker.Do(func() error {
			return fn(l.backend)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", l.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", l.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllBackends, lastErr)
}

// DoWith is [Chain.Do] for calls that return a value. It is a package-level
// function because methods cannot introduce type parameters.
func DoWith[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.links {
		l := &c.links[i]
		var out R
		err := l.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(l.backend)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", l.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", l.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackends, lastErr)
}
