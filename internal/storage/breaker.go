// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/waymark-io/waymark/internal/logging"
)

// BreakerConfig configures the storage circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the
	// circuit. Default: 5.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 15s.
	OpenTimeout time.Duration
}

// BreakerStore decorates a Store with a circuit breaker. When the
// backend fails repeatedly, further operations short-circuit to
// ErrStorageUnavailable instead of piling onto a struggling engine.
// ErrNotFound and caller-supplied errors do not count as failures.
type BreakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner with circuit breaker protection.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 15 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "storage",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Only infrastructure failures trip the breaker. Missing
			// records and domain errors from merge/encode callbacks are
			// the caller's business.
			return err == nil || !errors.Is(err, ErrStorageUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("storage circuit breaker state change")
		},
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (s *BreakerStore) execute(op func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// Update implements Store.
func (s *BreakerStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.execute(func() error { return s.inner.Update(ctx, fn) })
}

// View implements Store.
func (s *BreakerStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.execute(func() error { return s.inner.View(ctx, fn) })
}

// Range implements Store.
func (s *BreakerStore) Range(ctx context.Context, prefix string, limit int, reverse bool, fn func(key string, value []byte) error) error {
	return s.execute(func() error { return s.inner.Range(ctx, prefix, limit, reverse, fn) })
}

// Watch implements Store. Subscriptions bypass the breaker; they do not
// touch the backend, only the in-process notification fan-out.
func (s *BreakerStore) Watch(prefix string, fn func(Change)) *Subscription {
	return s.inner.Watch(prefix, fn)
}

// WatchKey implements Store. Bypasses the breaker like Watch.
func (s *BreakerStore) WatchKey(key string, fn func(Change)) *Subscription {
	return s.inner.WatchKey(key, fn)
}

// Close implements Store.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
