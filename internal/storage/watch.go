// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"strings"
	"sync"

	"github.com/waymark-io/waymark/internal/metrics"
)

// Subscription is a change-notification handle. Cancel is the only
// cancellation primitive; subscriptions have no timeout and persist
// until cancelled.
//
// Delivery guarantees:
//   - callbacks run serialized on a dedicated goroutine, never
//     concurrently with each other;
//   - bursts coalesce per key. Notification runs after commit, outside
//     the transaction, so concurrent committers may enqueue out of
//     commit order; a delivery may carry a value another committed
//     write has already superseded, until the next write re-delivers.
//     Consumers must tolerate duplicates, skipped intermediates, and
//     late values;
//   - after Cancel returns, the callback is never invoked again.
//
// Cancel must not be called from inside the subscription's own callback;
// cancelling a different subscription from a callback is fine (the
// dashboard does exactly that when switching journeys).
type Subscription struct {
	prefix   string
	exact    bool
	fn       func(Change)
	registry *watchRegistry

	// pendingMu guards the coalescing buffer so writers never block on a
	// slow consumer callback.
	pendingMu sync.Mutex
	pending   map[string][]byte
	order     []string

	// mu serializes callback invocation against Cancel.
	mu     sync.Mutex
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// Cancel stops delivery and blocks until any in-flight callback has
// returned. Idempotent.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	if s.registry != nil {
		s.registry.remove(s)
	}
	metrics.TrackWatchSubscription(false)
}

// matches reports whether a committed key belongs to this subscription.
// Keyed records have no terminator after the id, so exact subscriptions
// must not fall back to prefix matching ("device/D1" would otherwise
// also see "device/D10").
func (s *Subscription) matches(key string) bool {
	if s.exact {
		return key == s.prefix
	}
	return strings.HasPrefix(key, s.prefix)
}

// enqueue records a change for delivery, coalescing per key.
func (s *Subscription) enqueue(c Change) {
	s.pendingMu.Lock()
	if _, seen := s.pending[c.Key]; !seen {
		s.order = append(s.order, c.Key)
	}
	s.pending[c.Key] = c.Value
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takePending drains the coalescing buffer in arrival order.
func (s *Subscription) takePending() []Change {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	batch := make([]Change, 0, len(s.order))
	for _, key := range s.order {
		batch = append(batch, Change{Key: key, Value: s.pending[key]})
	}
	s.pending = make(map[string][]byte)
	s.order = s.order[:0]
	return batch
}

// run is the delivery loop. One goroutine per subscription.
func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			batch := s.takePending()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				s.mu.Lock()
				if s.closed {
					s.mu.Unlock()
					return
				}
				s.fn(c)
				s.mu.Unlock()
			}
		}
	}
}

// watchRegistry fans committed changes out to matching subscriptions.
type watchRegistry struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{subs: make(map[*Subscription]struct{})}
}

func (r *watchRegistry) add(prefix string, exact bool, fn func(Change)) *Subscription {
	sub := &Subscription{
		prefix:   prefix,
		exact:    exact,
		fn:       fn,
		registry: r,
		pending:  make(map[string][]byte),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go sub.run()
	metrics.TrackWatchSubscription(true)
	return sub
}

func (r *watchRegistry) remove(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
}

// notify delivers committed changes to all matching subscriptions.
// Called after transaction commit only.
func (r *watchRegistry) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs {
		for _, c := range changes {
			if sub.matches(c.Key) {
				sub.enqueue(c)
			}
		}
	}
}

// close cancels all subscriptions. Used on store shutdown.
func (r *watchRegistry) close() {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
