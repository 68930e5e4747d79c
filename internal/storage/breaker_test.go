// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// flakyStore fails Update/View with a configurable error.
type flakyStore struct {
	Store
	err error
}

func (f *flakyStore) Update(ctx context.Context, fn func(Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.Update(ctx, fn)
}

func (f *flakyStore) View(ctx context.Context, fn func(Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.View(ctx, fn)
}

func TestBreakerPassesThroughHealthyStore(t *testing.T) {
	bs := NewBreakerStore(newTestStore(t), BreakerConfig{})
	ctx := context.Background()

	if err := bs.Update(ctx, func(tx Tx) error {
		return tx.Set("k", []byte("v"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := bs.View(ctx, func(tx Tx) error {
		_, err := tx.Get("k")
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestBreakerOpensOnInfrastructureFailures(t *testing.T) {
	flaky := &flakyStore{
		Store: newTestStore(t),
		err:   fmt.Errorf("%w: disk gone", ErrStorageUnavailable),
	}
	bs := NewBreakerStore(flaky, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := bs.View(ctx, func(Tx) error { return nil }); !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("failure %d: err = %v", i, err)
		}
	}

	// Circuit is open now; even a healthy backend would be bypassed.
	flaky.err = nil
	err := bs.View(ctx, func(Tx) error { return nil })
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("open-circuit err = %v, want ErrStorageUnavailable", err)
	}
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	bs := NewBreakerStore(newTestStore(t), BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	// ErrNotFound and caller errors must not trip the circuit.
	for i := 0; i < 10; i++ {
		err := bs.View(ctx, func(tx Tx) error {
			_, err := tx.Get("missing")
			return err
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}

	if err := bs.Update(ctx, func(tx Tx) error {
		return tx.Set("k", []byte("v"))
	}); err != nil {
		t.Fatalf("circuit tripped on domain errors: %v", err)
	}
}

func TestBreakerWatchBypassesCircuit(t *testing.T) {
	inner := newTestStore(t)
	flaky := &flakyStore{
		Store: inner,
		err:   fmt.Errorf("%w: down", ErrStorageUnavailable),
	}
	bs := NewBreakerStore(flaky, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Hour})
	ctx := context.Background()

	// Trip the circuit.
	_ = bs.View(ctx, func(Tx) error { return nil })
	_ = bs.View(ctx, func(Tx) error { return nil })

	got := make(chan Change, 1)
	sub := bs.Watch("journey/", func(c Change) { got <- c })
	defer sub.Cancel()

	// Writes through the inner store still notify the subscription.
	if err := inner.Update(ctx, func(tx Tx) error {
		return tx.Set("journey/J1", []byte("x"))
	}); err != nil {
		t.Fatalf("inner update: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not deliver while circuit open")
	}
}
