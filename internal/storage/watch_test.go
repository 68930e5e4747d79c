// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchDeliversCommittedWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got := make(chan Change, 8)
	sub := store.Watch("point/J1/", func(c Change) { got <- c })
	defer sub.Cancel()

	err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("point/J1/"+fmt.Sprintf("%020d", 1), []byte("p1"))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case c := <-got:
		if string(c.Value) != "p1" {
			t.Errorf("change value = %s", c.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestWatchIgnoresOtherPrefixes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got := make(chan Change, 8)
	sub := store.Watch("journey/", func(c Change) { got <- c })
	defer sub.Cancel()

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("device/D1", []byte("x"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case c := <-got:
		t.Fatalf("unexpected delivery for %s", c.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchKeyIgnoresExtendedKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got := make(chan Change, 8)
	sub := store.WatchKey("device/D1", func(c Change) { got <- c })
	defer sub.Cancel()

	// "device/D1" is a byte prefix of "device/D10"; an exact-key
	// subscription must not match it.
	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("device/D10", []byte("other"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case c := <-got:
		t.Fatalf("unexpected delivery for %s", c.Key)
	case <-time.After(100 * time.Millisecond):
	}

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("device/D1", []byte("mine"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case c := <-got:
		if c.Key != "device/D1" || string(c.Value) != "mine" {
			t.Errorf("change = %s=%s", c.Key, c.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exact-key change")
	}
}

func TestWatchNotDeliveredOnAbortedTx(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got := make(chan Change, 8)
	sub := store.Watch("journey/", func(c Change) { got <- c })
	defer sub.Cancel()

	_ = store.Update(ctx, func(tx Tx) error {
		if err := tx.Set("journey/J1", []byte("x")); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})

	select {
	case c := <-got:
		t.Fatalf("aborted write notified: %s", c.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var calls atomic.Int64
	sub := store.Watch("journey/", func(Change) { calls.Add(1) })
	sub.Cancel()

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("journey/J1", []byte("after-cancel"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The callback must never fire after Cancel has returned.
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("callback fired %d times after Cancel", n)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	sub := store.Watch("journey/", func(Change) {})
	sub.Cancel()
	sub.Cancel()
}

func TestCancelWaitsForInFlightCallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	sub := store.Watch("journey/", func(Change) {
		close(entered)
		<-release
		finished.Store(true)
	})

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("journey/J1", []byte("x"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	<-entered

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel never returned")
	}
	if !finished.Load() {
		t.Error("Cancel returned before the callback finished")
	}
}

func TestBurstCoalescesToNewestPerKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Hold the delivery goroutine on the first change so the rest of the
	// burst piles into the coalescing buffer.
	first := make(chan struct{})
	release := make(chan struct{})
	got := make(chan Change, 16)
	var once atomic.Bool

	sub := store.Watch("journey/", func(c Change) {
		if once.CompareAndSwap(false, true) {
			close(first)
			<-release
		}
		got <- c
	})
	defer sub.Cancel()

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("journey/J0", []byte("hold"))
	}); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	<-first

	for i := 1; i <= 5; i++ {
		if err := store.Update(ctx, func(tx Tx) error {
			return tx.Set("journey/J1", []byte(fmt.Sprintf("v%d", i)))
		}); err != nil {
			t.Fatalf("burst update %d: %v", i, err)
		}
	}
	close(release)

	<-got // the held first change

	// All J1 writes coalesce into one delivery carrying the newest value.
	select {
	case c := <-got:
		if c.Key != "journey/J1" || string(c.Value) != "v5" {
			t.Errorf("coalesced change = %s=%s, want journey/J1=v5", c.Key, c.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced change")
	}

	select {
	case c := <-got:
		t.Fatalf("extra delivery %s=%s after coalescing", c.Key, c.Value)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelOtherSubscriptionFromCallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var otherCalls atomic.Int64
	other := store.Watch("journey/", func(Change) { otherCalls.Add(1) })

	done := make(chan struct{})
	var once atomic.Bool
	sub := store.Watch("device/", func(Change) {
		if once.CompareAndSwap(false, true) {
			other.Cancel()
			close(done)
		}
	})
	defer sub.Cancel()

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("device/D1", []byte("x"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	if err := store.Update(ctx, func(tx Tx) error {
		return tx.Set("journey/J1", []byte("x"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := otherCalls.Load(); n != 0 {
		t.Fatalf("cancelled subscription fired %d times", n)
	}
}

func TestCloseCancelsSubscriptions(t *testing.T) {
	store, err := OpenBadger(Options{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sub := store.Watch("journey/", func(Change) {})
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Cancel after Close must be a no-op, not a deadlock or panic.
	sub.Cancel()
}
