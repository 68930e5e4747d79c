// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waymark-io/waymark/internal/models"
)

// newRegisteredClient registers a hub-only client (no network
// connection) so broadcast paths can be exercised directly.
func newRegisteredClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 4),
	}
	select {
	case hub.Register <- client:
	case <-time.After(2 * time.Second):
		t.Fatal("register timed out")
	}
	return client
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("hub exit = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, cancel
}

func TestHubBroadcastsToRegisteredClients(t *testing.T) {
	hub, _ := startHub(t)
	client := newRegisteredClient(t, hub)

	point := &models.Point{JourneyID: "J1", Latitude: 28.6}
	hub.BroadcastPoint(point)

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypePoint {
			t.Errorf("type = %q", msg.Type)
		}
		got, ok := msg.Data.(*models.Point)
		if !ok || got.JourneyID != "J1" {
			t.Errorf("data = %+v", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub, _ := startHub(t)
	client := newRegisteredClient(t, hub)

	hub.Unregister <- client
	// The send channel closes on unregister.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send channel never closed")
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	client := newRegisteredClient(t, hub)

	// Fill the buffer without draining, then overflow it.
	for i := 0; i < cap(client.send)+1; i++ {
		hub.BroadcastJourneyList([]models.Journey{{ID: "J1"}})
	}

	deadline := time.After(2 * time.Second)
	for {
		if hub.ClientCount() == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("slow client still registered, count = %d", hub.ClientCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDropDoesNotBlockAfterHubStops(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- hub.Serve(ctx) }()

	client := newRegisteredClient(t, hub)
	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// A connection closing during shutdown detaches after the serve
	// loop stopped receiving on Unregister.
	dropped := make(chan struct{})
	go func() {
		hub.drop(client)
		close(dropped)
	}()
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("drop blocked after hub stopped")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients after drop = %d", hub.ClientCount())
	}
}

func TestAttachBeforeServeTakesDirectPath(t *testing.T) {
	hub := NewHub()
	client := &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 4),
	}

	attached := make(chan struct{})
	go func() {
		hub.attach(client)
		close(attached)
	}()
	select {
	case <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("attach blocked with no serve loop")
	}
	if hub.ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", hub.ClientCount())
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := newRegisteredClient(t, hub)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("exit err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel never closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients after shutdown = %d", hub.ClientCount())
	}
}
