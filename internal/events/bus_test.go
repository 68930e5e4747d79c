// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package events

import (
	"context"
	"testing"
	"time"

	"github.com/waymark-io/waymark/internal/models"
)

func TestGoChannelBusDeliversToSubscriber(t *testing.T) {
	bus := NewGoChannelBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Event, 1)
	subscribed := make(chan struct{})
	go func() {
		messages, err := bus.Subscribe(ctx, TopicPointStored)
		if err != nil {
			t.Errorf("subscribe: %v", err)
			close(subscribed)
			return
		}
		close(subscribed)
		msg := <-messages
		event, err := NewSerializer().Unmarshal(msg.Payload)
		if err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		msg.Ack()
		received <- event
	}()
	<-subscribed

	event := NewPointStored(&models.Point{JourneyID: "J1", Latitude: 28.6})
	if err := bus.PublishEvent(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.EventID != event.EventID || got.Point.JourneyID != "J1" {
			t.Errorf("received = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeEventsInvokesHandler(t *testing.T) {
	bus := NewGoChannelBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Event, 1)
	go func() {
		_ = bus.SubscribeEvents(ctx, TopicModeStatus, func(_ context.Context, e *Event) error {
			received <- e
			return nil
		})
	}()
	// Give the consumer time to attach; gochannel drops events published
	// before any subscriber exists.
	time.Sleep(50 * time.Millisecond)

	state := &models.DeviceControlState{DeviceID: "D1"}
	if err := bus.PublishEvent(ctx, NewModeStatus(state)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.DeviceState == nil || got.DeviceState.DeviceID != "D1" {
			t.Errorf("received = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestPublishInvalidEventFails(t *testing.T) {
	bus := NewGoChannelBus()
	defer bus.Close()

	err := bus.PublishEvent(context.Background(), &Event{EventID: "e1", Kind: KindPointStored})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewGoChannelBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := bus.PublishEvent(context.Background(), NewPointStored(&models.Point{JourneyID: "J1"}))
	if err == nil {
		t.Fatal("expected error publishing on closed bus")
	}
}
