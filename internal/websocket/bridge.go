// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package websocket

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/waymark-io/waymark/internal/events"
	"github.com/waymark-io/waymark/internal/livefeed"
	"github.com/waymark-io/waymark/internal/logging"
)

// Bridge consumes bus events and broadcasts them to dashboard clients.
// Point events pass through directly; journey events trigger a fresh
// ranked list so every dashboard sees the same ordering the REST API
// would return.
type Bridge struct {
	bus  *events.Bus
	hub  *Hub
	feed *livefeed.Publisher
}

// NewBridge creates a Bridge.
func NewBridge(bus *events.Bus, hub *Hub, feed *livefeed.Publisher) *Bridge {
	return &Bridge{bus: bus, hub: hub, feed: feed}
}

// Serve consumes all three topics until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.bus.SubscribeEvents(ctx, events.TopicPointStored, b.onPoint)
	})
	g.Go(func() error {
		return b.bus.SubscribeEvents(ctx, events.TopicJourneyUpdated, b.onJourney)
	})
	g.Go(func() error {
		return b.bus.SubscribeEvents(ctx, events.TopicModeStatus, b.onModeStatus)
	})

	return g.Wait()
}

func (b *Bridge) onPoint(_ context.Context, event *events.Event) error {
	if event.Point == nil {
		return nil
	}
	b.hub.BroadcastPoint(event.Point)
	return nil
}

func (b *Bridge) onJourney(ctx context.Context, event *events.Event) error {
	if event.Journey == nil {
		return nil
	}
	list, err := b.feed.RecentJourneys(ctx)
	if err != nil {
		// Nack would just replay the same failing read; log and move on.
		logging.Warn().Err(err).Msg("rank journeys for websocket broadcast")
		return nil
	}
	b.hub.BroadcastJourneyList(list)
	return nil
}

func (b *Bridge) onModeStatus(_ context.Context, event *events.Event) error {
	if event.DeviceState == nil {
		return nil
	}
	b.hub.BroadcastModeStatus(event.DeviceState)
	return nil
}
