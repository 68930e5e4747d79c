// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package livefeed serves the dashboard's read side: current snapshots
// plus change subscriptions for the ranked journey list and per-journey
// latest points.
package livefeed

import (
	"context"

	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
)

// DefaultJourneyListLimit bounds the ranked list when no limit is
// configured.
const DefaultJourneyListLimit = 10

// Publisher exposes feed reads and subscriptions. Subscriptions follow
// the storage Watch contract: serialized callbacks, coalesced bursts,
// and no callback after Cancel returns.
type Publisher struct {
	journeys *storage.JourneyStore
	limit    int
}

// NewPublisher creates a Publisher. limit bounds the ranked journey
// list; zero selects the default.
func NewPublisher(journeys *storage.JourneyStore, limit int) *Publisher {
	if limit <= 0 {
		limit = DefaultJourneyListLimit
	}
	return &Publisher{journeys: journeys, limit: limit}
}

// RecentJourneys returns the ranked journey list, most recently updated
// first.
func (p *Publisher) RecentJourneys(ctx context.Context) ([]models.Journey, error) {
	return p.journeys.RecentJourneys(ctx, p.limit)
}

// Journey returns one journey summary.
func (p *Publisher) Journey(ctx context.Context, journeyID string) (*models.Journey, error) {
	return p.journeys.Journey(ctx, journeyID)
}

// History returns the full point history in route replay order.
func (p *Publisher) History(ctx context.Context, journeyID string) ([]models.Point, error) {
	return p.journeys.History(ctx, journeyID)
}

// LatestPoint returns the most recently received point for a journey.
func (p *Publisher) LatestPoint(ctx context.Context, journeyID string) (*models.Point, error) {
	return p.journeys.LatestPoint(ctx, journeyID)
}

// WatchLatestPoint subscribes to new points for one journey. Errors in
// decoding are delivered in-band; the subscription stays live.
func (p *Publisher) WatchLatestPoint(journeyID string, fn func(*models.Point, error)) *storage.Subscription {
	return p.journeys.WatchPoints(journeyID, fn)
}

// WatchJourneys subscribes to the ranked journey list. Any summary
// change triggers a fresh ranking; consecutive deliveries may carry an
// identical list, which consumers must tolerate.
func (p *Publisher) WatchJourneys(fn func([]models.Journey, error)) *storage.Subscription {
	return p.journeys.WatchSummaries(func(_ *models.Journey, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		list, err := p.RecentJourneys(context.Background())
		if err != nil {
			logging.Warn().Err(err).Msg("rank journeys for feed update")
			fn(nil, err)
			return
		}
		fn(list, nil)
	})
}
