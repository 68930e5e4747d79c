// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package dashboard implements the server-side dashboard session: it
// tracks which journey is active, follows the newest journey
// automatically, and fans storage change notifications out to view
// callbacks. Map rendering is the consumer's problem.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/waymark-io/waymark/internal/devicecontrol"
	"github.com/waymark-io/waymark/internal/livefeed"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
)

// Views holds the render-layer callbacks. All callbacks are invoked
// from the client's event loop, one at a time; they must not block.
type Views struct {
	OnPoint      func(*models.Point)
	OnJourneys   func([]models.Journey)
	OnModeStatus func(*models.DeviceControlState)
}

// DashboardState is the observable session state.
type DashboardState struct {
	// ActiveJourneyID is the journey the dashboard is following.
	ActiveJourneyID string

	// Pinned reports whether the active journey was selected manually.
	Pinned bool
}

// Client is one dashboard session. All state mutations run on a single
// event loop goroutine, so subscription callbacks can never interleave
// with follow switches.
type Client struct {
	feed    *livefeed.Publisher
	control *devicecontrol.Channel
	views   Views

	// mailbox. Puts never block, so cancelling a subscription from the
	// loop cannot deadlock against an in-flight callback.
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	// Loop-owned. gen invalidates deliveries enqueued by subscriptions
	// that have since been torn down.
	runCtx    context.Context
	gen       uint64
	pointSub  *storage.Subscription
	statusSub *storage.Subscription
	pinnedAt  time.Time

	stateMu sync.Mutex
	state   DashboardState
}

// NewClient creates a dashboard session.
func NewClient(feed *livefeed.Publisher, control *devicecontrol.Channel, views Views) *Client {
	return &Client{
		feed:    feed,
		control: control,
		views:   views,
		wake:    make(chan struct{}, 1),
		runCtx:  context.Background(),
	}
}

// Run drives the session until the context is cancelled. It subscribes
// to the ranked journey list and processes all deliveries and Select
// calls on one goroutine.
func (c *Client) Run(ctx context.Context) error {
	c.runCtx = ctx

	journeysSub := c.feed.WatchJourneys(func(list []models.Journey, err error) {
		if err != nil {
			logging.Warn().Err(err).Msg("journey list delivery failed")
			return
		}
		c.enqueue(func() { c.onJourneyList(list) })
	})
	defer func() {
		journeysSub.Cancel()
		c.teardown()
	}()

	// Seed from the current state; the watch only reports changes.
	if list, err := c.feed.RecentJourneys(ctx); err == nil {
		c.onJourneyList(list)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			for _, f := range c.drain() {
				f()
			}
		}
	}
}

// Select pins the dashboard to a journey. The pin holds until a journey
// updated after the pin was taken reaches the head of the ranked list.
func (c *Client) Select(journeyID string) {
	c.enqueue(func() {
		c.pinnedAt = time.Now()
		c.follow(journeyID, true)
	})
}

// State returns a snapshot of the session state.
func (c *Client) State() DashboardState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) setState(s DashboardState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Client) enqueue(f func()) {
	c.mu.Lock()
	c.queue = append(c.queue, f)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) drain() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// onJourneyList handles a ranked list delivery: forward it to the view,
// then decide whether to switch the active journey.
func (c *Client) onJourneyList(list []models.Journey) {
	if c.views.OnJourneys != nil {
		c.views.OnJourneys(list)
	}
	if len(list) == 0 {
		return
	}

	head := list[0]
	state := c.State()
	if head.ID == state.ActiveJourneyID {
		return
	}
	if state.Pinned && !head.LastServerTime.After(c.pinnedAt) {
		// The pin outranks everything that predates it.
		return
	}
	c.follow(head.ID, false)
}

// follow switches the active journey. The old point and device-status
// subscriptions are cancelled before the new ones are created; a stale
// delivery that was already queued is discarded by the generation
// check.
func (c *Client) follow(journeyID string, pinned bool) {
	c.teardown()
	c.gen++
	gen := c.gen
	c.setState(DashboardState{ActiveJourneyID: journeyID, Pinned: pinned})

	c.pointSub = c.feed.WatchLatestPoint(journeyID, func(p *models.Point, err error) {
		if err != nil {
			logging.Warn().Err(err).Str("journey_id", journeyID).Msg("point delivery failed")
			return
		}
		c.enqueue(func() {
			if gen != c.gen {
				return
			}
			if c.views.OnPoint != nil {
				c.views.OnPoint(p)
			}
		})
	})

	// The device is keyed by the active journey id.
	c.statusSub = c.control.WatchState(journeyID, func(s *models.DeviceControlState, err error) {
		if err != nil {
			logging.Warn().Err(err).Str("device_id", journeyID).Msg("status delivery failed")
			return
		}
		c.enqueue(func() {
			if gen != c.gen {
				return
			}
			if c.views.OnModeStatus != nil {
				c.views.OnModeStatus(s)
			}
		})
	})

	// Seed the view with current snapshots; the watches only report
	// future changes.
	if p, err := c.feed.LatestPoint(c.runCtx, journeyID); err == nil && c.views.OnPoint != nil {
		c.views.OnPoint(p)
	}
	if s, err := c.control.State(c.runCtx, journeyID); err == nil && c.views.OnModeStatus != nil {
		c.views.OnModeStatus(s)
	}
}

func (c *Client) teardown() {
	if c.pointSub != nil {
		c.pointSub.Cancel()
		c.pointSub = nil
	}
	if c.statusSub != nil {
		c.statusSub.Cancel()
		c.statusSub = nil
	}
}
