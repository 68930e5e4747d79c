// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/waymark-io/waymark/internal/devicecontrol"
	"github.com/waymark-io/waymark/internal/livefeed"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

// viewRecorder captures view callback deliveries.
type viewRecorder struct {
	mu     sync.Mutex
	points []*models.Point
	modes  []*models.DeviceControlState
	lists  [][]models.Journey
}

func (v *viewRecorder) views() Views {
	return Views{
		OnPoint: func(p *models.Point) {
			v.mu.Lock()
			v.points = append(v.points, p)
			v.mu.Unlock()
		},
		OnJourneys: func(list []models.Journey) {
			v.mu.Lock()
			v.lists = append(v.lists, list)
			v.mu.Unlock()
		},
		OnModeStatus: func(s *models.DeviceControlState) {
			v.mu.Lock()
			v.modes = append(v.modes, s)
			v.mu.Unlock()
		},
	}
}

func (v *viewRecorder) lastPointJourney() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.points) == 0 {
		return ""
	}
	return v.points[len(v.points)-1].JourneyID
}

func (v *viewRecorder) lastMode() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.modes) == 0 {
		return ""
	}
	return v.modes[len(v.modes)-1].Config.Mode
}

type testStack struct {
	journeys *storage.JourneyStore
	control  *devicecontrol.Channel
	client   *Client
	rec      *viewRecorder
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	store, err := storage.OpenBadger(storage.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	journeys := storage.NewJourneyStore(store)
	devices := storage.NewDeviceStore(store)
	control := devicecontrol.NewChannel(devices, nil, nil)
	feed := livefeed.NewPublisher(journeys, 10)

	rec := &viewRecorder{}
	client := NewClient(feed, control, rec.views())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("client exit = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})

	return &testStack{journeys: journeys, control: control, client: client, rec: rec}
}

func (s *testStack) submit(t *testing.T, journeyID string) {
	t.Helper()
	_, _, err := s.journeys.ApplySample(context.Background(), storage.Sample{
		JourneyID:  journeyID,
		Latitude:   28.6,
		Longitude:  77.2,
		DeviceTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("apply sample: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAutoFollowsNewestJourney(t *testing.T) {
	s := newTestStack(t)

	s.submit(t, "J-a")
	waitFor(t, func() bool { return s.client.State().ActiveJourneyID == "J-a" },
		"never followed J-a")

	s.submit(t, "J-b")
	waitFor(t, func() bool { return s.client.State().ActiveJourneyID == "J-b" },
		"never switched to J-b")
	if s.client.State().Pinned {
		t.Error("auto-follow must not pin")
	}

	waitFor(t, func() bool { return s.rec.lastPointJourney() == "J-b" },
		"no point delivery for J-b")
}

func TestPointUpdatesReachViewWhileFollowing(t *testing.T) {
	s := newTestStack(t)

	s.submit(t, "J-a")
	waitFor(t, func() bool { return s.client.State().ActiveJourneyID == "J-a" },
		"never followed J-a")

	before := len(s.rec.points)
	s.submit(t, "J-a")
	waitFor(t, func() bool {
		s.rec.mu.Lock()
		defer s.rec.mu.Unlock()
		return len(s.rec.points) > before
	}, "no point delivery for followed journey")
}

func TestManualSelectPinsUntilNewerJourney(t *testing.T) {
	s := newTestStack(t)

	s.submit(t, "J-a")
	s.submit(t, "J-b")
	waitFor(t, func() bool { return s.client.State().ActiveJourneyID == "J-b" },
		"never followed head")

	s.client.Select("J-a")
	waitFor(t, func() bool {
		st := s.client.State()
		return st.ActiveJourneyID == "J-a" && st.Pinned
	}, "select did not pin J-a")

	// A journey updated after the pin releases it.
	s.submit(t, "J-b")
	waitFor(t, func() bool {
		st := s.client.State()
		return st.ActiveJourneyID == "J-b" && !st.Pinned
	}, "pin was not released by a newer journey")
}

func TestModeStatusFollowsActiveJourney(t *testing.T) {
	s := newTestStack(t)

	s.submit(t, "J-a")
	waitFor(t, func() bool { return s.client.State().ActiveJourneyID == "J-a" },
		"never followed J-a")

	if _, err := s.control.SetMode(context.Background(), "J-a", models.ModePowerSave); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	waitFor(t, func() bool { return s.rec.lastMode() == models.ModePowerSave },
		"mode status never reached the view")
}

func TestJourneyListReachesView(t *testing.T) {
	s := newTestStack(t)

	s.submit(t, "J-a")
	waitFor(t, func() bool {
		s.rec.mu.Lock()
		defer s.rec.mu.Unlock()
		for _, list := range s.rec.lists {
			if len(list) == 1 && list[0].ID == "J-a" {
				return true
			}
		}
		return false
	}, "journey list never delivered")
}
