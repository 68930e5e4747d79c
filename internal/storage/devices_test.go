// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waymark-io/waymark/internal/models"
)

func TestSetRequestedModeThenReportKeepsBothHalves(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	ctx := context.Background()

	state, err := ds.SetRequestedMode(ctx, "D1", models.ModePowerSave)
	if err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if state.Config.Mode != models.ModePowerSave {
		t.Errorf("config mode = %q", state.Config.Mode)
	}
	if state.Config.Timestamp.IsZero() {
		t.Error("config timestamp not assigned")
	}
	if state.Status.CurrentMode != "" {
		t.Errorf("status should be empty before report, got %q", state.Status.CurrentMode)
	}

	state, err = ds.ReportMode(ctx, "D1", models.ModeNormal)
	if err != nil {
		t.Fatalf("report mode: %v", err)
	}
	if state.Config.Mode != models.ModePowerSave {
		t.Errorf("report clobbered config half: %q", state.Config.Mode)
	}
	if state.Status.CurrentMode != models.ModeNormal {
		t.Errorf("status mode = %q", state.Status.CurrentMode)
	}
}

func TestSetRequestedModeLastWriteWins(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return clock }

	if _, err := ds.SetRequestedMode(ctx, "D1", models.ModeNormal); err != nil {
		t.Fatalf("first set: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, err := ds.SetRequestedMode(ctx, "D1", models.ModeHighFrequency); err != nil {
		t.Fatalf("second set: %v", err)
	}

	state, err := ds.State(ctx, "D1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Config.Mode != models.ModeHighFrequency {
		t.Errorf("mode = %q, want high_frequency", state.Config.Mode)
	}
	if !state.Config.Timestamp.Equal(clock) {
		t.Errorf("timestamp = %v, want %v", state.Config.Timestamp, clock)
	}
}

func TestDeviceStateNotFound(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	if _, err := ds.State(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeviceMergeRejectsEmptyID(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	if _, err := ds.SetRequestedMode(context.Background(), "", models.ModeNormal); err == nil {
		t.Fatal("expected error for empty device id")
	}
}

func TestWatchStateDeliversChanges(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	ctx := context.Background()

	updates := make(chan *models.DeviceControlState, 4)
	sub := ds.WatchState("D1", func(state *models.DeviceControlState, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		updates <- state
	})
	defer sub.Cancel()

	// A different device must not trigger this watch.
	if _, err := ds.SetRequestedMode(ctx, "D2", models.ModeNormal); err != nil {
		t.Fatalf("set other device: %v", err)
	}
	if _, err := ds.SetRequestedMode(ctx, "D1", models.ModePowerSave); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	select {
	case state := <-updates:
		if state.DeviceID != "D1" || state.Config.Mode != models.ModePowerSave {
			t.Errorf("update = %+v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch delivery")
	}
}

func TestWatchStateNotDeliveredForExtendedDeviceID(t *testing.T) {
	ds := NewDeviceStore(newTestStore(t))
	ctx := context.Background()

	// Hour-of-day demo journey ids collide as byte prefixes:
	// DEMO_JOURNEY_1 extends into DEMO_JOURNEY_10.
	updates := make(chan *models.DeviceControlState, 4)
	sub := ds.WatchState("DEMO_JOURNEY_1", func(state *models.DeviceControlState, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		updates <- state
	})
	defer sub.Cancel()

	if _, err := ds.ReportMode(ctx, "DEMO_JOURNEY_10", models.ModePowerSave); err != nil {
		t.Fatalf("report other device: %v", err)
	}
	select {
	case state := <-updates:
		t.Fatalf("received state for device %q", state.DeviceID)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := ds.ReportMode(ctx, "DEMO_JOURNEY_1", models.ModeNormal); err != nil {
		t.Fatalf("report: %v", err)
	}
	select {
	case state := <-updates:
		if state.DeviceID != "DEMO_JOURNEY_1" || state.Status.CurrentMode != models.ModeNormal {
			t.Errorf("update = %+v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch delivery")
	}
}
