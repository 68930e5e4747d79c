// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package devicecontrol implements the operator-to-device mode channel:
// operators request a mode, devices poll for it and report what they
// are actually running. The two halves of the record never overwrite
// each other.
package devicecontrol

import (
	"context"
	"fmt"

	"github.com/waymark-io/waymark/internal/events"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
)

// UnknownModeError reports a mode request outside the configured set.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown mode: %q", e.Mode)
}

// Channel mediates device mode state.
type Channel struct {
	devices *storage.DeviceStore
	bus     *events.Bus
	modes   map[string]struct{}
}

// NewChannel creates a Channel accepting the given mode set. An empty
// set falls back to the built-in modes.
func NewChannel(devices *storage.DeviceStore, bus *events.Bus, modes []string) *Channel {
	if len(modes) == 0 {
		modes = []string{models.ModeNormal, models.ModePowerSave, models.ModeHighFrequency}
	}
	set := make(map[string]struct{}, len(modes))
	for _, m := range modes {
		set[m] = struct{}{}
	}
	return &Channel{devices: devices, bus: bus, modes: set}
}

// SetMode records an operator mode request. The mode must be in the
// configured set; concurrent requests resolve last-write-wins by server
// timestamp.
func (c *Channel) SetMode(ctx context.Context, deviceID, mode string) (*models.DeviceControlState, error) {
	if _, ok := c.modes[mode]; !ok {
		return nil, &UnknownModeError{Mode: mode}
	}
	state, err := c.devices.SetRequestedMode(ctx, deviceID, mode)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, state)
	return state, nil
}

// ReportMode records the mode a device reports itself running in.
// Reports are accepted verbatim; a device ahead of the server's mode
// list must not be rejected, only logged.
func (c *Channel) ReportMode(ctx context.Context, deviceID, mode string) (*models.DeviceControlState, error) {
	if _, ok := c.modes[mode]; !ok {
		logging.Warn().Str("device_id", deviceID).Str("mode", mode).Msg("device reported unrecognized mode")
	}
	state, err := c.devices.ReportMode(ctx, deviceID, mode)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, state)
	return state, nil
}

// State returns the control record for a device, or
// storage.ErrNotFound.
func (c *Channel) State(ctx context.Context, deviceID string) (*models.DeviceControlState, error) {
	return c.devices.State(ctx, deviceID)
}

// WatchState subscribes to control record changes for one device.
func (c *Channel) WatchState(deviceID string, fn func(*models.DeviceControlState, error)) *storage.Subscription {
	return c.devices.WatchState(deviceID, fn)
}

// WatchStatus subscribes to the reported-mode half only. Record changes
// that leave the reported mode untouched (operator requests, timestamp
// updates) are filtered out; deliveries are serialized by the
// underlying subscription, so the dedup needs no lock.
func (c *Channel) WatchStatus(deviceID string, fn func(reportedMode string, err error)) *storage.Subscription {
	var last string
	var seen bool
	return c.devices.WatchState(deviceID, func(state *models.DeviceControlState, err error) {
		if err != nil {
			fn("", err)
			return
		}
		if seen && state.Status.CurrentMode == last {
			return
		}
		last = state.Status.CurrentMode
		seen = true
		fn(state.Status.CurrentMode, nil)
	})
}

func (c *Channel) publish(ctx context.Context, state *models.DeviceControlState) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishEvent(ctx, events.NewModeStatus(state)); err != nil {
		logging.Warn().Err(err).Str("device_id", state.DeviceID).Msg("publish mode event failed")
	}
}
