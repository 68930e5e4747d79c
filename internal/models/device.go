// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package models

import "time"

// Default operating modes accepted by the device control channel.
// Deployments may override the set in configuration.
const (
	ModeNormal        = "normal"
	ModePowerSave     = "powersave"
	ModeHighFrequency = "high_frequency"
)

// ControlConfig is the operator-intent half of the control record.
type ControlConfig struct {
	// Mode is the mode the operator asked the device to enter.
	Mode string `json:"mode"`

	// Timestamp is server-assigned at setMode time. Concurrent setMode
	// calls resolve last-write-wins by this timestamp.
	Timestamp time.Time `json:"timestamp"`
}

// ControlStatus is the device-reported half of the control record.
type ControlStatus struct {
	// CurrentMode is the mode the device last reported running in.
	CurrentMode string `json:"currentMode"`

	Timestamp time.Time `json:"timestamp"`
}

// DeviceControlState is the keyed control record for one device.
//
// Config and Status are written independently: the operator writes
// Config, the device writes Status, and the service never infers one
// from the other. Convergence is the device's responsibility.
type DeviceControlState struct {
	DeviceID string        `json:"device_id"`
	Config   ControlConfig `json:"config"`
	Status   ControlStatus `json:"status"`
}
