// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package models defines the core data types shared across Waymark:
// journeys, telemetry points, device control state, and the ingestion
// wire format.
package models

import "time"

// Journey is the rolling per-trip summary. It is upserted with merge
// semantics on every accepted point: fields absent from a submission
// never overwrite previously stored values.
type Journey struct {
	// ID is the opaque journey identifier, caller-supplied for real
	// traffic or derived from the hour of day for demo traffic.
	ID string `json:"journey_id"`

	// DeviceID is the device bound to this journey. Waymark binds
	// device id to journey id (the control channel is keyed by the
	// active journey), but the field stays explicit so the binding is
	// visible in stored records.
	DeviceID string `json:"device_id"`

	LastLatitude  float64 `json:"last_latitude"`
	LastLongitude float64 `json:"last_longitude"`

	// LastSpeedKmph and LastDistanceMeters are nil when the most recent
	// submission did not carry a usable value ("unknown", not zero).
	LastSpeedKmph      *float64 `json:"last_speed_kmph"`
	LastDistanceMeters *float64 `json:"last_total_distance_meters"`

	// LastDeviceTime is the reporting source's clock at the last sample.
	LastDeviceTime time.Time `json:"last_updated_device"`

	// LastServerTime is assigned at write time and is monotonically
	// non-decreasing per journey. It is the ordering key for
	// "most recently updated" queries; never collapse it with
	// LastDeviceTime, the two diverge under network delay.
	LastServerTime time.Time `json:"last_updated_server"`

	IsActive bool `json:"is_active"`
}

// Point is one immutable telemetry sample. Points are created once at
// ingestion and retained indefinitely.
type Point struct {
	JourneyID string `json:"journey_id"`

	// Seq is the per-journey append sequence number.
	Seq uint64 `json:"seq"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// SpeedKmph and DistanceMeters are nil when absent or non-numeric
	// in the submission. Partial data is preferred over rejection.
	SpeedKmph      *float64 `json:"speed_kmph"`
	DistanceMeters *float64 `json:"total_distance_meters"`

	// DeviceTime orders historical route replay.
	DeviceTime time.Time `json:"timestamp"`

	// ServerTime orders "latest point" queries for the live feed.
	// Monotonic within a journey.
	ServerTime time.Time `json:"received_at"`
}
