// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package models

import (
	"bytes"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// TelemetryRequest is the ingestion wire format. Field names match the
// original device firmware, so they must not change.
//
// DemoMode selects synthetic generation; in that case all other fields
// are ignored. In real mode JourneyID, Latitude, Longitude and Timestamp
// are required.
type TelemetryRequest struct {
	DemoMode  bool       `json:"demoMode,omitempty"`
	JourneyID string     `json:"journey_id,omitempty"`
	Latitude  *StrictNum `json:"latitude,omitempty"`
	Longitude *StrictNum `json:"longitude,omitempty"`

	// Speed and Distance degrade to unknown on parse failure instead of
	// failing the request.
	Speed    LenientNum `json:"speed_kmph,omitempty"`
	Distance LenientNum `json:"total_distance_meters,omitempty"`

	// TimestampMillis is the device clock in Unix milliseconds.
	TimestampMillis *StrictNum `json:"timestamp,omitempty"`
}

// DeviceTime converts the submitted millisecond timestamp to time.Time.
// Returns the zero time when the field is absent.
func (r *TelemetryRequest) DeviceTime() time.Time {
	if r.TimestampMillis == nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(r.TimestampMillis.Value)).UTC()
}

// StrictNum is a float64 that unmarshals from a JSON number or a numeric
// string. Devices in the field send both. A non-numeric value is an
// unmarshal error; use LenientNum where degradation is wanted.
type StrictNum struct {
	Value float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *StrictNum) UnmarshalJSON(data []byte) error {
	v, err := parseJSONNumber(data)
	if err != nil {
		return err
	}
	n.Value = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n StrictNum) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Value)
}

// Num is a convenience constructor for request literals in tests and the
// simulator.
func Num(v float64) *StrictNum {
	return &StrictNum{Value: v}
}

// LenientNum is an optional float64 that never fails to unmarshal:
// absent, null, or non-numeric input leaves Known false. This implements
// the "partial data is preferred over request failure" rule for the
// optional speed and distance fields.
type LenientNum struct {
	Value float64
	Known bool
}

// UnmarshalJSON implements json.Unmarshaler. It never returns an error.
func (n *LenientNum) UnmarshalJSON(data []byte) error {
	v, err := parseJSONNumber(data)
	if err != nil {
		n.Known = false
		return nil
	}
	n.Value = v
	n.Known = true
	return nil
}

// MarshalJSON implements json.Marshaler. Unknown values marshal as null.
func (n LenientNum) MarshalJSON() ([]byte, error) {
	if !n.Known {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Ptr returns the value as a nullable pointer: nil when unknown.
func (n LenientNum) Ptr() *float64 {
	if !n.Known {
		return nil
	}
	v := n.Value
	return &v
}

// parseJSONNumber accepts a JSON number or a quoted numeric string.
func parseJSONNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, strconv.ErrSyntax
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return v, nil
}
