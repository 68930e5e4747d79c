// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestTelemetryRequestRealMode(t *testing.T) {
	body := `{
		"journey_id": "TRIP-42",
		"latitude": 28.6139,
		"longitude": "77.2090",
		"speed_kmph": 14.5,
		"total_distance_meters": "2500",
		"timestamp": 1767192335000
	}`

	var req TelemetryRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if req.DemoMode {
		t.Error("demoMode should default to false")
	}
	if req.JourneyID != "TRIP-42" {
		t.Errorf("journey_id = %q", req.JourneyID)
	}
	if req.Latitude == nil || req.Latitude.Value != 28.6139 {
		t.Errorf("latitude = %+v, want 28.6139", req.Latitude)
	}
	if req.Longitude == nil || req.Longitude.Value != 77.2090 {
		t.Errorf("longitude (string form) = %+v, want 77.2090", req.Longitude)
	}
	if !req.Speed.Known || req.Speed.Value != 14.5 {
		t.Errorf("speed = %+v, want known 14.5", req.Speed)
	}
	if !req.Distance.Known || req.Distance.Value != 2500 {
		t.Errorf("distance (string form) = %+v, want known 2500", req.Distance)
	}

	want := time.UnixMilli(1767192335000).UTC()
	if !req.DeviceTime().Equal(want) {
		t.Errorf("DeviceTime = %v, want %v", req.DeviceTime(), want)
	}
}

func TestLenientNumDegradesInsteadOfFailing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKnown bool
		wantValue float64
	}{
		{"number", `{"speed_kmph": 12}`, true, 12},
		{"numeric string", `{"speed_kmph": "12.5"}`, true, 12.5},
		{"non-numeric string", `{"speed_kmph": "not-a-number"}`, false, 0},
		{"null", `{"speed_kmph": null}`, false, 0},
		{"absent", `{}`, false, 0},
		{"object", `{"speed_kmph": {"v": 1}}`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req TelemetryRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unmarshal must not fail on optional fields: %v", err)
			}
			if req.Speed.Known != tt.wantKnown {
				t.Errorf("Known = %v, want %v", req.Speed.Known, tt.wantKnown)
			}
			if req.Speed.Known && req.Speed.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v", req.Speed.Value, tt.wantValue)
			}
		})
	}
}

func TestStrictNumRejectsGarbage(t *testing.T) {
	var req TelemetryRequest
	err := json.Unmarshal([]byte(`{"latitude": "north-ish"}`), &req)
	if err == nil {
		t.Fatal("expected error for non-numeric latitude")
	}
}

func TestLenientNumMarshalNullWhenUnknown(t *testing.T) {
	out, err := json.Marshal(LenientNum{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "null" {
		t.Errorf("unknown LenientNum = %s, want null", out)
	}
}

func TestJourneyJSONFieldNames(t *testing.T) {
	speed := 10.0
	j := Journey{
		ID:             "J1",
		DeviceID:       "J1",
		LastLatitude:   1,
		LastLongitude:  2,
		LastSpeedKmph:  &speed,
		LastDeviceTime: time.Unix(100, 0).UTC(),
		LastServerTime: time.Unix(200, 0).UTC(),
		IsActive:       true,
	}
	out, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	for _, key := range []string{
		"journey_id", "last_latitude", "last_longitude", "last_speed_kmph",
		"last_total_distance_meters", "last_updated_device", "last_updated_server", "is_active",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("persisted journey record missing %q", key)
		}
	}
	if m["last_total_distance_meters"] != nil {
		t.Errorf("unreported distance should persist as null, got %v", m["last_total_distance_meters"])
	}
}
