// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package events

import (
	"testing"
	"time"

	"github.com/waymark-io/waymark/internal/models"
)

func TestEventTopics(t *testing.T) {
	tests := []struct {
		event *Event
		topic string
	}{
		{NewPointStored(&models.Point{JourneyID: "J1"}), TopicPointStored},
		{NewJourneyUpdated(&models.Journey{ID: "J1"}), TopicJourneyUpdated},
		{NewModeStatus(&models.DeviceControlState{DeviceID: "D1"}), TopicModeStatus},
	}
	for _, tt := range tests {
		if got := tt.event.Topic(); got != tt.topic {
			t.Errorf("%s topic = %q, want %q", tt.event.Kind, got, tt.topic)
		}
		if tt.event.EventID == "" {
			t.Errorf("%s missing event id", tt.event.Kind)
		}
		if tt.event.SchemaVersion != SchemaVersion {
			t.Errorf("%s schema version = %d", tt.event.Kind, tt.event.SchemaVersion)
		}
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{"valid point", NewPointStored(&models.Point{JourneyID: "J1"}), false},
		{"missing id", &Event{Kind: KindPointStored, Point: &models.Point{}}, true},
		{"payload mismatch", &Event{EventID: "e1", Kind: KindPointStored, Journey: &models.Journey{}}, true},
		{"unknown kind", &Event{EventID: "e1", Kind: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventJourneyID(t *testing.T) {
	if id := NewPointStored(&models.Point{JourneyID: "J1"}).JourneyID(); id != "J1" {
		t.Errorf("point journey id = %q", id)
	}
	if id := NewModeStatus(&models.DeviceControlState{DeviceID: "D1"}).JourneyID(); id != "D1" {
		t.Errorf("device id = %q", id)
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	speed := 12.5
	event := NewPointStored(&models.Point{
		JourneyID:  "J1",
		Seq:        7,
		Latitude:   28.6,
		Longitude:  77.2,
		SpeedKmph:  &speed,
		DeviceTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	s := NewSerializer()
	data, err := s.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Kind != KindPointStored || decoded.EventID != event.EventID {
		t.Errorf("decoded header = %+v", decoded)
	}
	if decoded.Point == nil || decoded.Point.Seq != 7 || *decoded.Point.SpeedKmph != 12.5 {
		t.Errorf("decoded point = %+v", decoded.Point)
	}
}

func TestSerializerRejectsInvalidEvent(t *testing.T) {
	_, err := NewSerializer().Marshal(&Event{EventID: "e1", Kind: KindPointStored})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
