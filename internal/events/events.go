// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package events defines the telemetry event bus. Every stored sample
// and device mode change is published as an Event; the websocket bridge
// and any future consumers subscribe through the same Bus abstraction,
// backed either by an in-process gochannel transport or NATS JetStream.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/waymark-io/waymark/internal/models"
)

// SchemaVersion is the current event schema version. Increment on
// breaking changes to Event.
const SchemaVersion = 1

// Event kinds.
const (
	KindPointStored    = "point.stored"
	KindJourneyUpdated = "journey.updated"
	KindModeStatus     = "mode.status"
)

// Topics, one per event kind. Subscribers may also use the wildcard
// subjects "telemetry.>" and "device.>".
const (
	TopicPointStored    = "telemetry.point.stored"
	TopicJourneyUpdated = "telemetry.journey.updated"
	TopicModeStatus     = "device.mode.status"
)

// Event is the canonical bus message. Exactly one payload field is set,
// matching Kind.
type Event struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`

	Point       *models.Point              `json:"point,omitempty"`
	Journey     *models.Journey            `json:"journey,omitempty"`
	DeviceState *models.DeviceControlState `json:"device_state,omitempty"`
}

// NewPointStored creates a point-stored event.
func NewPointStored(point *models.Point) *Event {
	return newEvent(KindPointStored, &Event{Point: point})
}

// NewJourneyUpdated creates a journey-summary event.
func NewJourneyUpdated(journey *models.Journey) *Event {
	return newEvent(KindJourneyUpdated, &Event{Journey: journey})
}

// NewModeStatus creates a device control event. Published on both
// operator mode requests and device status reports.
func NewModeStatus(state *models.DeviceControlState) *Event {
	return newEvent(KindModeStatus, &Event{DeviceState: state})
}

func newEvent(kind string, e *Event) *Event {
	e.SchemaVersion = SchemaVersion
	e.EventID = uuid.New().String()
	e.Kind = kind
	e.Timestamp = time.Now().UTC()
	return e
}

// Topic returns the bus topic for this event.
func (e *Event) Topic() string {
	switch e.Kind {
	case KindPointStored:
		return TopicPointStored
	case KindJourneyUpdated:
		return TopicJourneyUpdated
	case KindModeStatus:
		return TopicModeStatus
	default:
		return ""
	}
}

// Validate checks required fields and that the payload matches Kind.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	switch e.Kind {
	case KindPointStored:
		if e.Point == nil {
			return &ValidationError{Field: "point", Message: "required for " + e.Kind}
		}
	case KindJourneyUpdated:
		if e.Journey == nil {
			return &ValidationError{Field: "journey", Message: "required for " + e.Kind}
		}
	case KindModeStatus:
		if e.DeviceState == nil {
			return &ValidationError{Field: "device_state", Message: "required for " + e.Kind}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown kind"}
	}
	return nil
}

// JourneyID returns the journey or device this event concerns, for
// message metadata and client-side filtering.
func (e *Event) JourneyID() string {
	switch {
	case e.Point != nil:
		return e.Point.JourneyID
	case e.Journey != nil:
		return e.Journey.ID
	case e.DeviceState != nil:
		return e.DeviceState.DeviceID
	}
	return ""
}

// ValidationError reports an invalid event field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + e.Field + ": " + e.Message
}
