// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-io/waymark/internal/models"
)

// Key prefixes for journey data. Points live under a per-journey list
// prefix so their keys sort by append sequence.
const (
	JourneyKeyPrefix = "journey/"
	PointKeyPrefix   = "point/"
)

// JourneyKey returns the summary record key for a journey.
func JourneyKey(journeyID string) string {
	return JourneyKeyPrefix + journeyID
}

// PointListPrefix returns the ordered-list prefix holding a journey's
// points.
func PointListPrefix(journeyID string) string {
	return PointKeyPrefix + journeyID + "/"
}

// Sample is one normalized telemetry sample ready to persist. The
// ingestion service builds it after validation; nil Speed/Distance mean
// "unknown".
type Sample struct {
	JourneyID      string
	DeviceID       string
	Latitude       float64
	Longitude      float64
	SpeedKmph      *float64
	DistanceMeters *float64
	DeviceTime     time.Time
}

// JourneyStore is the typed wrapper for journey summaries and point
// history over the generic Store primitives.
type JourneyStore struct {
	store Store

	// now is the server clock; replaceable in tests.
	now func() time.Time
}

// NewJourneyStore creates a JourneyStore.
func NewJourneyStore(store Store) *JourneyStore {
	return &JourneyStore{store: store, now: time.Now}
}

// ApplySample appends an immutable point and merge-upserts the journey
// summary in one atomic transaction. The server receive time is assigned
// here and clamped so it never decreases within a journey; it orders
// "latest" queries while the device time orders route replay.
//
// The point is written before the summary inside the transaction: if the
// atomic pair were ever split, the tolerated inconsistency is a point
// without an updated summary, never a summary advancing past its points.
func (s *JourneyStore) ApplySample(ctx context.Context, sample Sample) (*models.Point, *models.Journey, error) {
	if sample.JourneyID == "" {
		return nil, nil, fmt.Errorf("journey id required")
	}
	deviceID := sample.DeviceID
	if deviceID == "" {
		deviceID = sample.JourneyID
	}

	var (
		point   models.Point
		journey models.Journey
	)

	err := s.store.Update(ctx, func(tx Tx) error {
		serverTime := s.now().UTC()

		journey = models.Journey{ID: sample.JourneyID, DeviceID: deviceID}
		raw, err := tx.Get(JourneyKey(sample.JourneyID))
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &journey); err != nil {
				return fmt.Errorf("decode journey %s: %w", sample.JourneyID, err)
			}
			if !journey.LastServerTime.Before(serverTime) {
				serverTime = journey.LastServerTime.Add(time.Millisecond)
			}
		case errors.Is(err, ErrNotFound):
			// First write creates the journey.
		default:
			return err
		}

		point = models.Point{
			JourneyID:      sample.JourneyID,
			Latitude:       sample.Latitude,
			Longitude:      sample.Longitude,
			SpeedKmph:      sample.SpeedKmph,
			DistanceMeters: sample.DistanceMeters,
			DeviceTime:     sample.DeviceTime.UTC(),
			ServerTime:     serverTime,
		}
		seq, err := tx.Append(PointListPrefix(sample.JourneyID), func(seq uint64) ([]byte, error) {
			point.Seq = seq
			return json.Marshal(&point)
		})
		if err != nil {
			return fmt.Errorf("append point: %w", err)
		}
		point.Seq = seq

		// Merge semantics: a sample updates only the fields it carries.
		// Unknown speed/distance never clobber previously stored values.
		journey.LastLatitude = sample.Latitude
		journey.LastLongitude = sample.Longitude
		if sample.SpeedKmph != nil {
			journey.LastSpeedKmph = sample.SpeedKmph
		}
		if sample.DistanceMeters != nil {
			journey.LastDistanceMeters = sample.DistanceMeters
		}
		journey.DeviceID = deviceID
		journey.LastDeviceTime = sample.DeviceTime.UTC()
		journey.LastServerTime = serverTime
		journey.IsActive = true

		summary, err := json.Marshal(&journey)
		if err != nil {
			return fmt.Errorf("encode journey %s: %w", sample.JourneyID, err)
		}
		return tx.Set(JourneyKey(sample.JourneyID), summary)
	})
	if err != nil {
		return nil, nil, err
	}
	return &point, &journey, nil
}

// Journey returns the summary record, or ErrNotFound.
func (s *JourneyStore) Journey(ctx context.Context, journeyID string) (*models.Journey, error) {
	var journey models.Journey
	err := s.store.View(ctx, func(tx Tx) error {
		raw, err := tx.Get(JourneyKey(journeyID))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &journey)
	})
	if err != nil {
		return nil, err
	}
	return &journey, nil
}

// RecentJourneys returns up to limit journeys ordered by LastServerTime
// descending, ties broken by id ascending for deterministic output.
func (s *JourneyStore) RecentJourneys(ctx context.Context, limit int) ([]models.Journey, error) {
	var journeys []models.Journey
	err := s.store.Range(ctx, JourneyKeyPrefix, 0, false, func(key string, value []byte) error {
		var j models.Journey
		if err := json.Unmarshal(value, &j); err != nil {
			return fmt.Errorf("decode journey at %s: %w", key, err)
		}
		journeys = append(journeys, j)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(journeys, func(a, b int) bool {
		ta, tb := journeys[a].LastServerTime, journeys[b].LastServerTime
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return journeys[a].ID < journeys[b].ID
	})
	if limit > 0 && len(journeys) > limit {
		journeys = journeys[:limit]
	}
	return journeys, nil
}

// History returns a journey's full point history ordered by device time
// ascending (route replay order). Device time may disagree with append
// order under network delay; sequence number breaks ties.
func (s *JourneyStore) History(ctx context.Context, journeyID string) ([]models.Point, error) {
	var points []models.Point
	err := s.store.Range(ctx, PointListPrefix(journeyID), 0, false, func(key string, value []byte) error {
		var p models.Point
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("decode point at %s: %w", key, err)
		}
		points = append(points, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(points, func(a, b int) bool {
		ta, tb := points[a].DeviceTime, points[b].DeviceTime
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return points[a].Seq < points[b].Seq
	})
	return points, nil
}

// LatestPoint returns the most recently received point for a journey
// (highest server receive time), or ErrNotFound for an unknown or empty
// journey. Append order equals server-time order because the receive
// time is clamped monotonic per journey.
func (s *JourneyStore) LatestPoint(ctx context.Context, journeyID string) (*models.Point, error) {
	var point models.Point
	err := s.store.View(ctx, func(tx Tx) error {
		_, raw, err := tx.Last(PointListPrefix(journeyID))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &point)
	})
	if err != nil {
		return nil, err
	}
	return &point, nil
}

// WatchSummaries subscribes to every journey summary change. Decode
// problems are delivered in-band through the error argument.
func (s *JourneyStore) WatchSummaries(fn func(*models.Journey, error)) *Subscription {
	return s.store.Watch(JourneyKeyPrefix, func(c Change) {
		var j models.Journey
		if err := json.Unmarshal(c.Value, &j); err != nil {
			fn(nil, fmt.Errorf("decode journey at %s: %w", c.Key, err))
			return
		}
		fn(&j, nil)
	})
}

// WatchPoints subscribes to new points for one journey.
func (s *JourneyStore) WatchPoints(journeyID string, fn func(*models.Point, error)) *Subscription {
	return s.store.Watch(PointListPrefix(journeyID), func(c Change) {
		var p models.Point
		if err := json.Unmarshal(c.Value, &p); err != nil {
			fn(nil, fmt.Errorf("decode point at %s: %w", c.Key, err))
			return
		}
		fn(&p, nil)
	})
}
