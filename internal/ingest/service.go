// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package ingest implements the telemetry ingestion service: validation
// of real-mode submissions, synthetic demo generation, persistence, and
// event publication.
package ingest

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/waymark-io/waymark/internal/events"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/metrics"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
)

// Service accepts telemetry submissions. One instance serves all
// devices.
type Service struct {
	journeys *storage.JourneyStore
	bus      *events.Bus

	baseLatitude  float64
	baseLongitude float64

	now func() time.Time
	rng *rand.Rand
}

// Config holds ingestion settings.
type Config struct {
	// BaseLatitude and BaseLongitude anchor synthetic demo traffic.
	BaseLatitude  float64
	BaseLongitude float64
}

// NewService creates the ingestion service. bus may be nil, in which
// case accepted samples are stored but not published.
func NewService(journeys *storage.JourneyStore, bus *events.Bus, cfg Config) *Service {
	return &Service{
		journeys:      journeys,
		bus:           bus,
		baseLatitude:  cfg.BaseLatitude,
		baseLongitude: cfg.BaseLongitude,
		now:           time.Now,
		rng:           newRNG(),
	}
}

// Submit processes one telemetry request. Demo-mode requests ignore the
// body and generate a synthetic sample; real-mode requests are validated
// first. The returned point and journey reflect the committed state.
//
// Validation failures return *MissingFieldError and write nothing.
// Storage failures return the storage error; event publication is
// best-effort and never fails the submission.
func (s *Service) Submit(ctx context.Context, req *models.TelemetryRequest) (*models.Point, *models.Journey, error) {
	mode := "real"
	var sample storage.Sample
	if req.DemoMode {
		mode = "synthetic"
		sample = s.syntheticSample(s.now())
	} else {
		var err error
		sample, err = realSample(req)
		if err != nil {
			metrics.RecordIngest(mode, "client_error")
			return nil, nil, err
		}
	}

	point, journey, err := s.journeys.ApplySample(ctx, sample)
	if err != nil {
		outcome := "backend_error"
		if !errors.Is(err, storage.ErrStorageUnavailable) {
			outcome = "client_error"
		}
		metrics.RecordIngest(mode, outcome)
		return nil, nil, err
	}

	metrics.RecordIngest(mode, "accepted")
	metrics.RecordPointStored()
	s.publish(ctx, point, journey)
	return point, journey, nil
}

// realSample validates a real-mode request and normalizes it.
func realSample(req *models.TelemetryRequest) (storage.Sample, error) {
	switch {
	case req.JourneyID == "":
		return storage.Sample{}, &MissingFieldError{Field: "journey_id"}
	case req.Latitude == nil:
		return storage.Sample{}, &MissingFieldError{Field: "latitude"}
	case req.Longitude == nil:
		return storage.Sample{}, &MissingFieldError{Field: "longitude"}
	case req.TimestampMillis == nil:
		return storage.Sample{}, &MissingFieldError{Field: "timestamp"}
	}

	return storage.Sample{
		JourneyID:      req.JourneyID,
		Latitude:       req.Latitude.Value,
		Longitude:      req.Longitude.Value,
		SpeedKmph:      req.Speed.Ptr(),
		DistanceMeters: req.Distance.Ptr(),
		DeviceTime:     req.DeviceTime(),
	}, nil
}

// publish emits the point and summary events. Failures are logged and
// swallowed; the store already committed.
func (s *Service) publish(ctx context.Context, point *models.Point, journey *models.Journey) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishEvent(ctx, events.NewPointStored(point)); err != nil {
		logging.Warn().Err(err).Str("journey_id", point.JourneyID).Msg("publish point event failed")
	}
	if err := s.bus.PublishEvent(ctx, events.NewJourneyUpdated(journey)); err != nil {
		logging.Warn().Err(err).Str("journey_id", journey.ID).Msg("publish journey event failed")
	}
}
