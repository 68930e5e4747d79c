// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package ingest

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/waymark-io/waymark/internal/storage"
)

// Synthetic-mode constants. The position oscillates slowly around the
// configured base coordinate with a ten-minute period; speed and
// distance are drawn uniformly from fixed ranges.
const (
	oscillationPeriodMs = 600000
	latAmplitude        = 0.05
	lonAmplitude        = 0.08

	speedMin = 5.0
	speedMax = 25.0

	distanceMin = 1000.0
	distanceMax = 6000.0
)

// demoJourneyID buckets synthetic traffic into one journey per hour, so
// the demo dashboard shows a journey that grows for an hour and then
// rolls over.
func demoJourneyID(now time.Time) string {
	return fmt.Sprintf("DEMO_JOURNEY_%d", now.Hour())
}

// syntheticSample generates one synthetic telemetry sample.
func (s *Service) syntheticSample(now time.Time) storage.Sample {
	phase := float64(now.UnixMilli()) / oscillationPeriodMs
	speed := speedMin + s.rng.Float64()*(speedMax-speedMin)
	distance := distanceMin + s.rng.Float64()*(distanceMax-distanceMin)

	return storage.Sample{
		JourneyID:      demoJourneyID(now),
		Latitude:       s.baseLatitude + math.Sin(phase)*latAmplitude,
		Longitude:      s.baseLongitude + math.Cos(phase)*lonAmplitude,
		SpeedKmph:      &speed,
		DistanceMeters: &distance,
		DeviceTime:     now,
	}
}

// newRNG seeds a dedicated source so tests can swap it out.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // demo data, not crypto
}
