// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package main is a device simulator for exercising a Waymark server.
//
// It posts real-mode telemetry along a circular path around a base
// coordinate, paced by a rate limiter, or synthetic-mode requests with
// --demo. Useful for demos and for load-testing an ingestion deployment
// without physical trackers.
//
// Example:
//
//	devicesim --server http://localhost:8331 --journey TRUCK_7 --interval 2s
//	devicesim --demo --count 10
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
)

const (
	samplesPerLap = 120
	maxAttempts   = 3
	retryDelay    = 500 * time.Millisecond
)

type options struct {
	serverURL string
	journeyID string
	token     string
	demo      bool
	interval  time.Duration
	count     int
	baseLat   float64
	baseLon   float64
	radius    float64
	speedKmph float64
}

func main() {
	var opts options
	flag.StringVar(&opts.serverURL, "server", "http://localhost:8331", "Waymark server base URL")
	flag.StringVar(&opts.journeyID, "journey", "SIM_JOURNEY", "journey id for real-mode samples")
	flag.StringVar(&opts.token, "token", "", "bearer token when the server requires ingestion auth")
	flag.BoolVar(&opts.demo, "demo", false, "send synthetic-mode requests instead of real samples")
	flag.DurationVar(&opts.interval, "interval", time.Second, "pause between samples")
	flag.IntVar(&opts.count, "count", 0, "number of samples to send (0 = until interrupted)")
	flag.Float64Var(&opts.baseLat, "lat", 28.6139, "path center latitude")
	flag.Float64Var(&opts.baseLon, "lon", 77.2090, "path center longitude")
	flag.Float64Var(&opts.radius, "radius", 0.02, "path radius in degrees")
	flag.Float64Var(&opts.speedKmph, "speed", 18.0, "reported speed in km/h")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Simulator failed")
	}
	logging.Info().Msg("Simulator stopped")
}

func run(ctx context.Context, opts options) error {
	client := &http.Client{Timeout: 10 * time.Second}
	limiter := rate.NewLimiter(rate.Every(opts.interval), 1)
	endpoint := opts.serverURL + "/api/v1/ingest"

	logging.Info().
		Str("endpoint", endpoint).
		Str("journey_id", opts.journeyID).
		Bool("demo", opts.demo).
		Msg("Simulator started")

	var distance float64
	for i := 0; opts.count == 0 || i < opts.count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		req := buildRequest(opts, i, &distance)
		if err := submit(ctx, client, endpoint, opts.token, req); err != nil {
			logging.Warn().Err(err).Int("sample", i).Msg("Sample rejected")
		}
	}
	return nil
}

// buildRequest produces the next sample on the circular path, or a
// synthetic-mode request when demo is set.
func buildRequest(opts options, i int, distance *float64) *models.TelemetryRequest {
	if opts.demo {
		return &models.TelemetryRequest{DemoMode: true}
	}

	angle := 2 * math.Pi * float64(i%samplesPerLap) / samplesPerLap
	// Arc length per step, roughly: one degree is ~111 km.
	*distance += 2 * math.Pi * opts.radius * 111_000 / samplesPerLap

	return &models.TelemetryRequest{
		JourneyID:       opts.journeyID,
		Latitude:        models.Num(opts.baseLat + opts.radius*math.Sin(angle)),
		Longitude:       models.Num(opts.baseLon + opts.radius*math.Cos(angle)),
		Speed:           models.LenientNum{Value: opts.speedKmph, Known: true},
		Distance:        models.LenientNum{Value: *distance, Known: true},
		TimestampMillis: models.Num(float64(time.Now().UnixMilli())),
	}
}

// submit posts one sample, retrying server-side failures.
func submit(ctx context.Context, client *http.Client, endpoint, token string, sample *models.TelemetryRequest) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			status, msg := readAck(resp)
			switch {
			case status < 400:
				logging.Info().Int("status", status).Str("message", msg).Msg("Sample accepted")
				return nil
			case status < 500:
				// Client errors will not improve on retry.
				return fmt.Errorf("rejected (%d): %s", status, msg)
			default:
				lastErr = fmt.Errorf("server error (%d): %s", status, msg)
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}
	}
	return lastErr
}

// readAck drains the status/message acknowledgement body.
func readAck(resp *http.Response) (int, string) {
	defer resp.Body.Close() //nolint:errcheck

	var ack struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return resp.StatusCode, ""
	}
	return resp.StatusCode, ack.Message
}
