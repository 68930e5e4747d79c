// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package main is the Waymark server entry point.
//
// Waymark ingests GPS telemetry from devices in the field, keeps an
// immutable per-journey point history alongside a rolling journey
// summary, and pushes live updates to dashboards over websockets.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layers (env > config file > defaults)
//  2. Storage: Badger key-value store behind a circuit breaker
//  3. Event bus: in-process gochannel, or NATS JetStream (optionally
//     embedded) for multi-process deployments
//  4. Services: ingestion, live feed, device control, websocket hub
//  5. Supervision: suture tree runs the hub, the bus bridge, and the
//     HTTP server with restart-on-failure
//
// The server shuts down gracefully on SIGINT and SIGTERM: the listener
// stops accepting connections, in-flight requests get a bounded drain,
// and the bus transports close after their consumers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waymark-io/waymark/internal/api"
	"github.com/waymark-io/waymark/internal/auth"
	"github.com/waymark-io/waymark/internal/config"
	"github.com/waymark-io/waymark/internal/devicecontrol"
	"github.com/waymark-io/waymark/internal/events"
	"github.com/waymark-io/waymark/internal/ingest"
	"github.com/waymark-io/waymark/internal/livefeed"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/storage"
	"github.com/waymark-io/waymark/internal/supervisor"
	ws "github.com/waymark-io/waymark/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("storage_path", cfg.Storage.Path).
		Bool("in_memory", cfg.Storage.InMemory).
		Str("events_transport", cfg.Events.Transport).
		Bool("ingest_auth", cfg.Security.IngestAuth).
		Msg("Configuration loaded")

	store, err := storage.OpenBadger(storage.Options{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	guarded := storage.NewBreakerStore(store, storage.BreakerConfig{
		MaxFailures: cfg.Storage.BreakerMaxFailures,
		OpenTimeout: cfg.Storage.BreakerOpenTimeout,
	})
	journeys := storage.NewJourneyStore(guarded)
	devices := storage.NewDeviceStore(guarded)
	logging.Info().Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bus *events.Bus
	switch cfg.Events.Transport {
	case "nats":
		bus, err = events.NewNATSBus(ctx, events.NATSConfig{
			URL:            cfg.Events.URL,
			EmbeddedServer: cfg.Events.EmbeddedServer,
			StoreDir:       cfg.Events.StoreDir,
			MaxMemory:      cfg.Events.MaxMemory,
			MaxStore:       cfg.Events.MaxStore,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize NATS bus")
		}
		logging.Info().Bool("embedded", cfg.Events.EmbeddedServer).Msg("NATS JetStream bus initialized")
	default:
		bus = events.NewGoChannelBus()
		logging.Info().Msg("In-process event bus initialized")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	ingestSvc := ingest.NewService(journeys, bus, ingest.Config{
		BaseLatitude:  cfg.Demo.BaseLatitude,
		BaseLongitude: cfg.Demo.BaseLongitude,
	})
	feed := livefeed.NewPublisher(journeys, cfg.Feed.JourneyListLimit)
	control := devicecontrol.NewChannel(devices, bus, cfg.Feed.Modes)

	hub := ws.NewHub()
	bridge := ws.NewBridge(bus, hub, feed)

	var jwtManager *auth.JWTManager
	if cfg.Security.IngestAuth {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("Ingestion auth enabled")
	} else {
		logging.Warn().Msg("Ingestion auth is DISABLED; any device can submit telemetry")
	}

	handler := api.NewHandler(ingestSvc, feed, control, hub, jwtManager)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddFeedService(&supervisor.Runnable{Name: "websocket-hub", Run: hub.Serve})
	tree.AddFeedService(&supervisor.Runnable{Name: "bus-bridge", Run: bridge.Serve})
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the supervisor until it has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
}
