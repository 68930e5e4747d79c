// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/waymark-io/waymark/internal/config"
	"github.com/waymark-io/waymark/internal/metrics"
	"github.com/waymark-io/waymark/internal/middleware"
)

// NewRouter assembles the full route tree.
//
// The ingestion group keeps its own CORS handling instead of the shared
// dashboard policy: the preflight response headers are part of the
// device wire contract and must not vary with the request.
func NewRouter(h *Handler, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", h.WebSocket)

	limit := rateLimiter(&cfg.Security)

	r.Route("/api/v1", func(r chi.Router) {
		// Device ingestion.
		r.Group(func(r chi.Router) {
			r.Use(deviceCORS)
			r.Use(limit)
			h.ingestAuth = cfg.Security.IngestAuth && h.jwt != nil
			if h.ingestAuth {
				r.Use(h.jwt.RequireToken)
			}
			r.Options("/ingest", h.IngestPreflight)
			r.Post("/ingest", h.Ingest)
		})

		// Dashboard and operator API.
		r.Group(func(r chi.Router) {
			r.Use(dashboardCORS())
			r.Use(limit)

			r.Get("/journeys", h.Journeys)
			r.Get("/journeys/{journeyID}", h.Journey)
			r.Get("/journeys/{journeyID}/history", h.JourneyHistory)
			r.Get("/journeys/{journeyID}/latest", h.LatestPoint)

			r.Get("/devices/{deviceID}", h.DeviceState)
			r.Put("/devices/{deviceID}/mode", h.SetDeviceMode)
			r.Post("/devices/{deviceID}/mode/report", h.ReportDeviceMode)

			if h.jwt != nil {
				r.Post("/auth/login", h.Login)
			}
		})
	})

	return r
}
