// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package api

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/waymark-io/waymark/internal/config"
)

// corsMaxAgeSeconds is how long browsers may cache preflight results.
const corsMaxAgeSeconds = 3600

// deviceCORS sets the open-origin header on ingestion responses.
// Devices submit from anywhere; the preflight contract itself is
// handled by the registered OPTIONS route.
func deviceCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		next.ServeHTTP(w, r)
	})
}

// dashboardCORS is the permissive policy for the dashboard API.
func dashboardCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         corsMaxAgeSeconds,
	})
}

// rateLimiter returns the per-IP rate limiting middleware, or a
// pass-through when disabled (tests, trusted deployments).
func rateLimiter(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow)
}
