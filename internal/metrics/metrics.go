// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package metrics exposes Prometheus instrumentation for Waymark.
// All collectors register on the default registry and are served from
// the /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waymark_ingest_requests_total",
		Help: "Telemetry submissions by mode and outcome.",
	}, []string{"mode", "outcome"})

	pointsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waymark_points_stored_total",
		Help: "Immutable points appended to journey history.",
	})

	watchSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waymark_watch_subscriptions_active",
		Help: "Active storage change-notification subscriptions.",
	})

	websocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waymark_websocket_clients",
		Help: "Connected websocket dashboard clients.",
	})

	busPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waymark_bus_publishes_total",
		Help: "Events published to the bus by topic.",
	}, []string{"topic"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waymark_http_requests_total",
		Help: "HTTP requests by method, path, and status.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waymark_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waymark_http_active_requests",
		Help: "In-flight HTTP requests.",
	})
)

// RecordIngest counts one telemetry submission.
// mode is "real" or "synthetic"; outcome is "accepted", "client_error",
// or "backend_error".
func RecordIngest(mode, outcome string) {
	ingestRequests.WithLabelValues(mode, outcome).Inc()
}

// RecordPointStored counts one appended point.
func RecordPointStored() {
	pointsStored.Inc()
}

// TrackWatchSubscription adjusts the active-subscription gauge.
func TrackWatchSubscription(active bool) {
	if active {
		watchSubscriptions.Inc()
	} else {
		watchSubscriptions.Dec()
	}
}

// TrackWebsocketClient adjusts the connected-client gauge.
func TrackWebsocketClient(connected bool) {
	if connected {
		websocketClients.Inc()
	} else {
		websocketClients.Dec()
	}
}

// RecordBusPublish counts one published event.
func RecordBusPublish(topic string) {
	busPublishes.WithLabelValues(topic).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		activeRequests.Inc()
	} else {
		activeRequests.Dec()
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
