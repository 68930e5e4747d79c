// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/waymark-io/waymark/internal/auth"
	"github.com/waymark-io/waymark/internal/devicecontrol"
	"github.com/waymark-io/waymark/internal/ingest"
	"github.com/waymark-io/waymark/internal/livefeed"
	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
	"github.com/waymark-io/waymark/internal/storage"
	"github.com/waymark-io/waymark/internal/validation"
	"github.com/waymark-io/waymark/internal/websocket"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	ingest  *ingest.Service
	feed    *livefeed.Publisher
	control *devicecontrol.Channel
	hub     *websocket.Hub

	// jwt is nil when ingestion auth is disabled; the login route is
	// only registered when it is set.
	jwt *auth.JWTManager

	// ingestAuth mirrors whether the bearer gate guards the ingestion
	// endpoint. The preflight must advertise the Authorization header
	// exactly when the gate will demand it; set by NewRouter.
	ingestAuth bool
}

// NewHandler creates the HTTP handler set.
func NewHandler(ingestSvc *ingest.Service, feed *livefeed.Publisher, control *devicecontrol.Channel, hub *websocket.Hub, jwt *auth.JWTManager) *Handler {
	return &Handler{
		ingest:  ingestSvc,
		feed:    feed,
		control: control,
		hub:     hub,
		jwt:     jwt,
	}
}

// IngestPreflight answers the CORS preflight for the ingestion
// endpoint. The header set is fixed; device firmware and the reference
// dashboard both depend on it verbatim. With the bearer gate enabled,
// Authorization joins the allowed headers so browser-origin callers can
// present their token.
func (h *Handler) IngestPreflight(w http.ResponseWriter, _ *http.Request) {
	allowHeaders := "Content-Type"
	if h.ingestAuth {
		allowHeaders += ", Authorization"
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

// Ingest accepts one telemetry submission.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req models.TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatusMessage(w, http.StatusBadRequest, "error", "invalid request body: "+err.Error())
		return
	}

	_, journey, err := h.ingest.Submit(r.Context(), &req)
	var missing *ingest.MissingFieldError
	switch {
	case err == nil:
		logging.Debug().Str("journey_id", journey.ID).Msg("telemetry accepted")
		writeStatusMessage(w, http.StatusOK, "success", "Telemetry data received")
	case errors.As(err, &missing):
		writeStatusMessage(w, http.StatusBadRequest, "error", missing.Error())
	default:
		logging.Error().Err(err).Msg("telemetry submission failed")
		writeStatusMessage(w, http.StatusInternalServerError, "error", err.Error())
	}
}

// Journeys returns the ranked journey list.
func (h *Handler) Journeys(w http.ResponseWriter, r *http.Request) {
	list, err := h.feed.RecentJourneys(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list journeys", err)
		return
	}
	respondSuccess(w, list)
}

// Journey returns one journey summary.
func (h *Handler) Journey(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyID")
	journey, err := h.feed.Journey(r.Context(), journeyID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "journey not found", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load journey", err)
	default:
		respondSuccess(w, journey)
	}
}

// JourneyHistory returns the full point history in route replay order.
// A journey with no points yields an empty list, not 404.
func (h *Handler) JourneyHistory(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyID")
	points, err := h.feed.History(r.Context(), journeyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load history", err)
		return
	}
	respondSuccess(w, points)
}

// LatestPoint returns the most recently received point for a journey.
func (h *Handler) LatestPoint(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyID")
	point, err := h.feed.LatestPoint(r.Context(), journeyID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no points for journey", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load point", err)
	default:
		respondSuccess(w, point)
	}
}

// modeRequest is the body for mode set and report calls.
type modeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

// SetDeviceMode records an operator mode request.
func (h *Handler) SetDeviceMode(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), nil)
		return
	}

	state, err := h.control.SetMode(r.Context(), deviceID, req.Mode)
	var unknown *devicecontrol.UnknownModeError
	switch {
	case errors.As(err, &unknown):
		respondError(w, http.StatusBadRequest, "INVALID_MODE", unknown.Error(), nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to set mode", err)
	default:
		respondSuccess(w, state)
	}
}

// ReportDeviceMode records the mode a device reports itself running in.
func (h *Handler) ReportDeviceMode(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
		return
	}

	state, err := h.control.ReportMode(r.Context(), deviceID, req.Mode)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to record mode report", err)
		return
	}
	respondSuccess(w, state)
}

// DeviceState returns the control record for a device.
func (h *Handler) DeviceState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	state, err := h.control.State(r.Context(), deviceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load device state", err)
	default:
		respondSuccess(w, state)
	}
}

// loginRequest is the body for the token-issuing endpoint.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login verifies operator credentials and issues a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), nil)
		return
	}

	token, err := h.jwt.Login(req.Username, req.Password)
	if err != nil {
		// Same response for unknown user and wrong password.
		respondError(w, http.StatusUnauthorized, "AUTH_FAILED", "invalid credentials", nil)
		return
	}
	respondSuccess(w, map[string]string{"token": token})
}

// WebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(h.hub, w, r)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, map[string]string{"status": "healthy"})
}
