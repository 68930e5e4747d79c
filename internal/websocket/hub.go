// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package websocket pushes live feed updates to connected dashboards.
// The hub fans bus events out to clients; clients that cannot keep up
// are dropped rather than allowed to block the broadcast path.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/waymark-io/waymark/internal/logging"
	"github.com/waymark-io/waymark/internal/models"
)

// Message types pushed to dashboard clients.
const (
	MessageTypePoint       = "point"
	MessageTypeJourneyList = "journey_list"
	MessageTypeModeStatus  = "mode_status"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// Message is the websocket wire envelope.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// done is closed whenever no Serve loop is receiving on the
	// lifecycle channels, so pumps can detach without blocking.
	done chan struct{}
}

// NewHub creates a Hub. Until Serve runs, lifecycle operations take the
// direct path instead of the channel one.
func NewHub() *Hub {
	done := make(chan struct{})
	close(done)
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       done,
	}
}

func (h *Hub) doneCh() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}

// attach adds a client, going through the serve loop when one is
// receiving and directly otherwise.
func (h *Hub) attach(client *Client) {
	select {
	case h.Register <- client:
	case <-h.doneCh():
		h.register(client)
	}
}

// drop removes a client. Must never block: a connection can close while
// the hub is shutting down, after the serve loop stopped receiving.
func (h *Hub) drop(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.doneCh():
		h.unregister(client)
	}
}

// Serve runs the hub until ctx is cancelled, then closes all clients
// and returns ctx.Err(). Designed for supervision; a restart starts
// with a clean client set.
//
// Lifecycle events take priority over broadcasts so client state is
// consistent before messages flow.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	count := h.ClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// broadcastToClients delivers a message to every client in id order.
// A client with a full send buffer is dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("dropped slow websocket client")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastPoint pushes a newly stored point.
func (h *Hub) BroadcastPoint(point *models.Point) {
	h.send(Message{Type: MessageTypePoint, Data: point})
}

// BroadcastJourneyList pushes the ranked journey list.
func (h *Hub) BroadcastJourneyList(journeys []models.Journey) {
	h.send(Message{Type: MessageTypeJourneyList, Data: journeys})
}

// BroadcastModeStatus pushes a device control change.
func (h *Hub) BroadcastModeStatus(state *models.DeviceControlState) {
	h.send(Message{Type: MessageTypeModeStatus, Data: state})
}

func (h *Hub) send(message Message) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
