package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatline-backend/pkg/logger"
	"chatline-backend/pkg/metrics"
)

// Event is the wire envelope for every outbound frame
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is the connection registry: it maps live connections to the rooms
// they joined, one room per conversation. Membership is transient and
// rebuilt from zero on restart; clients re-join after reconnecting.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[uuid.UUID]map[*Client]bool
	clientRooms map[*Client]map[uuid.UUID]struct{}

	metrics *metrics.Metrics
}

// NewHub creates an empty hub. metrics may be nil in tests.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:       make(map[uuid.UUID]map[*Client]bool),
		clientRooms: make(map[*Client]map[uuid.UUID]struct{}),
		metrics:     m,
	}
}

// Join registers a connection into the room for a conversation. Joining is
// idempotent; membership verification is the caller's precondition.
func (h *Hub) Join(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][client] = true

	if h.clientRooms[client] == nil {
		h.clientRooms[client] = make(map[uuid.UUID]struct{})
	}
	h.clientRooms[client][conversationID] = struct{}{}
}

// LeaveAll removes a connection from every room it occupied. Invoked on
// disconnect; in-flight calls are not affected, only fan-out stops.
func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conversationID := range h.clientRooms[client] {
		if clients, ok := h.rooms[conversationID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, conversationID)
			}
		}
	}
	delete(h.clientRooms, client)
}

// RoomSize reports the number of connections in a conversation's room
func (h *Hub) RoomSize(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Broadcast sends an event to every connection in the room
func (h *Hub) Broadcast(conversationID uuid.UUID, event string, payload interface{}) {
	h.fanOut(conversationID, event, payload, nil)
}

// BroadcastExceptUser sends an event to every connection in the room except
// those belonging to the given user
func (h *Hub) BroadcastExceptUser(conversationID, userID uuid.UUID, event string, payload interface{}) {
	h.fanOut(conversationID, event, payload, func(c *Client) bool {
		return c.userID != userID
	})
}

// BroadcastToUser sends an event only to the given user's connections in
// the room
func (h *Hub) BroadcastToUser(conversationID, userID uuid.UUID, event string, payload interface{}) {
	h.fanOut(conversationID, event, payload, func(c *Client) bool {
		return c.userID == userID
	})
}

// BroadcastExceptClient sends an event to every connection in the room
// except the emitting one. Used for pure relays like typing and signaling.
func (h *Hub) BroadcastExceptClient(conversationID uuid.UUID, sender *Client, event string, payload interface{}) {
	h.fanOut(conversationID, event, payload, func(c *Client) bool {
		return c != sender
	})
}

// fanOut marshals the envelope once and enqueues it on every matching
// connection. Enqueueing is non-blocking: a client whose buffer is full is
// closed rather than allowed to stall the room.
func (h *Hub) fanOut(conversationID uuid.UUID, event string, payload interface{}, include func(*Client) bool) {
	frame, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		logger.Error("failed to marshal event",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.rooms[conversationID]
	targets := make([]*Client, 0, len(clients))
	for client := range clients {
		if include == nil || include(client) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.trySend(frame) {
			if h.metrics != nil {
				h.metrics.RecordDroppedEvent()
			}
			logger.Warn("dropping slow websocket client",
				zap.String("user_id", client.userID.String()))
		} else if h.metrics != nil {
			h.metrics.RecordWebSocketEvent(event, "out")
		}
	}
}
