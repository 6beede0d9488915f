package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks admitted connections and the per-session rooms used for
// message fan-out. Sends are non-blocking: a client whose buffer is full
// misses the message rather than stalling the sender.
type Hub struct {
	mu sync.RWMutex
	// connectionID -> client, every admitted connection
	clients map[string]*Client
	// sessionID -> connectionID -> client
	rooms map[string]map[string]*Client

	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger,
	}
}

// Register admits a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client admitted", zap.String("conn_id", c.ID))
}

// Unregister removes a client from the hub and from any room it is in.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	for sessionID, members := range h.rooms {
		if _, ok := members[c.ID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(h.rooms, sessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client removed", zap.String("conn_id", c.ID))
}

// JoinRoom adds a client to a session's room.
func (h *Hub) JoinRoom(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]*Client)
	}
	h.rooms[sessionID][c.ID] = c
}

// LeaveRoom removes a connection from a session's room.
func (h *Hub) LeaveRoom(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[sessionID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// CloseRoom evicts every connection from a session's room.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
}

// BroadcastRoom sends a message to every room member except exceptConnID
// (empty to reach all members). Delivery order per recipient follows the
// sender's event order; fan-out across recipients is unordered.
func (h *Hub) BroadcastRoom(sessionID, exceptConnID string, msg WSMessage) {
	h.mu.RLock()
	members := h.rooms[sessionID]
	targets := make([]*Client, 0, len(members))
	for id, c := range members {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// BroadcastAll sends a message to every admitted connection except
// exceptConnID, for session lifecycle announcements.
func (h *Hub) BroadcastAll(exceptConnID string, msg WSMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// SendToConn sends a message to a single connection, if still admitted.
func (h *Hub) SendToConn(connID string, msg WSMessage) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		c.enqueue(msg)
	}
}

// ConnectionCount returns the number of admitted connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections in a session's room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
