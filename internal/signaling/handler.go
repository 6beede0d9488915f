package signaling

import (
	"github.com/gin-gonic/gin"

	"github.com/Javisolarte/api-proliseg-sub002/pkg/response"
)

// Handler exposes the read-only HTTP surface over the registry and hub.
type Handler struct {
	registry *Registry
	hub      *Hub
}

// NewHandler creates the stats/listing handler.
func NewHandler(registry *Registry, hub *Hub) *Handler {
	return &Handler{registry: registry, hub: hub}
}

// Stats returns the current registry and connection counts. Read-only and
// safe to call from any external caller (health checks, metrics
// collectors).
func (h *Handler) Stats(c *gin.Context) {
	response.OK(c, gin.H{
		"active_sessions":    h.registry.SessionCount(),
		"active_connections": h.hub.ConnectionCount(),
	})
}

// ListSessions returns the active-session snapshot, the same view a newly
// admitted WebSocket client receives.
func (h *Handler) ListSessions(c *gin.Context) {
	response.OK(c, h.registry.Snapshot())
}
