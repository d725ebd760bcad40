package notify

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/pkg/response"
)

// Handler serves the notification feed endpoints.
type Handler struct {
	hub    *Hub
	lookup UserLookup
	logger *zap.Logger
}

// NewHandler creates a notification handler.
func NewHandler(hub *Hub, lookup UserLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, lookup: lookup, logger: logger}
}

// List returns the caller's feed. GET /api/notifications
func (h *Handler) List(c *gin.Context) {
	userID, ok := h.lookup(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	response.OK(c, h.hub.Center().Feed(userID))
}

// MarkRead marks one notification read. POST /api/notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := h.lookup(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	changed := h.hub.MarkRead(userID, c.Param("id"))
	response.OK(c, gin.H{"changed": changed, "unreadCount": h.hub.Center().UnreadCount(userID)})
}

// MarkAllRead marks the caller's whole feed read. POST /api/notifications/read
func (h *Handler) MarkAllRead(c *gin.Context) {
	userID, ok := h.lookup(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	n := h.hub.MarkAllRead(userID)
	response.OK(c, gin.H{"changed": n, "unreadCount": 0})
}
