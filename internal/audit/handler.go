package audit

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/pkg/response"
)

// Lister reads a user's audit trail.
type Lister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]Event, error)
}

// Handler serves the caller's own activity.
type Handler struct {
	events Lister
	lookup func(c *gin.Context) (string, bool)
	logger *zap.Logger
}

// NewHandler creates an activity handler.
func NewHandler(events Lister, lookup func(c *gin.Context) (string, bool), logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{events: events, lookup: lookup, logger: logger}
}

// Activity handles GET /api/activity?limit=
func (h *Handler) Activity(c *gin.Context) {
	userID, ok := h.lookup(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		response.BadRequest(c, "limit must be between 1 and 200")
		return
	}
	events, err := h.events.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list activity", zap.String("user_id", userID), zap.Error(err))
		response.Internal(c, "failed to load activity")
		return
	}
	if events == nil {
		events = []Event{}
	}
	response.OK(c, events)
}
