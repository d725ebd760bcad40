package organizations

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/pkg/response"
)

// Handler handles organization HTTP endpoints.
type Handler struct {
	repo   *Repository
	audit  audit.Sink
	logger *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(repo *Repository, sink audit.Sink, logger *zap.Logger) *Handler {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, audit: sink, logger: logger}
}

// CreateOrganizationRequest is the body for POST /api/organizations.
type CreateOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// SwitchOrganizationRequest is the body for POST /api/organizations/switch.
type SwitchOrganizationRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
}

// Selection is the tenant state after a create or a switch.
type Selection struct {
	Organization models.Organization `json:"organization"`
	Role         models.Role         `json:"role"`
	Access       gate.Access         `json:"access"`
}

// ListMyOrganizations handles GET /api/organizations.
func (h *Handler) ListMyOrganizations(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	orgs, err := h.repo.List(c.Request.Context(), s)
	if err != nil && orgs == nil {
		console.Fail(c, err, "failed to load organizations")
		return
	}
	if err != nil {
		h.logger.Warn("organization list not stored", zap.String("session", s.Tag()), zap.Error(err))
	}
	response.OK(c, orgs)
}

// CreateOrganization handles POST /api/organizations. The new organization
// becomes the current one.
func (h *Handler) CreateOrganization(c *gin.Context) {
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if n := utf8.RuneCountInString(body.Name); n < 1 || n > 255 {
		response.BadRequest(c, "name must be 1–255 characters")
		return
	}
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	org, role, err := h.repo.Create(ctx, s, body.Name)
	if err != nil && org.ID == "" {
		console.Fail(c, err, "failed to create organization")
		return
	}
	if err != nil {
		h.logger.Warn("organization created without role", zap.String("session", s.Tag()), zap.String("organization", org.ID), zap.Error(err))
	}
	h.audit.Record(ctx, audit.Event{
		Action:         audit.ActionCreateOrganization,
		SessionTag:     s.Tag(),
		UserID:         s.UserID(),
		OrganizationID: org.ID,
		Outcome:        "success",
	})
	response.Created(c, Selection{Organization: org, Role: role, Access: s.Access()})
}

// SwitchOrganization handles POST /api/organizations/switch.
func (h *Handler) SwitchOrganization(c *gin.Context) {
	var body SwitchOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "organizationId required")
		return
	}
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	org, role, err := h.repo.Switch(ctx, s, body.OrganizationID)
	if errors.Is(err, ErrNotListed) {
		response.NotFound(c, "Organization not found")
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "role_unknown"
		h.logger.Info("switched without role", zap.String("session", s.Tag()), zap.String("organization", org.ID), zap.Error(err))
	}
	h.audit.Record(ctx, audit.Event{
		Action:         audit.ActionSwitchOrganization,
		SessionTag:     s.Tag(),
		UserID:         s.UserID(),
		OrganizationID: org.ID,
		Outcome:        outcome,
	})
	response.OK(c, Selection{Organization: org, Role: role, Access: s.Access()})
}
