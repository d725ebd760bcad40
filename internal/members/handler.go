// Package members serves the members screen: the member list of the current
// organization and the role, status and removal mutations.
package members

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/notify"
	"github.com/aura-saas/console/pkg/response"
)

// Notifier delivers a transient notification to a user.
type Notifier interface {
	Push(ctx context.Context, n notify.Notification)
}

// RoleRequest is the body for PATCH /api/members/:userId/role.
type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// StatusRequest is the body for PATCH /api/members/:userId/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// MemberList is the members screen payload.
type MemberList struct {
	Organization string                   `json:"organizationId"`
	Tab          models.StatusTab         `json:"tab"`
	Members      []models.Membership      `json:"members"`
	Counts       map[models.StatusTab]int `json:"counts"`
}

// Handler handles member HTTP endpoints.
type Handler struct {
	notifier Notifier
	audit    audit.Sink
	logger   *zap.Logger
}

// NewHandler creates a members handler. notifier may be nil.
func NewHandler(notifier Notifier, sink audit.Sink, logger *zap.Logger) *Handler {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{notifier: notifier, audit: sink, logger: logger}
}

// List handles GET /api/members?status=active|invited|other.
func (h *Handler) List(c *gin.Context) {
	tab := models.StatusTab(c.Query("status"))
	if tab != "" && !tab.Valid() {
		response.BadRequest(c, "status must be active, invited or other")
		return
	}
	s, orgID, ok := current(c)
	if !ok {
		return
	}
	all, err := s.API().Members(c.Request.Context(), orgID)
	if err != nil {
		console.Fail(c, err, "failed to load members")
		return
	}
	counts := make(map[models.StatusTab]int, len(models.StatusTabs))
	for _, t := range models.StatusTabs {
		counts[t] = len(models.FilterMembers(all, t))
	}
	response.OK(c, MemberList{Organization: orgID, Tab: tab, Members: models.FilterMembers(all, tab), Counts: counts})
}

// UpdateRole handles PATCH /api/members/:userId/role.
func (h *Handler) UpdateRole(c *gin.Context) {
	var body RoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "role required")
		return
	}
	role := models.ParseRole(body.Role)
	h.mutate(c, audit.ActionMemberRoleChanged, "Could not change role", func(ctx context.Context, s *console.Session, target models.Membership) (any, error) {
		if err := target.CheckRoleChange(role); err != nil {
			return nil, err
		}
		return s.API().UpdateMemberRole(ctx, target.OrganizationID, target.UserID, role)
	})
}

// UpdateStatus handles PATCH /api/members/:userId/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var body StatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "status required")
		return
	}
	status, known := models.ParseMemberStatus(body.Status)
	h.mutate(c, audit.ActionMemberStatus, "Could not change status", func(ctx context.Context, s *console.Session, target models.Membership) (any, error) {
		if !known {
			return nil, models.ErrInvalidTransition
		}
		if err := target.CheckStatusChange(status); err != nil {
			return nil, err
		}
		return s.API().UpdateMemberStatus(ctx, target.OrganizationID, target.UserID, status)
	})
}

// Remove handles DELETE /api/members/:userId.
func (h *Handler) Remove(c *gin.Context) {
	h.mutate(c, audit.ActionMemberRemoved, "Could not remove member", func(ctx context.Context, s *console.Session, target models.Membership) (any, error) {
		if err := target.CheckRemoval(); err != nil {
			return nil, err
		}
		if err := s.API().RemoveMember(ctx, target.OrganizationID, target.UserID); err != nil {
			return nil, err
		}
		return gin.H{"userId": target.UserID}, nil
	})
}

type mutation func(ctx context.Context, s *console.Session, target models.Membership) (any, error)

// mutate loads the target membership, runs fn and reports the outcome. A
// failure leaves the stores untouched and notifies the caller.
func (h *Handler) mutate(c *gin.Context, action audit.Action, title string, fn mutation) {
	s, orgID, ok := current(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := c.Param("userId")

	target, err := findMember(ctx, s, orgID, userID)
	if err == nil {
		var out any
		out, err = fn(ctx, s, target)
		if err == nil {
			h.audit.Record(ctx, audit.Event{
				Action:         action,
				SessionTag:     s.Tag(),
				UserID:         s.UserID(),
				OrganizationID: orgID,
				Outcome:        "success",
				Metadata:       map[string]any{"member": userID},
			})
			response.OK(c, out)
			return
		}
	}

	h.logger.Info("member mutation failed",
		zap.String("session", s.Tag()),
		zap.String("action", string(action)),
		zap.String("member", userID),
		zap.Error(err),
	)
	if !errors.Is(err, apiclient.ErrRefreshFailed) {
		h.notify(ctx, s, title, err)
	}
	switch {
	case errors.Is(err, errNotFound):
		response.NotFound(c, "Member not found")
	case errors.Is(err, models.ErrOwnerImmutable):
		response.Forbidden(c, err.Error())
	case errors.Is(err, models.ErrInvalidRole):
		response.BadRequest(c, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		response.Error(c, http.StatusConflict, err.Error())
	default:
		console.Fail(c, err, title)
	}
}

func (h *Handler) notify(ctx context.Context, s *console.Session, title string, err error) {
	if h.notifier == nil || s.UserID() == "" {
		return
	}
	msg := "The server could not complete the request. Please try again."
	switch {
	case apiclient.StatusOf(err) != 0:
		msg = apiclient.MessageOf(err)
	case errors.Is(err, errNotFound) || isLocal(err):
		msg = err.Error()
	}
	h.notifier.Push(ctx, notify.ActionFailed(s.UserID(), title, msg, "/members"))
}

var errNotFound = errors.New("member not found")

func isLocal(err error) bool {
	return errors.Is(err, models.ErrOwnerImmutable) || errors.Is(err, models.ErrInvalidRole) || errors.Is(err, models.ErrInvalidTransition)
}

func findMember(ctx context.Context, s *console.Session, orgID, userID string) (models.Membership, error) {
	all, err := s.API().Members(ctx, orgID)
	if err != nil {
		return models.Membership{}, err
	}
	for _, m := range all {
		if m.UserID == userID {
			return m, nil
		}
	}
	return models.Membership{}, errNotFound
}

// current returns the session and its selected organization.
func current(c *gin.Context) (*console.Session, string, bool) {
	s, ok := console.Acquire(c)
	if !ok {
		return nil, "", false
	}
	orgID := s.CurrentOrganizationID()
	if orgID == "" {
		response.Conflict(c, "no organization selected")
		return nil, "", false
	}
	return s, orgID, true
}
