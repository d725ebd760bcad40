// Package profile serves the signed-in user's profile.
package profile

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/pkg/response"
)

// UpdateRequest is the body for PATCH /api/profile. Absent fields are left untouched.
type UpdateRequest struct {
	FirstName *string `json:"firstName" binding:"omitempty,max=100"`
	LastName  *string `json:"lastName" binding:"omitempty,max=100"`
	Email     *string `json:"email" binding:"omitempty,email"`
	Age       *int    `json:"age" binding:"omitempty,min=13,max=120"`
	Gender    *string `json:"gender" binding:"omitempty,oneof=male female other prefer_not_to_say"`
}

func (r UpdateRequest) params() models.UpdateUserParams {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	return models.UpdateUserParams{
		FirstName: trim(r.FirstName),
		LastName:  trim(r.LastName),
		Email:     trim(r.Email),
		Age:       r.Age,
		Gender:    r.Gender,
	}
}

func (r UpdateRequest) empty() bool {
	return r.FirstName == nil && r.LastName == nil && r.Email == nil && r.Age == nil && r.Gender == nil
}

// View is the profile screen payload.
type View struct {
	User        models.Identity `json:"user"`
	DisplayName string          `json:"displayName"`
	Initials    string          `json:"initials"`
}

func viewOf(u models.Identity) View {
	return View{User: u, DisplayName: u.DisplayName(), Initials: u.Initials()}
}

// Handler handles profile HTTP endpoints.
type Handler struct {
	audit  audit.Sink
	logger *zap.Logger
}

// NewHandler creates a profile handler.
func NewHandler(sink audit.Sink, logger *zap.Logger) *Handler {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{audit: sink, logger: logger}
}

// Get handles GET /api/profile with the canonical identity.
func (h *Handler) Get(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	me, err := s.API().Me(ctx)
	if err != nil {
		console.Fail(c, err, "failed to load profile")
		return
	}
	if err := s.SessionStore().SetUser(ctx, &me); err != nil {
		h.logger.Warn("store identity", zap.String("session", s.Tag()), zap.Error(err))
	}
	response.OK(c, viewOf(me))
}

// Update handles PATCH /api/profile.
func (h *Handler) Update(c *gin.Context) {
	var body UpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.empty() {
		response.BadRequest(c, "nothing to update")
		return
	}
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	me, err := s.API().UpdateMe(ctx, body.params())
	if err != nil {
		console.Fail(c, err, "failed to update profile")
		return
	}
	if err := s.SessionStore().SetUser(ctx, &me); err != nil {
		h.logger.Warn("store identity", zap.String("session", s.Tag()), zap.Error(err))
	}
	h.audit.Record(ctx, audit.Event{Action: audit.ActionProfileUpdated, SessionTag: s.Tag(), UserID: me.ID, Outcome: "success"})
	response.OK(c, viewOf(me))
}
