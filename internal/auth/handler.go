// Package auth serves the login, registration, logout and session endpoints
// of the console.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/tenant"
	"github.com/aura-saas/console/pkg/response"
)

// DefaultNext is where a successful login lands when no safe target is given.
const DefaultNext = "/dashboard"

// LoginRequest is the body for POST /api/auth/login and /api/auth/register.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Next     string `json:"next"`
}

// SessionView is the browser-safe view of a session; tokens never leave the server.
type SessionView struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *models.Identity `json:"user"`
	Tenant          tenant.Context   `json:"tenant"`
	Access          gate.Access      `json:"access"`
	Next            string           `json:"next,omitempty"`
}

// OrgCache is the cached organization list that must be dropped when the
// user behind a session changes.
type OrgCache interface {
	ForgetOrganizations(key string)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	orgs   OrgCache
	audit  audit.Sink
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(orgs OrgCache, sink audit.Sink, logger *zap.Logger) *Handler {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orgs: orgs, audit: sink, logger: logger}
}

// Login handles POST /api/auth/login. A rejected login is reported inline and
// leaves the session untouched.
func (h *Handler) Login(c *gin.Context) {
	h.authenticate(c, false)
}

// Register handles POST /api/auth/register and signs the new user in.
func (h *Handler) Register(c *gin.Context) {
	h.authenticate(c, true)
}

func (h *Handler) authenticate(c *gin.Context, register bool) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	creds := models.Credentials{Email: strings.TrimSpace(req.Email), Password: req.Password}

	var (
		resp models.LoginResponse
		err  error
	)
	action, fallback := audit.ActionLogin, "Login failed. Please try again."
	if register {
		action, fallback = audit.ActionRegister, "Registration failed. Please try again."
		resp, err = s.API().Register(ctx, creds)
	} else {
		resp, err = s.API().Login(ctx, creds)
	}
	if err != nil {
		h.logger.Info("authentication rejected", zap.String("session", s.Tag()), zap.Int("status", apiclient.StatusOf(err)))
		if !register {
			h.audit.Record(ctx, audit.Event{
				Action:     audit.ActionLoginFailed,
				SessionTag: s.Tag(),
				Outcome:    http.StatusText(apiclient.StatusOf(err)),
			})
		}
		console.Fail(c, err, fallback)
		return
	}
	if resp.AccessToken == "" {
		response.BadGateway(c, fallback)
		return
	}

	previous := s.UserID()
	if err := s.SessionStore().Login(ctx, resp.User, resp.AccessToken, resp.RefreshToken); err != nil {
		h.logger.Warn("persist session failed", zap.String("session", s.Tag()), zap.Error(err))
	}
	if resp.User == nil {
		if me, err := s.API().Me(ctx); err == nil {
			_ = s.SessionStore().SetUser(ctx, &me)
		}
	}
	if user := s.SessionStore().Snapshot().User; user == nil || user.ID != previous {
		h.resetTenant(ctx, s)
	}

	h.audit.Record(ctx, audit.Event{Action: action, SessionTag: s.Tag(), UserID: s.UserID(), Outcome: "success"})
	view := h.view(s)
	view.Next = SafeNext(req.Next)
	if register {
		response.Created(c, view)
		return
	}
	response.OK(c, view)
}

// Logout handles POST /api/auth/logout. The backend call is best effort;
// the local session is always torn down.
func (h *Handler) Logout(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := s.UserID()
	if s.IsAuthenticated() {
		if err := s.API().Logout(ctx); err != nil {
			h.logger.Info("backend logout failed", zap.String("session", s.Tag()), zap.Error(err))
		}
	}
	if err := s.SessionStore().Logout(ctx); err != nil {
		h.logger.Warn("clear session failed", zap.String("session", s.Tag()), zap.Error(err))
	}
	h.resetTenant(ctx, s)
	h.audit.Record(ctx, audit.Event{Action: audit.ActionLogout, SessionTag: s.Tag(), UserID: userID, Outcome: "success"})
	response.OK(c, h.view(s))
}

// Session handles GET /api/session.
func (h *Handler) Session(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	response.OK(c, h.view(s))
}

func (h *Handler) resetTenant(ctx context.Context, s *console.Session) {
	if err := s.TenantStore().ClearOrganizations(ctx); err != nil {
		h.logger.Warn("clear organizations failed", zap.String("session", s.Tag()), zap.Error(err))
	}
	if h.orgs != nil {
		h.orgs.ForgetOrganizations(s.Key())
	}
}

func (h *Handler) view(s *console.Session) SessionView {
	snap := s.SessionStore().Snapshot()
	tc := s.TenantStore().Snapshot()
	return SessionView{
		IsAuthenticated: snap.IsAuthenticated,
		User:            snap.User,
		Tenant:          tc,
		Access:          gate.AccessFrom(tc),
	}
}

// SafeNext accepts only same-site absolute paths as a post-login target.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return DefaultNext
	}
	if strings.HasPrefix(next, "/login") || strings.HasPrefix(next, "/signup") {
		return DefaultNext
	}
	return next
}
