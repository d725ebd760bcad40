// Package invitations serves invitation management for the current
// organization and the public accept flow.
package invitations

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/notify"
	"github.com/aura-saas/console/pkg/response"
)

// State is what the accept page shows for an invitation.
type State string

const (
	StateAcceptable    State = "acceptable"
	StateAlreadyMember State = "already_member"
	StateAlreadyUsed   State = "already_used"
	StateExpired       State = "expired"
)

// StateOf classifies d at now.
func StateOf(d models.InvitationDetails, now time.Time) State {
	switch err := d.CheckAcceptable(now); {
	case errors.Is(err, models.ErrAlreadyMember):
		return StateAlreadyMember
	case errors.Is(err, models.ErrInvitationAccepted):
		return StateAlreadyUsed
	case errors.Is(err, models.ErrInvitationExpired):
		return StateExpired
	}
	return StateAcceptable
}

// Notifier delivers a transient notification to a user.
type Notifier interface {
	Push(ctx context.Context, n notify.Notification)
}

// InvitationView is an invitation with its countdown.
type InvitationView struct {
	models.Invitation
	Countdown string `json:"countdown"`
	Expired   bool   `json:"expired"`
}

// DetailsView is the accept page payload.
type DetailsView struct {
	models.InvitationDetails
	State         State  `json:"state"`
	Countdown     string `json:"countdown"`
	Authenticated bool   `json:"authenticated"`
}

// Accepted is the tenant state after accepting an invitation.
type Accepted struct {
	Membership   models.Membership   `json:"membership"`
	Organization models.Organization `json:"organization"`
	Role         models.Role         `json:"role"`
	Access       gate.Access         `json:"access"`
}

// Handler handles invitation HTTP endpoints.
type Handler struct {
	boot     *bootstrap.Bootstrapper
	notifier Notifier
	audit    audit.Sink
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates an invitations handler. notifier may be nil.
func NewHandler(boot *bootstrap.Bootstrapper, notifier Notifier, sink audit.Sink, logger *zap.Logger) *Handler {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{boot: boot, notifier: notifier, audit: sink, logger: logger, now: time.Now}
}

// List handles GET /api/invitations for the current organization.
func (h *Handler) List(c *gin.Context) {
	s, orgID, ok := current(c)
	if !ok {
		return
	}
	list, err := s.API().Invitations(c.Request.Context(), orgID)
	if err != nil {
		console.Fail(c, err, "failed to load invitations")
		return
	}
	now := h.now()
	out := make([]InvitationView, 0, len(list))
	for _, inv := range list {
		out = append(out, InvitationView{Invitation: inv, Countdown: inv.CountdownLabel(now), Expired: inv.IsExpired(now)})
	}
	response.OK(c, out)
}

// Send handles POST /api/invitations.
func (h *Handler) Send(c *gin.Context) {
	var body models.InviteParams
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "a valid email is required")
		return
	}
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	if body.Role == models.RoleNone {
		body.Role = models.RoleMember
	}
	if body.Role == models.RoleOwner {
		response.BadRequest(c, "role must be admin or member")
		return
	}
	s, orgID, ok := current(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	inv, err := s.API().Invite(ctx, orgID, body)
	if err != nil {
		h.failed(c, s, "Could not send invitation", err)
		return
	}
	h.audit.Record(ctx, audit.Event{
		Action:         audit.ActionInvitationSent,
		SessionTag:     s.Tag(),
		UserID:         s.UserID(),
		OrganizationID: orgID,
		Outcome:        "success",
		Metadata:       map[string]any{"email": inv.Email, "role": string(inv.Role)},
	})
	response.Created(c, InvitationView{Invitation: inv, Countdown: inv.CountdownLabel(h.now())})
}

// Revoke handles DELETE /api/invitations/:id.
func (h *Handler) Revoke(c *gin.Context) {
	s, orgID, ok := current(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.API().RevokeInvitation(ctx, orgID, id); err != nil {
		h.failed(c, s, "Could not revoke invitation", err)
		return
	}
	h.audit.Record(ctx, audit.Event{
		Action:         audit.ActionInvitationRevoked,
		SessionTag:     s.Tag(),
		UserID:         s.UserID(),
		OrganizationID: orgID,
		Outcome:        "success",
		Metadata:       map[string]any{"invitation": id},
	})
	response.OK(c, gin.H{"id": id})
}

// Details handles GET /api/invitations/:token. It is public; membership is
// only known for a signed-in caller.
func (h *Handler) Details(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	d, err := s.API().InvitationDetails(c.Request.Context(), c.Param("token"))
	if err != nil {
		console.Fail(c, err, "failed to load invitation")
		return
	}
	now := h.now()
	response.OK(c, DetailsView{
		InvitationDetails: d,
		State:             StateOf(d, now),
		Countdown:         d.Invitation.CountdownLabel(now),
		Authenticated:     s.IsAuthenticated(),
	})
}

// Accept handles POST /api/invitations/:token/accept. The joined
// organization becomes the current one.
func (h *Handler) Accept(c *gin.Context) {
	s, ok := console.Acquire(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	token := c.Param("token")

	d, err := s.API().InvitationDetails(ctx, token)
	if err != nil {
		console.Fail(c, err, "failed to load invitation")
		return
	}
	if err := d.CheckAcceptable(h.now()); err != nil {
		status := http.StatusConflict
		if errors.Is(err, models.ErrInvitationExpired) {
			status = http.StatusGone
		}
		response.Error(c, status, err.Error())
		return
	}

	m, err := s.API().AcceptInvitation(ctx, token)
	if err != nil {
		console.Fail(c, err, "failed to accept invitation")
		return
	}

	org := d.Organization
	h.boot.ForgetOrganizations(s.Key())
	if list, err := h.boot.Organizations(ctx, s.Key(), s.API()); err != nil {
		h.logger.Warn("organization refresh after accept failed", zap.String("session", s.Tag()), zap.Error(err))
		if err := s.TenantStore().AddOrganization(ctx, org); err != nil {
			h.logger.Warn("store joined organization", zap.String("session", s.Tag()), zap.Error(err))
		}
	} else if err := s.TenantStore().SetOrganizations(ctx, list); err != nil {
		h.logger.Warn("store organizations", zap.String("session", s.Tag()), zap.Error(err))
	}
	if listed, ok := s.TenantStore().Snapshot().Find(m.OrganizationID); ok {
		org = listed
	}
	role, err := bootstrap.SelectOrganization(ctx, s.TenantStore(), s.API(), org)
	if err != nil {
		h.logger.Info("joined organization without role", zap.String("session", s.Tag()), zap.Error(err))
	}

	h.audit.Record(ctx, audit.Event{
		Action:         audit.ActionInvitationAccepted,
		SessionTag:     s.Tag(),
		UserID:         s.UserID(),
		OrganizationID: org.ID,
		Outcome:        "success",
	})
	response.OK(c, Accepted{Membership: m, Organization: org, Role: role, Access: s.Access()})
}

func (h *Handler) failed(c *gin.Context, s *console.Session, title string, err error) {
	h.logger.Info("invitation mutation failed", zap.String("session", s.Tag()), zap.Error(err))
	if h.notifier != nil && s.UserID() != "" && !errors.Is(err, apiclient.ErrRefreshFailed) {
		msg := "The server could not complete the request. Please try again."
		if apiclient.StatusOf(err) != 0 {
			msg = apiclient.MessageOf(err)
		}
		h.notifier.Push(c.Request.Context(), notify.ActionFailed(s.UserID(), title, msg, "/members"))
	}
	console.Fail(c, err, title)
}

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
