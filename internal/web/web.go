// Package web renders the server-side dashboard shell. Every page embeds the
// request's bootstrap snapshot as JSON so the browser starts from the same
// state the server saw.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/auth"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/invitations"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/tenant"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{"login", "signup", "dashboard", "members", "profile", "accept", "loading", "forbidden"}

// Page is the data every template receives.
type Page struct {
	Name      string
	Title     string
	Bootstrap bootstrap.Public
	User      *models.Identity
	Tenant    tenant.Context
	Access    gate.Access
	Next      string
	Data      any
}

// Pages renders the console's HTML pages.
type Pages struct {
	templates map[string]*template.Template
	logger    *zap.Logger
	now       func() time.Time
}

// NewPages parses the embedded templates.
func NewPages(logger *zap.Logger) (*Pages, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pages{templates: make(map[string]*template.Template, len(pageNames)), logger: logger, now: time.Now}
	for _, name := range pageNames {
		t, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// GateOptions returns gate options that render the loading and forbidden pages.
func (p *Pages) GateOptions() gate.Options {
	return gate.Options{Loading: p.Loading, Forbidden: p.Forbidden}
}

func (p *Pages) render(c *gin.Context, status int, page Page) {
	if s, ok := console.FromContext(c); ok {
		state := s.SessionStore().Snapshot()
		page.User = state.User
		page.Tenant = s.TenantStore().Snapshot()
		page.Access = s.Access()
		page.Bootstrap = bootstrap.Public{
			IsAuthenticated:     s.IsAuthenticated(),
			User:                state.User,
			CurrentOrganization: page.Tenant.CurrentOrganization,
			CurrentRole:         page.Tenant.CurrentRole,
		}
	}
	c.Header("Cache-Control", "no-store")
	c.Render(status, render.HTML{Template: p.templates[page.Name], Name: "layout", Data: page})
}

// Loading writes the placeholder shown while a session is unresolved.
func (p *Pages) Loading(c *gin.Context) {
	p.render(c, http.StatusServiceUnavailable, Page{Name: "loading", Title: "Loading"})
}

// Forbidden writes the role denial page.
func (p *Pages) Forbidden(c *gin.Context) {
	p.render(c, http.StatusForbidden, Page{Name: "forbidden", Title: "Access denied"})
}

// Login handles GET /login. A signed-in visitor goes straight to next.
func (p *Pages) Login(c *gin.Context) {
	p.entry(c, "login", "Sign in")
}

// Signup handles GET /signup.
func (p *Pages) Signup(c *gin.Context) {
	p.entry(c, "signup", "Create account")
}

func (p *Pages) entry(c *gin.Context, name, title string) {
	next := auth.SafeNext(c.Query("next"))
	if s, ok := console.FromContext(c); ok && s.IsAuthenticated() {
		c.Redirect(http.StatusFound, next)
		return
	}
	p.render(c, http.StatusOK, Page{Name: name, Title: title, Next: next})
}

// Dashboard handles GET /dashboard.
func (p *Pages) Dashboard(c *gin.Context) {
	p.render(c, http.StatusOK, Page{Name: "dashboard", Title: "Dashboard"})
}

// Profile handles GET /profile.
func (p *Pages) Profile(c *gin.Context) {
	p.render(c, http.StatusOK, Page{Name: "profile", Title: "Profile"})
}

// MemberRow is one line of the members table.
type MemberRow struct {
	UserID   string
	Name     string
	Email    string
	Role     models.Role
	Status   models.MemberStatus
	Editable bool
}

// TabLink is one status tab of the members screen.
type TabLink struct {
	Tab     models.StatusTab
	Label   string
	Count   int
	Current bool
}

// MembersData backs the members page.
type MembersData struct {
	Tabs  []TabLink
	Rows  []MemberRow
	Roles []models.Role
	Error string
}

// Members handles GET /members?status=. A failed fetch renders an empty
// table with the error.
func (p *Pages) Members(c *gin.Context) {
	tab := models.StatusTab(c.Query("status"))
	if !tab.Valid() {
		tab = models.TabActive
	}
	data := MembersData{Roles: models.AssignableRoles}

	var all []models.Membership
	if s, ok := console.FromContext(c); ok {
		if orgID := s.CurrentOrganizationID(); orgID != "" {
			list, err := s.API().Members(c.Request.Context(), orgID)
			if err != nil {
				p.logger.Info("members page fetch failed", zap.String("session", s.Tag()), zap.Error(err))
				data.Error = "Members could not be loaded."
			}
			all = list
		}
	}
	for _, t := range []struct {
		tab   models.StatusTab
		label string
	}{{models.TabActive, "Active"}, {models.TabInvited, "Invited"}, {models.TabOther, "Suspended & left"}} {
		data.Tabs = append(data.Tabs, TabLink{Tab: t.tab, Label: t.label, Count: len(models.FilterMembers(all, t.tab)), Current: t.tab == tab})
	}
	for _, m := range models.FilterMembers(all, tab) {
		row := MemberRow{UserID: m.UserID, Name: m.User.Name(), Role: m.Role, Status: m.Status, Editable: !m.IsOwner()}
		if m.User != nil {
			row.Email = m.User.Email
		}
		data.Rows = append(data.Rows, row)
	}
	p.render(c, http.StatusOK, Page{Name: "members", Title: "Members", Data: data})
}

// AcceptData backs the invitation accept page.
type AcceptData struct {
	State     string
	Error     string
	Token     string
	Next      string
	Countdown string
	Details   models.InvitationDetails
}

// AcceptInvite handles GET /invites/accept?token=. It is public.
func (p *Pages) AcceptInvite(c *gin.Context) {
	token := c.Query("token")
	data := AcceptData{Token: token, Next: "/invites/accept?token=" + url.QueryEscape(token)}
	switch s, ok := console.FromContext(c); {
	case token == "":
		data.State = "missing_token"
	case !ok:
		data.State = "error"
		data.Error = "Session unavailable. Please reload."
	default:
		d, err := s.API().InvitationDetails(c.Request.Context(), token)
		if err != nil {
			data.State = "error"
			data.Error = "This invitation could not be found."
			break
		}
		now := p.now()
		data.Details = d
		data.State = string(invitations.StateOf(d, now))
		data.Countdown = d.Invitation.CountdownLabel(now)
	}
	p.render(c, http.StatusOK, Page{Name: "accept", Title: "Invitation", Data: data})
}
