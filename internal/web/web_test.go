package web

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/console/consoletest"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/pkg/utils"
)

func setup(t *testing.T) *consoletest.Harness {
	t.Helper()
	h := consoletest.New(t, console.Events{})
	pages, err := NewPages(nil)
	require.NoError(t, err)

	opts := pages.GateOptions()
	h.Engine.GET("/login", pages.Login)
	h.Engine.GET("/signup", pages.Signup)
	h.Engine.GET("/invites/accept", pages.AcceptInvite)
	app := h.Engine.Group("", gate.Require(console.Lookup, opts))
	app.GET("/dashboard", pages.Dashboard)
	app.GET("/profile", pages.Profile)
	app.GET("/members", gate.RequireManage(console.Lookup, opts), pages.Members)
	return h
}

var bootstrapScript = regexp.MustCompile(`(?s)<script id="console-bootstrap" type="application/json">(.*?)</script>`)

func embedded(t *testing.T, body string) bootstrap.Public {
	t.Helper()
	m := bootstrapScript.FindStringSubmatch(body)
	require.Len(t, m, 2, "bootstrap script missing")
	var p bootstrap.Public
	require.NoError(t, json.Unmarshal([]byte(m[1]), &p))
	return p
}

func TestTemplatesParse(t *testing.T) {
	p, err := NewPages(nil)
	require.NoError(t, err)
	for _, name := range pageNames {
		assert.NotNil(t, p.templates[name].Lookup("layout"), name)
		assert.NotNil(t, p.templates[name].Lookup("content"), name)
	}
}

func TestDashboardRedirectsAnonymous(t *testing.T) {
	h := setup(t)
	w := h.Browser().Do(t, http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fdashboard", w.Header().Get("Location"))
}

func TestDashboardEmbedsBootstrap(t *testing.T) {
	h := setup(t)
	b := h.Browser()
	b.SignIn(t)

	w := b.Do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Welcome, Ada Lovelace")
	assert.Contains(t, body, "<h2>Acme</h2>")
	assert.Contains(t, body, `data-ws="/ws"`)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	p := embedded(t, body)
	assert.True(t, p.IsAuthenticated)
	require.NotNil(t, p.User)
	assert.Equal(t, "u1", p.User.ID)
	require.NotNil(t, p.CurrentOrganization)
	assert.Equal(t, "o1", p.CurrentOrganization.ID)
	assert.Equal(t, models.RoleOwner, p.CurrentRole)
}

func TestLoginPage(t *testing.T) {
	h := setup(t)
	b := h.Browser()

	w := b.Do(t, http.MethodGet, "/login?next=/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="/members"`)
	assert.False(t, embedded(t, w.Body.String()).IsAuthenticated)

	w = b.Do(t, http.MethodGet, "/login?next=https://evil.example", nil)
	assert.Contains(t, w.Body.String(), `value="/dashboard"`, "external next is dropped")

	b.SignIn(t)
	w = b.Do(t, http.MethodGet, "/signup?next=/profile", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/profile", w.Header().Get("Location"))
}

func TestMembersPage(t *testing.T) {
	h := setup(t)
	b := h.Browser()
	b.SignIn(t)

	w := b.Do(t, http.MethodGet, "/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Active (2)")
	assert.Contains(t, body, "Invited (1)")
	assert.Contains(t, body, "Suspended &amp; left (1)")
	assert.Contains(t, body, "bob@example.com")
	assert.NotContains(t, body, "di@example.com")
	assert.Contains(t, body, `data-member="u2"`)
	assert.NotContains(t, body, `data-member="u1"`, "the owner row is not editable")

	w = b.Do(t, http.MethodGet, "/members?status=other", nil)
	assert.Contains(t, w.Body.String(), "di@example.com")
}

func TestMembersPageShowsFetchError(t *testing.T) {
	h := setup(t)
	b := h.Browser()
	b.SignIn(t)
	h.Backend.Force("GET /organizations/o1/members", http.StatusInternalServerError)

	w := b.Do(t, http.MethodGet, "/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Members could not be loaded.")
	assert.Contains(t, w.Body.String(), "Active (0)")
}

func TestMembersPageForbiddenForMember(t *testing.T) {
	h := setup(t)
	b := h.Browser()
	b.SignIn(t)
	b.Do(t, http.MethodGet, "/dashboard", nil)

	// Drop the stored tenant so the cookies naming Globex seed the next request.
	sid, _ := b.Cookie(cookies.SessionID)
	require.NoError(t, h.Tenants.Delete(context.Background(), utils.HashKey(sid)))
	b.SetCookie(cookies.CurrentOrganization, `{"id":"o2","name":"Globex"}`)
	b.SetCookie(cookies.CurrentRole, "member")

	w := b.Do(t, http.MethodGet, "/members", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Access denied")
}

func TestAcceptInvitePage(t *testing.T) {
	h := setup(t)
	b := h.Browser()

	w := b.Do(t, http.MethodGet, "/invites/accept", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "incomplete")

	w = b.Do(t, http.MethodGet, "/invites/accept?token=tok-o3", nil)
	body := w.Body.String()
	assert.Contains(t, body, "Initech")
	assert.Contains(t, body, "/login?next=%2finvites%2faccept%3ftoken%3dtok-o3")

	w = b.Do(t, http.MethodGet, "/invites/accept?token=nope", nil)
	assert.Contains(t, w.Body.String(), "This invitation could not be found.")

	b.SignIn(t)
	w = b.Do(t, http.MethodGet, "/invites/accept?token=tok-o3", nil)
	assert.Contains(t, w.Body.String(), `action="/api/invitations/tok-o3/accept"`)
	w = b.Do(t, http.MethodGet, "/invites/accept?token=tok-expired", nil)
	assert.Contains(t, w.Body.String(), "expired")
}
